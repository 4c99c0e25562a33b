package logs

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
)

type recordingObserver struct {
	mu       sync.Mutex
	lines    []string
	outcomes []string
}

func (r *recordingObserver) ObserveLog(ctx context.Context, deploymentID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, deploymentID+"|"+message)
	return nil
}

func (r *recordingObserver) ObserveOutcome(ctx context.Context, deploymentID, outcome string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, deploymentID+"|"+outcome)
	return nil
}

func newTestConsumer(repo *memoryLogRepository) (*Consumer, *recordingObserver) {
	observer := &recordingObserver{}
	c := &Consumer{
		svc:      newTestService(repo, Options{}),
		observer: observer,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return c, observer
}

func TestConsumerHandlePersistsAndObserves(t *testing.T) {
	repo := &memoryLogRepository{}
	c, observer := newTestConsumer(repo)

	c.handle(context.Background(), &nats.Msg{
		Data: []byte(`{"deployment_id":"dep-1","message":"Cloning repository..."}`),
	})

	events, err := repo.ListLogsSince(context.Background(), "dep-1", 0, 0)
	if err != nil {
		t.Fatalf("ListLogsSince: %v", err)
	}
	if len(events) != 1 || events[0].Message != "Cloning repository..." {
		t.Fatalf("line not persisted: %+v", events)
	}
	if len(observer.lines) != 1 || observer.lines[0] != "dep-1|Cloning repository..." {
		t.Fatalf("observer not fed: %v", observer.lines)
	}
}

func TestConsumerHandleAcceptsLegacyLogField(t *testing.T) {
	repo := &memoryLogRepository{}
	c, _ := newTestConsumer(repo)

	c.handle(context.Background(), &nats.Msg{
		Data: []byte(`{"deployment_id":"dep-1","log":"npm install"}`),
	})

	events, _ := repo.ListLogsSince(context.Background(), "dep-1", 0, 0)
	if len(events) != 1 || events[0].Message != "npm install" {
		t.Fatalf("legacy field not relayed: %+v", events)
	}
}

func TestConsumerHandleOutcomeEvent(t *testing.T) {
	repo := &memoryLogRepository{}
	c, observer := newTestConsumer(repo)

	c.handle(context.Background(), &nats.Msg{
		Data: []byte(`{"deployment_id":"dep-1","event":"succeeded"}`),
	})

	if len(observer.outcomes) != 1 || observer.outcomes[0] != "dep-1|succeeded" {
		t.Fatalf("outcome not observed: %v", observer.outcomes)
	}
	if events, _ := repo.ListLogsSince(context.Background(), "dep-1", 0, 0); len(events) != 0 {
		t.Fatalf("bare outcome event should not append a line: %+v", events)
	}
}

func TestConsumerHandleDropsMalformedMessages(t *testing.T) {
	repo := &memoryLogRepository{}
	c, observer := newTestConsumer(repo)

	for _, raw := range []string{
		`not json`,
		`{"message":"no deployment id"}`,
		`{"deployment_id":"dep-1"}`,
	} {
		c.handle(context.Background(), &nats.Msg{Data: []byte(raw)})
	}

	if events, _ := repo.ListLogsSince(context.Background(), "dep-1", 0, 0); len(events) != 0 {
		t.Fatalf("malformed messages reached the store: %+v", events)
	}
	if len(observer.lines) != 0 || len(observer.outcomes) != 0 {
		t.Fatalf("malformed messages reached the observer")
	}
}
