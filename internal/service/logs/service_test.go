package logs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/atharvarekhawar/DropIt/internal/domain"
	"github.com/atharvarekhawar/DropIt/internal/repository"
	"github.com/atharvarekhawar/DropIt/internal/ws"
)

type memoryLogRepository struct {
	mu       sync.Mutex
	events   []domain.LogEvent
	nextID   int64
	failures int
}

func (m *memoryLogRepository) AppendLog(ctx context.Context, event *domain.LogEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("store unavailable")
	}
	m.nextID++
	event.ID = m.nextID
	m.events = append(m.events, *event)
	return nil
}

func (m *memoryLogRepository) ListLogsSince(ctx context.Context, deploymentID string, sinceID int64, limit int) ([]domain.LogEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LogEvent
	for _, e := range m.events {
		if e.DeploymentID == deploymentID && e.ID > sinceID {
			out = append(out, e)
		}
	}
	return out, nil
}

type stubDeploymentRepository struct {
	known map[string]domain.Deployment
}

func (s *stubDeploymentRepository) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	return nil
}

func (s *stubDeploymentRepository) GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error) {
	if d, ok := s.known[id]; ok {
		return &d, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubDeploymentRepository) UpdateDeploymentStatus(ctx context.Context, id, status string) error {
	return nil
}

func (s *stubDeploymentRepository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	return nil, nil
}

func (s *stubDeploymentRepository) GetLatestReadyDeployment(ctx context.Context, projectID string) (*domain.Deployment, error) {
	return nil, repository.ErrNotFound
}

func (s *stubDeploymentRepository) ListStalledDeployments(ctx context.Context, before time.Time) ([]domain.Deployment, error) {
	return nil, nil
}

func newTestService(repo *memoryLogRepository, opts Options) Service {
	deployments := &stubDeploymentRepository{known: map[string]domain.Deployment{
		"dep-1": {ID: "dep-1", ProjectID: "proj-1", Status: domain.StatusInProgress},
	}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(repo, deployments, ws.NewHub(time.Minute), log, opts)
}

func TestAppendPersistsBeforeFanout(t *testing.T) {
	repo := &memoryLogRepository{}
	svc := newTestService(repo, Options{})

	sub := svc.Subscribe("dep-1")
	defer sub.Close()

	if _, err := svc.Append(context.Background(), "dep-1", "hello"); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}

	select {
	case payload := <-sub.C():
		var decoded struct {
			ID      int64  `json:"id"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if decoded.ID != 1 || decoded.Message != "hello" {
			t.Fatalf("unexpected payload: %+v", decoded)
		}
	case <-time.After(time.Second):
		t.Fatalf("no live event delivered")
	}

	events, err := svc.List(context.Background(), "dep-1", 0, 0)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(events) != 1 || events[0].Message != "hello" {
		t.Fatalf("durable store missing event: %+v", events)
	}
}

func TestAppendRetriesTransientWriteFailure(t *testing.T) {
	repo := &memoryLogRepository{failures: 2}
	svc := newTestService(repo, Options{AppendRetries: 3})

	event, err := svc.Append(context.Background(), "dep-1", "retried")
	if err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	if event.ID == 0 {
		t.Fatalf("event was not persisted after retries")
	}
}

func TestAppendFailOpenKeepsLiveStream(t *testing.T) {
	repo := &memoryLogRepository{failures: 100}
	svc := newTestService(repo, Options{AppendRetries: 1})

	sub := svc.Subscribe("dep-1")
	defer sub.Close()

	if _, err := svc.Append(context.Background(), "dep-1", "live only"); err != nil {
		t.Fatalf("fail-open Append returned error: %v", err)
	}
	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatalf("live event not delivered under persistence failure")
	}
}

func TestAppendFailClosedSurfacesPersistenceError(t *testing.T) {
	repo := &memoryLogRepository{failures: 100}
	svc := newTestService(repo, Options{AppendRetries: 1, FailClosed: true})

	if _, err := svc.Append(context.Background(), "dep-1", "lost"); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestListUnknownDeployment(t *testing.T) {
	svc := newTestService(&memoryLogRepository{}, Options{})
	if _, err := svc.List(context.Background(), "missing", 0, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPreservesPublishOrderWithDuplicates(t *testing.T) {
	repo := &memoryLogRepository{}
	svc := newTestService(repo, Options{})

	lines := []string{"cloning", "installing", "installing", "building", "done"}
	for _, line := range lines {
		if _, err := svc.Append(context.Background(), "dep-1", line); err != nil {
			t.Fatalf("Append(%q): %v", line, err)
		}
	}

	events, err := svc.List(context.Background(), "dep-1", 0, 0)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(events) != len(lines) {
		t.Fatalf("expected %d events, got %d", len(lines), len(events))
	}
	var lastID int64
	for i, e := range events {
		if e.Message != lines[i] {
			t.Fatalf("event %d out of order: %q", i, e.Message)
		}
		if e.ID <= lastID {
			t.Fatalf("cursor not strictly increasing at %d", i)
		}
		lastID = e.ID
	}

	// Cursor resumes mid-stream.
	tail, err := svc.List(context.Background(), "dep-1", events[2].ID, 0)
	if err != nil {
		t.Fatalf("List with cursor: %v", err)
	}
	if len(tail) != 2 || tail[0].Message != "building" {
		t.Fatalf("cursor read wrong tail: %+v", tail)
	}
}

func TestSubscribeDeliversOnlyPostSubscribeEvents(t *testing.T) {
	repo := &memoryLogRepository{}
	svc := newTestService(repo, Options{})

	if _, err := svc.Append(context.Background(), "dep-1", "before"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	sub := svc.Subscribe("dep-1")
	defer sub.Close()
	if _, err := svc.Append(context.Background(), "dep-1", "after"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	select {
	case payload := <-sub.C():
		var decoded struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &decoded)
		if decoded.Message != "after" {
			t.Fatalf("live stream replayed history: %q", decoded.Message)
		}
	case <-time.After(time.Second):
		t.Fatalf("no live event delivered")
	}
}
