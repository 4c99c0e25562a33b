package logs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/sethvargo/go-retry"

	"github.com/atharvarekhawar/DropIt/internal/domain"
	"github.com/atharvarekhawar/DropIt/internal/repository"
	"github.com/atharvarekhawar/DropIt/internal/ws"
)

// Options tune relay behavior.
type Options struct {
	// FailClosed makes Append return ErrPersistence (and skip fan-out) when
	// the durable store stays down after retries. The default trades
	// auditability for live visibility: viewers keep streaming while the
	// write failure is logged.
	FailClosed bool
	// AppendRetries bounds durable-write retry attempts.
	AppendRetries int
	// SubscriberBuffer bounds each live subscriber's pending events.
	SubscriberBuffer int
}

// Service is the log relay: it moves build-worker lines to the durable store
// and to live subscribers. Events land in the store before fan-out, so a
// polling reader can always reconstruct history the live stream missed.
type Service struct {
	repo        repository.LogRepository
	deployments repository.DeploymentRepository
	hub         *ws.Hub
	logger      *slog.Logger
	opts        Options
}

// New constructs a relay service.
func New(repo repository.LogRepository, deployments repository.DeploymentRepository, hub *ws.Hub, logger *slog.Logger, opts Options) Service {
	if opts.AppendRetries <= 0 {
		opts.AppendRetries = 3
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 100
	}
	return Service{repo: repo, deployments: deployments, hub: hub, logger: logger, opts: opts}
}

// Append persists a log line and fans it out to live subscribers. Duplicate
// appends under at-least-once delivery are tolerated downstream; ordering per
// deployment follows call order.
func (s Service) Append(ctx context.Context, deploymentID, message string) (*domain.LogEvent, error) {
	event := &domain.LogEvent{
		DeploymentID: deploymentID,
		Message:      message,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.persist(ctx, event); err != nil {
		if s.opts.FailClosed {
			return nil, fmt.Errorf("%w: append log: %v", domain.ErrPersistence, err)
		}
		s.logger.Error("durable log write failed, serving live only",
			"deployment_id", deploymentID, "error", err)
	}

	s.broadcast(event)
	return event, nil
}

func (s Service) persist(ctx context.Context, event *domain.LogEvent) error {
	backoff := retry.WithMaxRetries(uint64(s.opts.AppendRetries), retry.NewExponential(100*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.repo.AppendLog(ctx, event); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (s Service) broadcast(event *domain.LogEvent) {
	payload, err := MarshalEvent(event)
	if err != nil {
		s.logger.Warn("failed to marshal log payload", "error", err)
		return
	}
	s.hub.Broadcast(event.DeploymentID, payload)
}

// List returns durable events for a deployment after the cursor, ascending.
func (s Service) List(ctx context.Context, deploymentID string, sinceID int64, limit int) ([]domain.LogEvent, error) {
	if _, err := s.deployments.GetDeploymentByID(ctx, deploymentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: deployment %s", domain.ErrNotFound, deploymentID)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	events, err := s.repo.ListLogsSince(ctx, deploymentID, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list logs: %v", domain.ErrPersistence, err)
	}
	return events, nil
}

// Subscription is a live tail over one deployment's topic. It delivers events
// published after Subscribe; history comes from List.
type Subscription struct {
	events *ws.ChannelSubscriber
	detach func()
}

// C exposes marshaled log events until Close or topic collection.
func (sub *Subscription) C() <-chan []byte {
	return sub.events.C()
}

// Close detaches the subscription from its topic.
func (sub *Subscription) Close() {
	sub.detach()
	sub.events.Close()
}

// Subscribe attaches a channel-backed live subscriber to a deployment topic.
func (s Service) Subscribe(deploymentID string) *Subscription {
	client := ws.NewChannelSubscriber(s.opts.SubscriberBuffer)
	s.hub.Register(deploymentID, client)
	return &Subscription{
		events: client,
		detach: func() { s.hub.Unregister(deploymentID, client) },
	}
}

// Hub returns the fan-out hub (used by HTTP handlers and the deploy service).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

// MarshalEvent formats a log event for streaming payloads.
func MarshalEvent(event *domain.LogEvent) ([]byte, error) {
	return json.Marshal(map[string]any{
		"id":            event.ID,
		"deployment_id": event.DeploymentID,
		"message":       event.Message,
		"created_at":    event.CreatedAt.Format(time.RFC3339Nano),
	})
}
