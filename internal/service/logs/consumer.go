package logs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/nats-io/nats.go"
)

// StatusObserver receives every ingested line so deployment state can follow
// log content. Implemented by the deploy service.
type StatusObserver interface {
	ObserveLog(ctx context.Context, deploymentID, message string) error
	ObserveOutcome(ctx context.Context, deploymentID, outcome string) error
}

// workerMessage is the wire format build workers publish. "log" is accepted
// as a legacy alias for "message"; "event" carries the structured outcome
// ("succeeded"/"failed") for workers that emit one.
type workerMessage struct {
	DeploymentID string `json:"deployment_id"`
	ProjectID    string `json:"project_id"`
	Message      string `json:"message"`
	Log          string `json:"log"`
	Event        string `json:"event"`
}

// Consumer ingests worker log lines from a JetStream subject with explicit
// acks: a message is acked only after the relay accepted it, so redelivery
// gives at-least-once into the durable store.
type Consumer struct {
	conn     *nats.Conn
	js       nats.JetStreamContext
	sub      *nats.Subscription
	svc      Service
	observer StatusObserver
	logger   *slog.Logger
	stream   string
	subject  string
	durable  string
}

// NewConsumer connects to NATS and ensures the log stream exists.
func NewConsumer(url, stream, subject, durable string, svc Service, observer StatusObserver, logger *slog.Logger) (*Consumer, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     stream,
		Subjects: []string{subject},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		conn.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", stream, err)
	}
	return &Consumer{
		conn:     conn,
		js:       js,
		svc:      svc,
		observer: observer,
		logger:   logger,
		stream:   stream,
		subject:  subject,
		durable:  durable,
	}, nil
}

// Start subscribes with a durable consumer and processes messages until the
// context is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	// One message in flight at a time: a Nak'd line is redelivered before the
	// next one is handed out, so redelivery cannot reorder the durable log.
	sub, err := c.js.Subscribe(c.subject, func(msg *nats.Msg) {
		c.handle(ctx, msg)
	}, nats.Durable(c.durable), nats.ManualAck(), nats.AckExplicit(), nats.MaxAckPending(1))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.subject, err)
	}
	c.sub = sub
	c.logger.Info("log ingress consuming", "stream", c.stream, "subject", c.subject)

	go func() {
		<-ctx.Done()
		c.Close()
	}()
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg *nats.Msg) {
	var wm workerMessage
	if err := json.Unmarshal(msg.Data, &wm); err != nil {
		c.logger.Warn("malformed worker message", "error", err)
		_ = msg.Term()
		return
	}
	if wm.Message == "" {
		wm.Message = wm.Log
	}
	wm.DeploymentID = strings.TrimSpace(wm.DeploymentID)
	if wm.DeploymentID == "" || (wm.Message == "" && wm.Event == "") {
		c.logger.Warn("worker message missing deployment id or content")
		_ = msg.Term()
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if wm.Event != "" {
		if err := c.observer.ObserveOutcome(opCtx, wm.DeploymentID, wm.Event); err != nil {
			c.logger.Warn("outcome update failed", "deployment_id", wm.DeploymentID, "error", err)
			_ = msg.Nak()
			return
		}
		if wm.Message == "" {
			_ = msg.Ack()
			return
		}
	}

	if _, err := c.svc.Append(opCtx, wm.DeploymentID, wm.Message); err != nil {
		// Fail-closed persistence error: keep the message for redelivery.
		c.logger.Warn("log append failed", "deployment_id", wm.DeploymentID, "error", err)
		_ = msg.Nak()
		return
	}
	if err := c.observer.ObserveLog(opCtx, wm.DeploymentID, wm.Message); err != nil {
		c.logger.Warn("status observation failed", "deployment_id", wm.DeploymentID, "error", err)
	}
	_ = msg.Ack()
}

// Close drains the subscription and disconnects.
func (c *Consumer) Close() {
	if c.sub != nil {
		_ = c.sub.Drain()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
