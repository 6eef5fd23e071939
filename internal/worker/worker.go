// Package worker delivers serious-case notifications off the request path.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/logging"
)

// Sink receives serious-case notifications.
type Sink interface {
	Notify(ctx context.Context, event domain.CaseEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event domain.CaseEvent) error

// Notify calls f.
func (f SinkFunc) Notify(ctx context.Context, event domain.CaseEvent) error {
	return f(ctx, event)
}

// LogSink writes each notification as a structured log line.
type LogSink struct {
	Logger *slog.Logger
}

// Notify logs the event at warn level so it stands out from request logs.
func (s LogSink) Notify(ctx context.Context, event domain.CaseEvent) error {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	log.WarnContext(ctx, "serious case reported",
		"case_id", event.CaseID,
		"prediction", event.Prediction,
		"label", event.Prediction.Label(),
		"actor", event.Actor,
		"reasoning", event.Reasoning,
		"at", event.Timestamp,
	)
	return nil
}

// Notifier subscribes to serious-case events and hands them to a Sink.
type Notifier struct {
	bus  domain.EventBus
	sink Sink
	log  *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	delivered atomic.Int64
	failed    atomic.Int64
}

// NewNotifier creates a notifier. A nil sink logs notifications.
func NewNotifier(bus domain.EventBus, sink Sink) *Notifier {
	log := logging.New("notifier")
	if sink == nil {
		sink = LogSink{Logger: log}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		bus:    bus,
		sink:   sink,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the serious-case topic.
func (n *Notifier) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.ctx.Err() != nil {
		return fmt.Errorf("notifier is stopped")
	}

	sub, err := n.bus.Subscribe(n.ctx, domain.TopicCaseSerious, n.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicCaseSerious, err)
	}
	n.subscriptions = append(n.subscriptions, sub)

	n.log.Info("notifier started", "topic", domain.TopicCaseSerious)
	return nil
}

func (n *Notifier) handleMessage(ctx context.Context, msg *domain.Message) error {
	var event domain.CaseEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		n.failed.Add(1)
		n.log.Error("failed to parse case event",
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	}

	if err := n.sink.Notify(ctx, event); err != nil {
		n.failed.Add(1)
		n.log.Error("notification delivery failed",
			"case_id", event.CaseID,
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	}

	n.delivered.Add(1)
	n.log.Debug("notification delivered", "case_id", event.CaseID)
	return nil
}

// Stop unsubscribes and cancels in-flight deliveries.
func (n *Notifier) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.cancel()

	for _, sub := range n.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			n.log.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	n.subscriptions = nil

	n.log.Info("notifier stopped")
	return nil
}

// Stats reports notifier activity.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Delivered         int64    `json:"delivered"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current notifier statistics.
func (n *Notifier) GetStats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()

	topics := make([]string, len(n.subscriptions))
	for i, sub := range n.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(n.subscriptions),
		Topics:            topics,
		Delivered:         n.delivered.Load(),
		Failed:            n.failed.Load(),
	}
}
