package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cognive/controlplane-go/contracts"
)

// EventHandler processes one decoded event.
type EventHandler func(ctx context.Context, event contracts.Event) error

// EventDispatcher decodes envelope payloads into their event kind and routes
// them to registered handlers. Payloads that match no known kind go to the
// unknown handler; by default they are logged and acknowledged so a stray
// producer cannot wedge a queue.
type EventDispatcher struct {
	mu       sync.RWMutex
	handlers map[contracts.EventKind]EventHandler
	unknown  EventHandler
	logger   *slog.Logger
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*EventDispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *EventDispatcher) {
		d.logger = logger
	}
}

// WithUnknownHandler overrides the default drop-and-log behavior for
// unrecognized payloads.
func WithUnknownHandler(h EventHandler) DispatcherOption {
	return func(d *EventDispatcher) {
		d.unknown = h
	}
}

// NewEventDispatcher creates an empty dispatcher.
func NewEventDispatcher(options ...DispatcherOption) *EventDispatcher {
	d := &EventDispatcher{
		handlers: make(map[contracts.EventKind]EventHandler),
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// Register installs the handler for an event kind, replacing any previous one.
func (d *EventDispatcher) Register(kind contracts.EventKind, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = handler
}

// HandleEnvelope is a messaging.Handler that decodes and dispatches. A
// registered handler's error propagates so the usual retry/DLQ path applies.
func (d *EventDispatcher) HandleEnvelope(ctx context.Context, env *contracts.Envelope) error {
	event := contracts.DecodeEvent(env.Queue, env.Payload)

	d.mu.RLock()
	handler, ok := d.handlers[event.Kind]
	unknown := d.unknown
	d.mu.RUnlock()

	if !ok || event.Kind == contracts.EventKindUnknown {
		if unknown != nil {
			return unknown(ctx, event)
		}
		d.logger.Warn("no handler for event, acknowledging",
			"queue", env.Queue,
			"kind", event.Kind,
			"messageId", env.MessageID,
		)
		return nil
	}

	return handler(ctx, event)
}
