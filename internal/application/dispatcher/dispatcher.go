// Package dispatcher routes domain events to registered handlers. Dispatch
// is decoupled from the mutation that produced the event: handler failures
// are logged, never propagated back into task state.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/taskflowhq/taskflow/internal/domain/event"
)

// Dispatcher routes events to registered handlers
type Dispatcher interface {
	// Subscribe registers a named handler for an event type
	Subscribe(eventType event.Type, name string, handler Handler)

	// Dispatch sends the event to all registered handlers synchronously,
	// returning the first error encountered
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync sends the event to handlers without waiting. Handler
	// errors are logged and swallowed.
	DispatchAsync(ctx context.Context, evt *event.Event)

	// Close shuts down the dispatcher and waits for async handlers
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	logger   Logger

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// New creates a new event dispatcher
func New(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers: make(map[event.Type][]HandlerInfo),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers a named handler for an event type
func (d *eventDispatcher) Subscribe(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[eventType] = append(d.handlers[eventType], HandlerInfo{
		Name:      name,
		EventType: eventType,
		Handler:   handler,
	})

	if d.logger != nil {
		d.logger.Info("Handler registered",
			"event_type", eventType,
			"handler_name", name,
		)
	}
}

// Dispatch sends the event to all registered handlers synchronously
func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatcher is closed")
	}

	d.mu.RLock()
	handlers := d.handlers[evt.Type]
	d.mu.RUnlock()

	for _, info := range handlers {
		if err := d.safeExecute(ctx, evt, info); err != nil {
			if d.logger != nil {
				d.logger.Error("Handler error",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", info.Name,
					"error", err,
				)
			}
			return fmt.Errorf("handler %s failed: %w", info.Name, err)
		}
	}
	return nil
}

// DispatchAsync sends the event to handlers without waiting for completion
func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	if d.closed.Load() {
		if d.logger != nil {
			d.logger.Error("Cannot dispatch async event, dispatcher is closed",
				"event_type", evt.Type,
				"event_id", evt.ID,
			)
		}
		return
	}

	d.mu.RLock()
	handlers := d.handlers[evt.Type]
	d.mu.RUnlock()

	// The caller's context is usually a request context that gets canceled
	// as soon as the response is written. Handlers outlive the request, so
	// they run on a detached context that keeps the caller's values.
	ctx = context.WithoutCancel(ctx)

	for _, info := range handlers {
		d.wg.Add(1)
		go func(h HandlerInfo) {
			defer d.wg.Done()

			if err := d.safeExecute(ctx, evt, h); err != nil && d.logger != nil {
				d.logger.Error("Async handler error",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", h.Name,
					"error", err,
				)
			}
		}(info)
	}
}

// Close shuts down the dispatcher and waits for async handlers to complete
func (d *eventDispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already closed")
	}
	d.wg.Wait()
	return nil
}

// safeExecute runs a handler with panic recovery
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return info.Handler(ctx, evt)
}
