package events

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/shutter/pkg/log"
	"github.com/cuemby/shutter/pkg/metrics"
	"github.com/rs/zerolog"
)

// Handler reacts to worker events
type Handler interface {
	Name() string
	Handle(ctx context.Context, ev *Event) error
}

// HandlerFunc adapts a function to the Handle method of a Handler
type HandlerFunc func(ctx context.Context, ev *Event) error

// Named turns fn into a Handler called name
func Named(name string, fn HandlerFunc) Handler {
	return &funcHandler{name: name, fn: fn}
}

type funcHandler struct {
	name string
	fn   HandlerFunc
}

func (h *funcHandler) Name() string { return h.name }

func (h *funcHandler) Handle(ctx context.Context, ev *Event) error {
	return h.fn(ctx, ev)
}

// HandlerError records one failed handler invocation
type HandlerError struct {
	Handler string
	Event   EventType
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed on %s: %v", e.Handler, e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Chain delivers events to an ordered list of handlers
type Chain struct {
	handlers []Handler
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewChain creates a chain. A positive timeout bounds the context every handler
// call receives.
func NewChain(timeout time.Duration, handlers ...Handler) *Chain {
	return &Chain{
		handlers: handlers,
		timeout:  timeout,
		logger:   log.WithComponent("events"),
	}
}

// Names returns the handler names in dispatch order
func (c *Chain) Names() []string {
	names := make([]string, len(c.handlers))
	for i, h := range c.handlers {
		names[i] = h.Name()
	}
	return names
}

// Len returns the number of handlers
func (c *Chain) Len() int {
	return len(c.handlers)
}

// Dispatch calls every handler in order. A handler that fails, panics or times
// out is logged and counted, and the next handler still runs.
func (c *Chain) Dispatch(ctx context.Context, ev *Event) []error {
	var failures []error
	for _, h := range c.handlers {
		if err := c.invoke(ctx, h, ev); err != nil {
			metrics.HandlerErrorsTotal.WithLabelValues(h.Name()).Inc()
			c.logger.Error().
				Err(err).
				Str("handler", h.Name()).
				Str("event", string(ev.Type)).
				Str("camera_exid", ev.CameraExID).
				Msg("Event handler failed")
			failures = append(failures, &HandlerError{Handler: h.Name(), Event: ev.Type, Err: err})
		}
	}
	return failures
}

func (c *Chain) invoke(ctx context.Context, h Handler, ev *Event) (err error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.HandlerDuration, h.Name())
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return h.Handle(ctx, ev)
}
