package handlers

import (
	"context"
	"time"

	"github.com/cuemby/shutter/pkg/config"
	"github.com/cuemby/shutter/pkg/events"
)

// PollHandler backs off a failing camera and restores its interval on success
type PollHandler struct {
	maxSleep time.Duration
}

// NewPollHandler creates a poll-control handler. maxSleep caps the back-off.
func NewPollHandler(maxSleep time.Duration) *PollHandler {
	return &PollHandler{maxSleep: maxSleep}
}

func (h *PollHandler) Name() string { return config.HandlerPoll }

func (h *PollHandler) Handle(ctx context.Context, ev *events.Event) error {
	if ev.Control == nil {
		return nil
	}

	switch ev.Type {
	case events.EventSnapshotFailed:
		ev.Control.SetSleep(h.next(ev))
	case events.EventSnapshotCaptured:
		ev.Control.ResetSleep()
	}
	return nil
}

func (h *PollHandler) next(ev *events.Event) time.Duration {
	next := ev.Control.Sleep() * 2
	if h.maxSleep <= 0 || next <= h.maxSleep {
		return next
	}

	// never back off below the configured interval
	if ev.Camera != nil && ev.Camera.Sleep > h.maxSleep {
		return ev.Camera.Sleep
	}
	return h.maxSleep
}
