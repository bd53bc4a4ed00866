package handlers

import (
	"context"

	"github.com/cuemby/shutter/pkg/config"
	"github.com/cuemby/shutter/pkg/events"
	"github.com/cuemby/shutter/pkg/storage"
	"github.com/cuemby/shutter/pkg/types"
)

// PersistHandler records the polling outcome of each camera
type PersistHandler struct {
	store storage.StatusStore
}

// NewPersistHandler creates a persistence handler
func NewPersistHandler(store storage.StatusStore) *PersistHandler {
	return &PersistHandler{store: store}
}

func (h *PersistHandler) Name() string { return config.HandlerPersist }

func (h *PersistHandler) Handle(ctx context.Context, ev *events.Event) error {
	var update func(s *types.CameraStatus)

	switch ev.Type {
	case events.EventSnapshotCaptured:
		update = func(s *types.CameraStatus) {
			s.IsOnline = true
			s.LastPolledAt = ev.Timestamp
			s.LastOnlineAt = ev.Timestamp
			s.LastError = ""
			s.ConsecutiveFailures = 0
		}
	case events.EventSnapshotFailed:
		update = func(s *types.CameraStatus) {
			s.LastPolledAt = ev.Timestamp
			s.LastError = ev.Message
			s.ConsecutiveFailures++
		}
	case events.EventCameraOnline:
		update = func(s *types.CameraStatus) {
			s.IsOnline = true
		}
	case events.EventCameraOffline:
		update = func(s *types.CameraStatus) {
			s.IsOnline = false
			if ev.Message != "" {
				s.LastError = ev.Message
			}
		}
	default:
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return h.store.UpdateCameraStatus(ev.CameraExID, update)
}
