package handlers

import (
	"context"
	"testing"

	"github.com/cuemby/shutter/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistHandler(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStatus()
	h := NewPersistHandler(store)
	assert.Equal(t, "persist", h.Name())

	failed := testEvent(events.EventSnapshotFailed)
	failed.Message = "HTTP 503 Service Unavailable"
	require.NoError(t, h.Handle(ctx, failed))
	require.NoError(t, h.Handle(ctx, failed))

	status, err := store.GetCameraStatus("gate")
	require.NoError(t, err)
	assert.Equal(t, 2, status.ConsecutiveFailures)
	assert.Equal(t, "HTTP 503 Service Unavailable", status.LastError)
	assert.Equal(t, failed.Timestamp, status.LastPolledAt)

	offline := testEvent(events.EventCameraOffline)
	offline.Message = "timeout"
	require.NoError(t, h.Handle(ctx, offline))
	status, _ = store.GetCameraStatus("gate")
	assert.False(t, status.IsOnline)
	assert.Equal(t, "timeout", status.LastError)

	require.NoError(t, h.Handle(ctx, captured(t, []byte{1})))
	require.NoError(t, h.Handle(ctx, testEvent(events.EventCameraOnline)))

	status, _ = store.GetCameraStatus("gate")
	assert.True(t, status.IsOnline)
	assert.Zero(t, status.ConsecutiveFailures)
	assert.Empty(t, status.LastError)
	assert.Equal(t, failed.Timestamp, status.LastOnlineAt)
}

func TestPersistHandler_IgnoresOtherEvents(t *testing.T) {
	store := newMemoryStatus()
	store.err = errBoom
	h := NewPersistHandler(store)

	assert.NoError(t, h.Handle(context.Background(), testEvent(events.EventWorkerStarted)))
	assert.ErrorIs(t, h.Handle(context.Background(), testEvent(events.EventCameraOnline)), errBoom)
}
