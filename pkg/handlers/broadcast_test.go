package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/shutter/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastHandler(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.SubscribeCamera("gate")
	defer broker.Unsubscribe(sub)

	h := NewBroadcastHandler(broker)
	assert.Equal(t, "broadcast", h.Name())

	ev := testEvent(events.EventCameraOffline)
	require.NoError(t, h.Handle(context.Background(), ev))

	select {
	case got := <-sub:
		assert.Equal(t, ev.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("event was not broadcast")
	}
}
