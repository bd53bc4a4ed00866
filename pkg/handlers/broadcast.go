package handlers

import (
	"context"

	"github.com/cuemby/shutter/pkg/config"
	"github.com/cuemby/shutter/pkg/events"
)

// BroadcastHandler forwards every event to the broker
type BroadcastHandler struct {
	broker *events.Broker
}

// NewBroadcastHandler creates a broadcast handler
func NewBroadcastHandler(broker *events.Broker) *BroadcastHandler {
	return &BroadcastHandler{broker: broker}
}

func (h *BroadcastHandler) Name() string { return config.HandlerBroadcast }

func (h *BroadcastHandler) Handle(ctx context.Context, ev *events.Event) error {
	return h.broker.PublishContext(ctx, ev)
}
