package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/shutter/pkg/config"
	"github.com/cuemby/shutter/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ChainOrder(t *testing.T) {
	r := NewRegistry(time.Second)
	var calls []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		r.Register(name, func(worker string) (events.Handler, error) {
			return events.Named(name, func(ctx context.Context, ev *events.Event) error {
				calls = append(calls, worker+":"+name)
				return nil
			}), nil
		})
	}

	chain, err := r.Chain("gate", []string{"c", "a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, chain.Names())

	chain.Dispatch(context.Background(), &events.Event{})
	assert.Equal(t, []string{"gate:c", "gate:a", "gate:b"}, calls)
	assert.Equal(t, []string{"a", "b", "c"}, r.Names())
}

func TestRegistry_UnknownHandler(t *testing.T) {
	r := NewRegistry(0)
	_, err := r.Chain("gate", []string{"teleport"})
	assert.ErrorContains(t, err, "teleport")
}

func TestRegistry_FactoryError(t *testing.T) {
	r := NewRegistry(0)
	r.Register("broken", func(string) (events.Handler, error) { return nil, errBoom })

	_, err := r.Chain("gate", []string{"broken"})
	assert.ErrorIs(t, err, errBoom)
}

func TestRegistry_InstancePerWorker(t *testing.T) {
	r := NewDefaultRegistry(Deps{Status: newMemoryStatus()}, 0)

	first, err := r.Chain("a", []string{config.HandlerMotion})
	require.NoError(t, err)
	second, err := r.Chain("b", []string{config.HandlerMotion})
	require.NoError(t, err)

	assert.NotSame(t, first, second)
}

func TestNewDefaultRegistry(t *testing.T) {
	archive, err := NewLocalArchive(t.TempDir())
	require.NoError(t, err)

	broker := events.NewBroker()
	full := NewDefaultRegistry(Deps{
		Broker:   broker,
		Cache:    NewMemoryCache(0),
		Status:   newMemoryStatus(),
		Archive:  archive,
		MaxSleep: time.Minute,
	}, time.Second)

	chain, err := full.Chain("gate", config.DefaultHandlers)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultHandlers, chain.Names())

	minimal := NewDefaultRegistry(Deps{}, time.Second)
	assert.Equal(t, []string{config.HandlerPoll}, minimal.Names())
	_, err = minimal.Chain("gate", []string{config.HandlerCache})
	assert.Error(t, err)
}
