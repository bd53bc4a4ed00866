package handlers

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/shutter/pkg/config"
	"github.com/cuemby/shutter/pkg/events"
	"github.com/cuemby/shutter/pkg/storage"
)

// Factory creates the handler instance of one worker
type Factory func(worker string) (events.Handler, error)

// Registry maps handler identities to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	timeout   time.Duration
}

// NewRegistry creates an empty registry. timeout bounds every handler call of
// the chains it builds.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		timeout:   timeout,
	}
}

// Register adds or replaces a factory
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Names returns the registered identities, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chain builds a private chain for one worker, in the order of ids
func (r *Registry) Chain(worker string, ids []string) (*events.Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handlers := make([]events.Handler, 0, len(ids))
	for _, id := range ids {
		factory, ok := r.factories[id]
		if !ok {
			return nil, fmt.Errorf("unknown event handler %q", id)
		}
		h, err := factory(worker)
		if err != nil {
			return nil, fmt.Errorf("failed to create handler %s for %s: %w", id, worker, err)
		}
		handlers = append(handlers, h)
	}
	return events.NewChain(r.timeout, handlers...), nil
}

// Deps are the shared collaborators of the built-in handlers
type Deps struct {
	Broker          *events.Broker
	Cache           SnapshotCache
	Status          storage.StatusStore
	Archive         Archive
	MaxSleep        time.Duration
	MotionThreshold int
}

// NewDefaultRegistry registers every built-in handler whose dependency is set
func NewDefaultRegistry(deps Deps, timeout time.Duration) *Registry {
	r := NewRegistry(timeout)

	if deps.Broker != nil {
		r.Register(config.HandlerBroadcast, func(string) (events.Handler, error) {
			return NewBroadcastHandler(deps.Broker), nil
		})
	}
	if deps.Cache != nil {
		r.Register(config.HandlerCache, func(string) (events.Handler, error) {
			return NewCacheHandler(deps.Cache), nil
		})
	}
	if deps.Status != nil {
		r.Register(config.HandlerPersist, func(string) (events.Handler, error) {
			return NewPersistHandler(deps.Status), nil
		})
		r.Register(config.HandlerMotion, func(string) (events.Handler, error) {
			return NewMotionHandler(deps.Status, deps.MotionThreshold), nil
		})
	}
	r.Register(config.HandlerPoll, func(string) (events.Handler, error) {
		return NewPollHandler(deps.MaxSleep), nil
	})
	if deps.Archive != nil {
		r.Register(config.HandlerUpload, func(string) (events.Handler, error) {
			return NewUploadHandler(deps.Archive), nil
		})
	}

	return r
}
