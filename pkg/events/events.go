package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/shutter/pkg/types"
	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventSnapshotCaptured EventType = "snapshot.captured"
	EventSnapshotFailed   EventType = "snapshot.failed"
	EventCameraOnline     EventType = "camera.online"
	EventCameraOffline    EventType = "camera.offline"
	EventScheduleChanged  EventType = "schedule.changed"
	EventWorkerStarted    EventType = "worker.started"
	EventWorkerStopped    EventType = "worker.stopped"
)

// Controller lets handlers adjust the polling cadence of the worker that emitted
// an event. Calls never block.
type Controller interface {
	// Sleep returns the interval currently in effect
	Sleep() time.Duration
	// SetSleep replaces the interval; the latest request wins
	SetSleep(d time.Duration)
	// ResetSleep restores the configured interval
	ResetSleep()
}

// Event is a worker lifecycle event
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	Worker     string            `json:"worker"`
	CameraExID string            `json:"camera_exid"`
	Timestamp  time.Time         `json:"timestamp"`
	Message    string            `json:"message,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	// Camera is the emitting worker's configuration. It is shared by every
	// handler in the chain and must not be modified.
	Camera  *types.SnapshotConfig `json:"-"`
	Image   []byte                `json:"-"`
	Err     error                 `json:"-"`
	Control Controller            `json:"-"`
}

// NewEvent creates an event with a fresh id and the current time
func NewEvent(typ EventType, worker string, camera *types.SnapshotConfig) *Event {
	ev := &Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Worker:    worker,
		Timestamp: time.Now().UTC(),
		Camera:    camera,
	}
	if camera != nil {
		ev.CameraExID = camera.CameraExID
	}
	return ev
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]string // subscriber -> camera filter, "" = all
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	doneCh      chan struct{}
	stopOnce    sync.Once
	started     atomic.Bool
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]string),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	if b.started.CompareAndSwap(false, true) {
		go b.run()
	}
}

// Stop stops the broker and waits for the distribution loop to exit
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		if b.started.Load() {
			<-b.doneCh
		}
	})
}

// Subscribe creates a subscription that receives every event
func (b *Broker) Subscribe() Subscriber {
	return b.SubscribeCamera("")
}

// SubscribeCamera creates a subscription that only receives events of one
// camera. An empty exid subscribes to all cameras.
func (b *Broker) SubscribeCamera(exid string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = exid
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// PublishContext publishes an event, giving up when ctx is done
func (b *Broker) PublishContext(ctx context.Context, event *Event) error {
	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case b.eventCh <- event:
		return nil
	case <-b.stopCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Broker) run() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, camera := range b.subscribers {
		if camera != "" && camera != event.CameraExID {
			continue
		}
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
