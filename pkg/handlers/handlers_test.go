package handlers

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/shutter/pkg/events"
	"github.com/cuemby/shutter/pkg/storage"
	"github.com/cuemby/shutter/pkg/types"
	"github.com/stretchr/testify/require"
)

// memoryStatus is an in-memory storage.StatusStore
type memoryStatus struct {
	mu       sync.Mutex
	statuses map[string]types.CameraStatus
	err      error
}

func newMemoryStatus() *memoryStatus {
	return &memoryStatus{statuses: make(map[string]types.CameraStatus)}
}

func (m *memoryStatus) GetCameraStatus(exid string) (*types.CameraStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.statuses[exid]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &s, nil
}

func (m *memoryStatus) UpdateCameraStatus(exid string, update func(*types.CameraStatus)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	s := m.statuses[exid]
	update(&s)
	s.CameraExID = exid
	m.statuses[exid] = s
	return nil
}

// fakeControl is an events.Controller recording the requested interval
type fakeControl struct {
	base    time.Duration
	current time.Duration
}

func newFakeControl(base time.Duration) *fakeControl {
	return &fakeControl{base: base, current: base}
}

func (c *fakeControl) Sleep() time.Duration     { return c.current }
func (c *fakeControl) SetSleep(d time.Duration) { c.current = d }
func (c *fakeControl) ResetSleep()              { c.current = c.base }

var errBoom = errors.New("boom")

func testEvent(typ events.EventType) *events.Event {
	cfg := &types.SnapshotConfig{CameraExID: "gate", Sleep: time.Second}
	ev := events.NewEvent(typ, "gate", cfg)
	ev.Timestamp = time.Date(2024, 1, 31, 13, 5, 9, 42*int(time.Millisecond), time.UTC)
	return ev
}

func solidJPEG(t *testing.T, gray uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = gray
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// halfJPEG is black on the left half and white on the right half
func halfJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			if x >= 32 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func captured(t *testing.T, img []byte) *events.Event {
	t.Helper()
	ev := testEvent(events.EventSnapshotCaptured)
	ev.Image = img
	return ev
}
