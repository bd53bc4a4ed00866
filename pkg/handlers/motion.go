package handlers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/cuemby/shutter/pkg/config"
	"github.com/cuemby/shutter/pkg/events"
	"github.com/cuemby/shutter/pkg/metrics"
	"github.com/cuemby/shutter/pkg/storage"
	"github.com/cuemby/shutter/pkg/types"
)

const (
	gridWidth  = 32
	gridHeight = 24

	// cellDelta is the mean luminance change that marks a grid cell as changed
	cellDelta = 24
)

// luminanceGrid is a downsampled grayscale frame
type luminanceGrid [gridWidth * gridHeight]uint8

// MotionHandler compares consecutive snapshots of one worker and records how much
// of the frame changed, as a level from 0 to 100
type MotionHandler struct {
	store     storage.StatusStore
	threshold int
	previous  *luminanceGrid
}

// NewMotionHandler creates a motion handler. Levels at or above threshold count
// as detected motion.
func NewMotionHandler(store storage.StatusStore, threshold int) *MotionHandler {
	return &MotionHandler{store: store, threshold: threshold}
}

func (h *MotionHandler) Name() string { return config.HandlerMotion }

func (h *MotionHandler) Handle(ctx context.Context, ev *events.Event) error {
	if ev.Type != events.EventSnapshotCaptured || len(ev.Image) == 0 {
		return nil
	}

	img, err := jpeg.Decode(bytes.NewReader(ev.Image))
	if err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	grid := downsample(img)
	previous := h.previous
	h.previous = grid
	if previous == nil {
		return nil
	}

	level := compare(previous, grid)
	detected := level >= h.threshold
	if detected {
		metrics.MotionDetectedTotal.Inc()
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return h.store.UpdateCameraStatus(ev.CameraExID, func(s *types.CameraStatus) {
		s.MotionLevel = level
		if detected {
			s.MotionAt = ev.Timestamp
		}
	})
}

// downsample averages the luminance of img over a fixed grid
func downsample(img image.Image) *luminanceGrid {
	var sums [gridWidth * gridHeight]uint64
	var counts [gridWidth * gridHeight]uint64

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return &luminanceGrid{}
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		gy := (y - b.Min.Y) * gridHeight / h
		for x := b.Min.X; x < b.Max.X; x++ {
			gx := (x - b.Min.X) * gridWidth / w
			i := gy*gridWidth + gx
			sums[i] += uint64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
			counts[i]++
		}
	}

	var grid luminanceGrid
	for i := range grid {
		if counts[i] > 0 {
			grid[i] = uint8(sums[i] / counts[i])
		}
	}
	return &grid
}

// compare returns the percentage of cells whose luminance moved by cellDelta or more
func compare(a, b *luminanceGrid) int {
	changed := 0
	for i := range a {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		if d >= cellDelta {
			changed++
		}
	}
	return changed * 100 / len(a)
}
