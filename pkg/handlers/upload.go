package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/shutter/pkg/config"
	"github.com/cuemby/shutter/pkg/events"
)

// Archive stores snapshots for long-term recording
type Archive interface {
	Save(ctx context.Context, exid string, at time.Time, image []byte) (string, error)
}

// LocalArchive writes snapshots below a base directory:
// <base>/<exid>/snapshots/YYYY/MM/DD/HH/MM_SS_mmm.jpg (UTC)
type LocalArchive struct {
	basePath string
}

// NewLocalArchive creates a local archive
func NewLocalArchive(basePath string) (*LocalArchive, error) {
	if basePath == "" {
		return nil, fmt.Errorf("archive path is required")
	}

	// Ensure base directory exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &LocalArchive{basePath: basePath}, nil
}

// Path returns where a snapshot taken at is stored
func (a *LocalArchive) Path(exid string, at time.Time) string {
	at = at.UTC()
	return filepath.Join(
		a.basePath,
		exid,
		"snapshots",
		at.Format("2006"),
		at.Format("01"),
		at.Format("02"),
		at.Format("15"),
		fmt.Sprintf("%s_%03d.jpg", at.Format("04_05"), at.Nanosecond()/int(time.Millisecond)),
	)
}

// Save writes image atomically and returns its path
func (a *LocalArchive) Save(ctx context.Context, exid string, at time.Time, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := a.Path(exid, at)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(image); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to store snapshot: %w", err)
	}

	return path, nil
}

// UploadHandler archives captured snapshots of cameras with recording enabled
type UploadHandler struct {
	archive Archive
}

// NewUploadHandler creates an upload handler
func NewUploadHandler(archive Archive) *UploadHandler {
	return &UploadHandler{archive: archive}
}

func (h *UploadHandler) Name() string { return config.HandlerUpload }

func (h *UploadHandler) Handle(ctx context.Context, ev *events.Event) error {
	if ev.Type != events.EventSnapshotCaptured || len(ev.Image) == 0 {
		return nil
	}
	if ev.Camera == nil || !ev.Camera.Archive {
		return nil
	}

	_, err := h.archive.Save(ctx, ev.CameraExID, ev.Timestamp, ev.Image)
	return err
}
