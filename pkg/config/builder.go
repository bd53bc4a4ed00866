package config

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/cuemby/shutter/pkg/storage"
	"github.com/cuemby/shutter/pkg/types"
)

// DefaultSleep is the polling interval used when neither the recording nor the
// camera define one
const DefaultSleep = time.Second

// RejectedError is returned when a camera record cannot produce a worker config
type RejectedError struct {
	CameraExID string
	URL        string
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("camera %s rejected (url %q): %s", e.CameraExID, e.URL, e.Reason)
}

// Builder turns device records into validated worker configurations
type Builder struct {
	directory storage.Directory
	handlers  []string
}

// NewBuilder creates a builder. directory is used to load recording associations
// that were not loaded with the camera; handlers is the process-wide chain.
func NewBuilder(directory storage.Directory, handlers []string) *Builder {
	return &Builder{
		directory: directory,
		handlers:  slices.Clone(handlers),
	}
}

// Build validates camera and returns its worker configuration. The returned
// error is always a *RejectedError.
func (b *Builder) Build(ctx context.Context, camera *types.Camera) (*types.WorkerConfig, error) {
	if camera == nil {
		return nil, &RejectedError{Reason: "camera record is nil"}
	}
	if camera.ExID == "" {
		return nil, &RejectedError{Reason: "camera has no exid"}
	}

	rawURL := camera.BaseURL + camera.ResourcePath("jpg")

	if reason := validateURL(rawURL); reason != "" {
		return nil, &RejectedError{CameraExID: camera.ExID, URL: rawURL, Reason: reason}
	}

	recording, err := b.recording(ctx, camera)
	if err != nil {
		return nil, &RejectedError{
			CameraExID: camera.ExID,
			URL:        rawURL,
			Reason:     fmt.Sprintf("failed to load cloud recording: %v", err),
		}
	}

	cfg := types.SnapshotConfig{
		CameraID:     camera.ID,
		CameraExID:   camera.ExID,
		VendorExID:   camera.VendorExID,
		Schedule:     camera.Schedule.Clone(),
		Timezone:     camera.Timezone,
		URL:          rawURL,
		Auth:         camera.Auth,
		Sleep:        camera.SleepInterval,
		InitialSleep: camera.InitialSleep,
		Archive:      recording.Archives(),
	}

	if recording != nil {
		if recording.Frequency > 0 {
			cfg.Sleep = time.Minute / time.Duration(recording.Frequency)
		}
		if len(recording.Schedule) > 0 {
			cfg.Schedule = recording.Schedule.Clone()
		}
	}
	if cfg.Sleep <= 0 {
		cfg.Sleep = DefaultSleep
	}
	if cfg.InitialSleep < 0 {
		cfg.InitialSleep = 0
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}

	return &types.WorkerConfig{
		Name:          camera.ExID,
		EventHandlers: slices.Clone(b.handlers),
		Config:        cfg,
	}, nil
}

func (b *Builder) recording(ctx context.Context, camera *types.Camera) (*types.CloudRecording, error) {
	if camera.RecordingLoaded || b.directory == nil {
		return camera.CloudRecording, nil
	}
	return b.directory.GetCloudRecording(ctx, camera.ExID)
}

// validateURL returns an empty string when rawURL has a host and a usable port
func validateURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Sprintf("invalid url: %v", err)
	}

	if u.Hostname() == "" {
		return "url has no host"
	}

	port, err := urlPort(u)
	if err != nil {
		return err.Error()
	}
	if port <= 0 || port >= 65535 {
		return fmt.Sprintf("port %d out of range", port)
	}

	return ""
}

func urlPort(u *url.URL) (int, error) {
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid port %q", p)
		}
		return port, nil
	}

	switch u.Scheme {
	case "http":
		return 80, nil
	case "https":
		return 443, nil
	default:
		return 0, nil
	}
}
