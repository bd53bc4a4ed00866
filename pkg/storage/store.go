package storage

import (
	"context"
	"errors"

	"github.com/cuemby/shutter/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Directory is the read-only device directory consumed by the supervisor
// and the config builder
type Directory interface {
	// ListCameras returns every camera in one bulk read. Recording
	// associations are not loaded.
	ListCameras(ctx context.Context) ([]*types.Camera, error)

	// GetCamera returns one camera by external id
	GetCamera(ctx context.Context, exid string) (*types.Camera, error)

	// GetCloudRecording returns the recording association of a camera,
	// or nil without error when the camera has none
	GetCloudRecording(ctx context.Context, exid string) (*types.CloudRecording, error)
}

// StatusStore records polling outcomes written by event handlers
type StatusStore interface {
	GetCameraStatus(exid string) (*types.CameraStatus, error)
	UpdateCameraStatus(exid string, update func(*types.CameraStatus)) error
}

// Store is the full storage surface
type Store interface {
	Directory
	StatusStore

	// Cameras
	PutCamera(camera *types.Camera) error
	DeleteCamera(exid string) error

	// Cloud recordings
	PutCloudRecording(rec *types.CloudRecording) error

	// Health
	Ping() error

	// Utility
	Close() error
}
