package types

import (
	"slices"
	"time"
)

// Schedule is a weekly polling schedule keyed by English weekday name
// ("Monday" ... "Sunday"), each holding "HH:MM-HH:MM" windows.
// An empty schedule means continuous polling.
type Schedule map[string][]string

// Clone returns a deep copy of the schedule
func (s Schedule) Clone() Schedule {
	if s == nil {
		return nil
	}
	out := make(Schedule, len(s))
	for day, windows := range s {
		out[day] = slices.Clone(windows)
	}
	return out
}

// Auth holds the credentials used to fetch a snapshot
type Auth struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// Empty reports whether no credentials are set
func (a Auth) Empty() bool {
	return a.Username == "" && a.Password == ""
}

// Camera is a device record as held by the device directory
type Camera struct {
	ID            int64             `json:"id" yaml:"-"`
	ExID          string            `json:"exid" yaml:"exid"`
	Name          string            `json:"name" yaml:"name"`
	VendorExID    string            `json:"vendor_exid" yaml:"vendor"`
	Schedule      Schedule          `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Timezone      string            `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	BaseURL       string            `json:"base_url" yaml:"base_url"`
	SnapshotPaths map[string]string `json:"snapshot_paths" yaml:"snapshot_paths"`
	Auth          Auth              `json:"auth" yaml:"auth"`
	SleepInterval time.Duration     `json:"sleep_interval" yaml:"sleep"`
	InitialSleep  time.Duration     `json:"initial_sleep" yaml:"initial_sleep"`
	CreatedAt     time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time         `json:"updated_at" yaml:"-"`

	// CloudRecording is only meaningful when RecordingLoaded is true;
	// a loaded nil means the camera has no recording association.
	CloudRecording  *CloudRecording `json:"-" yaml:"cloud_recording,omitempty"`
	RecordingLoaded bool            `json:"-" yaml:"-"`
}

// ResourcePath returns the snapshot path for an image format
func (c *Camera) ResourcePath(format string) string {
	return c.SnapshotPaths[format]
}

// CloudRecordingStatus is the recording state of a camera
type CloudRecordingStatus string

const (
	RecordingOn          CloudRecordingStatus = "on"
	RecordingOff         CloudRecordingStatus = "off"
	RecordingPaused      CloudRecordingStatus = "paused"
	RecordingOnScheduled CloudRecordingStatus = "on-scheduled"
)

// CloudRecording associates a camera with long-term snapshot recording
type CloudRecording struct {
	CameraExID      string               `json:"camera_exid" yaml:"-"`
	Frequency       int                  `json:"frequency" yaml:"frequency"`               // snapshots per minute
	StorageDuration int                  `json:"storage_duration" yaml:"storage_duration"` // days, -1 = forever
	Status          CloudRecordingStatus `json:"status" yaml:"status"`
	Schedule        Schedule             `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// Archives reports whether snapshots should be uploaded to long-term storage
func (r *CloudRecording) Archives() bool {
	if r == nil {
		return false
	}
	return r.Status == RecordingOn || r.Status == RecordingOnScheduled
}

// SnapshotConfig is the per-worker polling configuration
type SnapshotConfig struct {
	CameraID     int64
	CameraExID   string
	VendorExID   string
	Schedule     Schedule
	Timezone     string
	URL          string
	Auth         Auth
	Sleep        time.Duration
	InitialSleep time.Duration
	Archive      bool
}

// WorkerConfig is the validated configuration a worker is spawned from
type WorkerConfig struct {
	Name          string
	EventHandlers []string
	Config        SnapshotConfig
}

// Clone returns a deep copy so every worker incarnation owns its configuration
func (w *WorkerConfig) Clone() *WorkerConfig {
	if w == nil {
		return nil
	}
	out := *w
	out.EventHandlers = slices.Clone(w.EventHandlers)
	out.Config.Schedule = w.Config.Schedule.Clone()
	return &out
}

// CameraStatus is the latest polling outcome recorded for a camera
type CameraStatus struct {
	CameraExID          string    `json:"camera_exid"`
	IsOnline            bool      `json:"is_online"`
	LastPolledAt        time.Time `json:"last_polled_at"`
	LastOnlineAt        time.Time `json:"last_online_at,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	MotionLevel         int       `json:"motion_level"`
	MotionAt            time.Time `json:"motion_at,omitempty"`
}
