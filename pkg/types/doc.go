/*
Package types defines the data structures shared across shutter.

# Core Types

Device directory records:
  - Camera: a monitored device, its snapshot endpoint, credentials and polling cadence
  - CloudRecording: optional long-term recording association of a camera
  - Schedule: weekly polling windows, empty means continuous

Worker configuration:
  - WorkerConfig: built from one Camera by the config builder, consumed by the
    supervisor to spawn one worker
  - SnapshotConfig: the polling parameters nested inside WorkerConfig

Polling outcome:
  - CameraStatus: latest online/offline state and motion level, written by handlers

WorkerConfig is treated as immutable once built. The supervisor keeps one copy for
restarts and hands each worker incarnation its own Clone, so no two goroutines ever read
or mutate the same instance.
*/
package types
