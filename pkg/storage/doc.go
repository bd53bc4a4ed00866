/*
Package storage provides the BoltDB-backed device directory for shutter.

The directory holds camera records, their optional cloud recording associations and
the latest polling status per camera. Values are JSON encoded, one bucket per record
kind, keyed by the camera's external id:

	┌──────────────── shutter.db ────────────────┐
	│ cameras           exid -> Camera            │
	│ cloud_recordings  exid -> CloudRecording    │
	│ camera_status     exid -> CameraStatus      │
	└─────────────────────────────────────────────┘

# Interfaces

Directory is the read-only view the supervisor and the config builder consume.
ListCameras is a single bulk read and honours the caller's context deadline, so the
supervisor can bound its bootstrap fetch. Recording associations are deliberately not
joined into the bulk read; the config builder fetches them per camera on demand.

StatusStore is written by the persistence and motion handlers. UpdateCameraStatus
runs a read-modify-write inside one bbolt write transaction, so concurrent handlers
of different workers never lose each other's fields.

# Credentials

When the store is opened with a security.CredentialCipher, camera passwords are
sealed with AES-256-GCM before they reach disk and opened again on read. A store that
contains sealed passwords but was opened without a cipher fails reads of those
cameras instead of handing ciphertext to a worker.
*/
package storage
