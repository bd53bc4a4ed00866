package main

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/shutter/pkg/config"
	"github.com/cuemby/shutter/pkg/security"
	"github.com/cuemby/shutter/pkg/storage"
	"github.com/cuemby/shutter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cameraFile = `
cameras:
  - exid: front-gate
    name: Front gate
    vendor: hikvision
    base_url: http://192.0.2.10
    snapshot_paths:
      jpg: /ISAPI/Streaming/channels/101/picture
    auth:
      username: admin
      password: secret
    sleep: 5s
    timezone: Europe/Dublin
    schedule:
      Monday: ["08:00-18:00"]
    cloud_recording:
      frequency: 12
      storage_duration: 30
      status: on
  - exid: lobby
    name: Lobby
    base_url: http://192.0.2.11:abc
    snapshot_paths:
      jpg: /snapshot.jpg
`

func newTestStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	cipher, err := security.NewCredentialCipherFromPassword("test-key")
	require.NoError(t, err)
	store, err := storage.NewBoltStore(t.TempDir(), cipher)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestImportCameras(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	results, err := importCameras(ctx, store, []byte(cameraFile))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, ImportResult{ExID: "front-gate"}, results[0])
	assert.Equal(t, "lobby", results[1].ExID)
	assert.NotEmpty(t, results[1].Rejected)

	camera, err := store.GetCamera(ctx, "front-gate")
	require.NoError(t, err)
	assert.Equal(t, "hikvision", camera.VendorExID)
	assert.Equal(t, 5*time.Second, camera.SleepInterval)
	assert.Equal(t, "secret", camera.Auth.Password)
	assert.Equal(t, types.Schedule{"Monday": {"08:00-18:00"}}, camera.Schedule)

	rec, err := store.GetCloudRecording(ctx, "front-gate")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 12, rec.Frequency)
	assert.Equal(t, types.RecordingOn, rec.Status)

	// the stored record builds the expected worker configuration
	wc, err := config.NewBuilder(store, config.DefaultHandlers).Build(ctx, camera)
	require.NoError(t, err)
	assert.Equal(t, "http://192.0.2.10/ISAPI/Streaming/channels/101/picture", wc.Config.URL)
	assert.Equal(t, 5*time.Second, wc.Config.Sleep)
	assert.True(t, wc.Config.Archive)

	// the rejected record is kept for later correction
	_, err = store.GetCamera(ctx, "lobby")
	assert.NoError(t, err)
}

func TestImportCameras_Reimport(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := importCameras(ctx, store, []byte(cameraFile))
	require.NoError(t, err)
	first, err := store.GetCamera(ctx, "front-gate")
	require.NoError(t, err)

	_, err = importCameras(ctx, store, []byte(cameraFile))
	require.NoError(t, err)
	second, err := store.GetCamera(ctx, "front-gate")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	cameras, err := store.ListCameras(ctx)
	require.NoError(t, err)
	assert.Len(t, cameras, 2)
}

func TestImportCameras_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not yaml", data: "cameras: [:"},
		{name: "empty", data: "cameras: []"},
		{name: "missing exid", data: "cameras:\n  - name: nameless\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := importCameras(context.Background(), newTestStore(t), []byte(tt.data))
			assert.Error(t, err)
		})
	}
}
