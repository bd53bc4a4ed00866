package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/shutter/pkg/security"
	"github.com/cuemby/shutter/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketCameras         = []byte("cameras")
	bucketCloudRecordings = []byte("cloud_recordings")
	bucketCameraStatus    = []byte("camera_status")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db     *bolt.DB
	cipher *security.CredentialCipher
}

// NewBoltStore creates a new BoltDB-backed store. When cipher is non-nil,
// camera passwords are encrypted at rest.
func NewBoltStore(dataDir string, cipher *security.CredentialCipher) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "shutter.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCameras, bucketCloudRecordings, bucketCameraStatus} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, cipher: cipher}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database answers a read transaction
func (s *BoltStore) Ping() error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketCameras) == nil {
			return fmt.Errorf("bucket %s missing", bucketCameras)
		}
		return nil
	})
}

// Camera operations

// PutCamera creates or replaces a camera. New cameras get a sequential ID.
func (s *BoltStore) PutCamera(camera *types.Camera) error {
	if camera.ExID == "" {
		return fmt.Errorf("camera exid is required")
	}

	stored := *camera
	if s.cipher != nil {
		auth, err := s.cipher.SealAuth(camera.Auth)
		if err != nil {
			return fmt.Errorf("failed to encrypt credentials for %s: %w", camera.ExID, err)
		}
		stored.Auth = auth
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCameras)
		now := time.Now().UTC()

		if existing := b.Get([]byte(stored.ExID)); existing != nil {
			var prev types.Camera
			if err := json.Unmarshal(existing, &prev); err != nil {
				return err
			}
			stored.ID = prev.ID
			stored.CreatedAt = prev.CreatedAt
		} else {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			stored.ID = int64(seq)
			stored.CreatedAt = now
		}
		stored.UpdatedAt = now

		data, err := json.Marshal(&stored)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(stored.ExID), data); err != nil {
			return err
		}

		camera.ID = stored.ID
		camera.CreatedAt = stored.CreatedAt
		camera.UpdatedAt = stored.UpdatedAt
		return nil
	})
}

// GetCamera returns a camera by external id
func (s *BoltStore) GetCamera(ctx context.Context, exid string) (*types.Camera, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var camera types.Camera
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCameras).Get([]byte(exid))
		if data == nil {
			return fmt.Errorf("camera %s: %w", exid, ErrNotFound)
		}
		return json.Unmarshal(data, &camera)
	})
	if err != nil {
		return nil, err
	}

	if err := s.openCredentials(&camera); err != nil {
		return nil, err
	}
	return &camera, nil
}

// ListCameras returns all cameras. The read runs off the caller's goroutine so a
// context deadline bounds how long the caller waits.
func (s *BoltStore) ListCameras(ctx context.Context) ([]*types.Camera, error) {
	type result struct {
		cameras []*types.Camera
		err     error
	}
	done := make(chan result, 1)

	go func() {
		var cameras []*types.Camera
		err := s.db.View(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketCameras).ForEach(func(k, v []byte) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				var camera types.Camera
				if err := json.Unmarshal(v, &camera); err != nil {
					return fmt.Errorf("failed to decode camera %s: %w", k, err)
				}
				if err := s.openCredentials(&camera); err != nil {
					return err
				}
				cameras = append(cameras, &camera)
				return nil
			})
		})
		done <- result{cameras: cameras, err: err}
	}()

	select {
	case r := <-done:
		return r.cameras, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to list cameras: %w", ctx.Err())
	}
}

// DeleteCamera removes a camera and its associated records
func (s *BoltStore) DeleteCamera(exid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCameras, bucketCloudRecordings, bucketCameraStatus} {
			if err := tx.Bucket(bucket).Delete([]byte(exid)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) openCredentials(camera *types.Camera) error {
	if !security.IsSealed(camera.Auth.Password) {
		return nil
	}
	if s.cipher == nil {
		return fmt.Errorf("camera %s has encrypted credentials but no secret key is configured", camera.ExID)
	}
	auth, err := s.cipher.OpenAuth(camera.Auth)
	if err != nil {
		return fmt.Errorf("failed to decrypt credentials for %s: %w", camera.ExID, err)
	}
	camera.Auth = auth
	return nil
}

// Cloud recording operations

// PutCloudRecording creates or replaces the recording association of a camera
func (s *BoltStore) PutCloudRecording(rec *types.CloudRecording) error {
	if rec.CameraExID == "" {
		return fmt.Errorf("cloud recording camera exid is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketCloudRecordings).Put([]byte(rec.CameraExID), data)
	})
}

// GetCloudRecording returns the recording association, nil when there is none
func (s *BoltStore) GetCloudRecording(ctx context.Context, exid string) (*types.CloudRecording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *types.CloudRecording
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCloudRecordings).Get([]byte(exid))
		if data == nil {
			return nil
		}
		rec = &types.CloudRecording{}
		return json.Unmarshal(data, rec)
	})
	return rec, err
}

// Camera status operations

// GetCameraStatus returns the latest recorded status of a camera
func (s *BoltStore) GetCameraStatus(exid string) (*types.CameraStatus, error) {
	var status types.CameraStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCameraStatus).Get([]byte(exid))
		if data == nil {
			return fmt.Errorf("status for camera %s: %w", exid, ErrNotFound)
		}
		return json.Unmarshal(data, &status)
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// UpdateCameraStatus applies update to the stored status inside one write transaction
func (s *BoltStore) UpdateCameraStatus(exid string, update func(*types.CameraStatus)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCameraStatus)

		status := types.CameraStatus{CameraExID: exid}
		if data := b.Get([]byte(exid)); data != nil {
			if err := json.Unmarshal(data, &status); err != nil {
				return err
			}
		}

		update(&status)
		status.CameraExID = exid

		data, err := json.Marshal(&status)
		if err != nil {
			return err
		}
		return b.Put([]byte(exid), data)
	})
}
