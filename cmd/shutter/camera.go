package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cuemby/shutter/pkg/config"
	"github.com/cuemby/shutter/pkg/storage"
	"github.com/cuemby/shutter/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Camera commands operate on the store directly and need exclusive access to
// it, so run them while the service is stopped.
var cameraCmd = &cobra.Command{
	Use:   "camera",
	Short: "Manage the device directory",
}

var cameraImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import cameras from a YAML file",
	Long: `Import cameras into the device directory from a YAML file.
Existing cameras with the same exid are replaced.

Example file:

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

Cameras whose configuration would be rejected are still imported and
reported, so they can be fixed later without losing the record.`,
	RunE: runCameraImport,
}

var cameraListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cameras in the device directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		cameras, err := store.ListCameras(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list cameras: %w", err)
		}
		if len(cameras) == 0 {
			fmt.Println("No cameras found")
			return nil
		}

		builder := config.NewBuilder(store, cfg.Handlers)
		fmt.Printf("%-24s %-10s %-48s %s\n", "EXID", "SLEEP", "URL", "STATUS")
		for _, camera := range cameras {
			wc, err := builder.Build(context.Background(), camera)
			if err != nil {
				var rej *config.RejectedError
				reason := err.Error()
				if errors.As(err, &rej) {
					reason = rej.Reason
				}
				fmt.Printf("%-24s %-10s %-48s rejected: %s\n", camera.ExID, "-",
					camera.BaseURL+camera.ResourcePath("jpg"), reason)
				continue
			}
			fmt.Printf("%-24s %-10s %-48s ok\n", wc.Name, wc.Config.Sleep, wc.Config.URL)
		}
		return nil
	},
}

var cameraDeleteCmd = &cobra.Command{
	Use:   "delete EXID",
	Short: "Delete a camera from the device directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteCamera(args[0]); err != nil {
			return fmt.Errorf("failed to delete camera: %w", err)
		}
		fmt.Printf("✓ Camera deleted: %s\n", args[0])
		return nil
	},
}

func init() {
	cameraCmd.AddCommand(cameraImportCmd)
	cameraCmd.AddCommand(cameraListCmd)
	cameraCmd.AddCommand(cameraDeleteCmd)

	cameraImportCmd.Flags().StringP("file", "f", "", "YAML file to import (required)")
	_ = cameraImportCmd.MarkFlagRequired("file")
}

// CameraFile is the document read by camera import
type CameraFile struct {
	Cameras []*types.Camera `yaml:"cameras"`
}

// ImportResult reports one imported camera
type ImportResult struct {
	ExID     string
	Rejected string
}

func runCameraImport(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	results, err := importCameras(context.Background(), store, data)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Rejected != "" {
			fmt.Printf("! Camera imported but rejected: %s (%s)\n", r.ExID, r.Rejected)
			continue
		}
		fmt.Printf("✓ Camera imported: %s\n", r.ExID)
	}
	return nil
}

// importCameras parses a camera file, stores every camera and its recording
// association, and reports which records the config builder would reject
func importCameras(ctx context.Context, store storage.Store, data []byte) ([]ImportResult, error) {
	var file CameraFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(file.Cameras) == 0 {
		return nil, fmt.Errorf("no cameras found in file")
	}

	builder := config.NewBuilder(nil, nil)
	results := make([]ImportResult, 0, len(file.Cameras))

	for _, camera := range file.Cameras {
		if camera == nil || camera.ExID == "" {
			return results, fmt.Errorf("camera exid is required")
		}
		if err := store.PutCamera(camera); err != nil {
			return results, fmt.Errorf("failed to store camera %s: %w", camera.ExID, err)
		}
		if rec := camera.CloudRecording; rec != nil {
			rec.CameraExID = camera.ExID
			if err := store.PutCloudRecording(rec); err != nil {
				return results, fmt.Errorf("failed to store cloud recording for %s: %w", camera.ExID, err)
			}
		}

		result := ImportResult{ExID: camera.ExID}
		camera.RecordingLoaded = true
		if _, err := builder.Build(ctx, camera); err != nil {
			var rej *config.RejectedError
			result.Rejected = err.Error()
			if errors.As(err, &rej) {
				result.Rejected = rej.Reason
			}
		}
		results = append(results, result)
	}
	return results, nil
}
