package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-id/internal/config"
)

// mustGet reads a flag defined in init(). A lookup error is a programming bug.
func mustGet[T any](name string, get func(string) (T, error)) T {
	val, err := get(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

func mustGetBool(cmd *cobra.Command, name string) bool {
	return mustGet(name, cmd.Flags().GetBool)
}

func mustGetInt(cmd *cobra.Command, name string) int {
	return mustGet(name, cmd.Flags().GetInt)
}

func mustGetString(cmd *cobra.Command, name string) string {
	return mustGet(name, cmd.Flags().GetString)
}

func mustGetFloat64(cmd *cobra.Command, name string) float64 {
	return mustGet(name, cmd.Flags().GetFloat64)
}

func mustGetStringSlice(cmd *cobra.Command, name string) []string {
	return mustGet(name, cmd.Flags().GetStringSlice)
}

// addCameraFlags registers --image and --device.
func addCameraFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("image", nil, "Use still images as cameras instead of video devices")
	cmd.Flags().String("device", "", "Capture device ID (overrides CAMERA_DEVICE)")
}

// applyCameraFlags sets the capture device on opts and cfg from the camera
// flags. With --image and no --device the first image is selected.
func applyCameraFlags(cmd *cobra.Command, cfg *config.Config, opts *appOptions) error {
	if images := mustGetStringSlice(cmd, "image"); len(images) > 0 {
		device, first, err := imageDevice(images)
		if err != nil {
			return err
		}
		opts.device = device
		cfg.Camera.Device = first
	}
	if device := mustGetString(cmd, "device"); device != "" {
		cfg.Camera.Device = device
	}
	return nil
}
