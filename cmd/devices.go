package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-id/internal/camera"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.Flags().Bool("probe", false, "Open the default device and report its resolution")
	addCameraFlags(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var opts appOptions
	if err := applyCameraFlags(cmd, cfg, &opts); err != nil {
		return err
	}
	session := newSession(cfg, opts.device)
	defer session.Release()

	ctx := context.Background()
	devices, err := session.Devices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	if len(devices) == 0 {
		fmt.Println("No capture devices found.")
		return nil
	}
	for _, d := range devices {
		label := d.Label
		if label == "" {
			label = "(no label)"
		}
		fmt.Printf("%-24s  %s\n", d.ID, label)
	}

	if mustGetBool(cmd, "probe") {
		st, err := session.Acquire(ctx, camera.Constraints{})
		if err != nil {
			return fmt.Errorf("opening camera: %w", err)
		}
		fmt.Printf("\nActive: %s\n", describeCamera(st))
	}
	return nil
}
