package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-id/internal/camera"
	"github.com/kozaktomas/face-id/internal/flow"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll a face under a name",
	Long: `Capture a face from the camera (or a still image) and store it in the gallery.
Enrolling an existing name replaces that person's descriptor.`,
	Example: `  face-id enroll --name "Ada Lovelace"
  face-id enroll --name ada --image ada.jpg --yes`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("name", "", "Display name to enroll (required)")
	addCameraFlags(enrollCmd)
	enrollCmd.Flags().BoolP("yes", "y", false, "Store the first capture without asking")
	_ = enrollCmd.MarkFlagRequired("name")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	skipConfirm := mustGetBool(cmd, "yes")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := appOptions{seed: true, showSeeds: true}
	if err := applyCameraFlags(cmd, cfg, &opts); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	e := flow.NewEnrollment(flow.EnrollmentOptions{
		ID:       uuid.NewString(),
		Name:     mustGetString(cmd, "name"),
		Camera:   a.session,
		Embedder: a.resolver,
		Gallery:  a.gallery,
		Frames:   a.frames,
	})
	defer e.Close()

	if err := e.StartCamera(ctx, camera.Constraints{}); err != nil {
		return fmt.Errorf("starting camera: %w", err)
	}
	fmt.Printf("Camera: %s\n", describeCamera(a.session.State()))

	for {
		if err := e.Capture(ctx); err != nil {
			return fmt.Errorf("capturing frame: %w", err)
		}
		preview, _ := e.Preview()
		fmt.Printf("Captured %dx%d frame (%d bytes)\n", preview.Width, preview.Height, len(preview.Data))

		if skipConfirm {
			break
		}
		choice := askChoice(fmt.Sprintf("Enroll this frame as %q? [y]es/[r]etake/[N]o: ", e.Name()))
		if choice == "r" || choice == "retake" {
			if err := e.Retake(); err != nil {
				return err
			}
			continue
		}
		if choice != "y" && choice != "yes" {
			_ = e.Cancel()
			fmt.Println("Cancelled.")
			return nil
		}
		break
	}

	out, err := e.Confirm(ctx)
	if err != nil {
		if errors.Is(err, flow.ErrCancelled) {
			fmt.Println("Cancelled.")
			return nil
		}
		return fmt.Errorf("storing enrollment: %w", err)
	}

	verb := "Updated"
	if out.Created {
		verb = "Enrolled"
	}
	fmt.Printf("%s %s (id %s)%s\n", verb, out.Record.DisplayName, out.Record.ID, simulatedNote(out.Record.Simulated))
	if out.Record.SourceImageRef != "" {
		fmt.Printf("  Frame: %s\n", out.Record.SourceImageRef)
	}
	if out.DuplicateOf != nil {
		fmt.Printf("  Looks like %s (distance %.3f)\n", out.DuplicateOf.DisplayName, out.DuplicateOf.Distance)
	}
	return nil
}
