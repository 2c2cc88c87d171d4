package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-id/internal/camera"
	"github.com/kozaktomas/face-id/internal/flow"
)

var authenticateCmd = &cobra.Command{
	Use:     "authenticate",
	Aliases: []string{"auth"},
	Short:   "Match a face against the gallery",
	Example: `  face-id authenticate
  face-id auth --image probe.jpg --threshold 0.95 --json`,
	RunE: runAuthenticate,
}

func init() {
	rootCmd.AddCommand(authenticateCmd)

	addCameraFlags(authenticateCmd)
	authenticateCmd.Flags().Float64("threshold", 0, "Minimum confidence for a match (overrides FACE_CONFIDENCE_THRESHOLD)")
	authenticateCmd.Flags().Bool("json", false, "Output as JSON")
}

// authenticateReport is the --json output.
type authenticateReport struct {
	Verdict string                     `json:"verdict"`
	Outcome flow.AuthenticationOutcome `json:"outcome"`
}

func runAuthenticate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	jsonOutput := mustGetBool(cmd, "json")
	if threshold := mustGetFloat64(cmd, "threshold"); threshold > 0 {
		cfg.Matching.ConfidenceThreshold = threshold
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid --threshold: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := appOptions{seed: true, showSeeds: !jsonOutput}
	if err := applyCameraFlags(cmd, cfg, &opts); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	auth := flow.NewAuthentication(flow.AuthenticationOptions{
		ID:       uuid.NewString(),
		Camera:   a.session,
		Embedder: a.resolver,
		Gallery:  a.gallery,
		Match:    a.matchOptions(),
	})
	defer auth.Close()

	if err := auth.StartCamera(ctx, camera.Constraints{}); err != nil {
		return fmt.Errorf("starting camera: %w", err)
	}
	if err := auth.Capture(ctx); err != nil {
		return fmt.Errorf("capturing frame: %w", err)
	}
	out, err := auth.Confirm(ctx)
	if err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}

	verdict := "denied"
	if out.Result.IsMatch() {
		verdict = "granted"
	}
	if jsonOutput {
		return outputJSON(authenticateReport{Verdict: verdict, Outcome: out})
	}

	res := out.Result
	if res.IsMatch() {
		fmt.Printf("Access granted: %s%s\n", res.Matched.DisplayName, simulatedNote(res.Simulated))
	} else {
		fmt.Printf("Access denied: %s%s\n", out.Reason, simulatedNote(res.Simulated))
	}
	fmt.Printf("  Confidence: %.3f (threshold %.3f)\n", res.Confidence, res.ThresholdUsed)
	fmt.Printf("  Candidates: %d", res.Candidates)
	if res.AuthorizedOnlyFilterApplied {
		fmt.Print(" (authorized only)")
	}
	fmt.Println()
	if out.Model != "" {
		fmt.Printf("  Model:      %s\n", out.Model)
	}
	return nil
}
