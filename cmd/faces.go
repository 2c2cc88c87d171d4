package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var facesCmd = &cobra.Command{
	Use:   "faces",
	Short: "Inspect and manage the enrolled gallery",
}

var facesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities",
	RunE:  runFacesList,
}

var facesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every self-enrolled identity",
	Long: `Remove every identity enrolled through this application.
Seeded demo identities are not affected.`,
	RunE: runFacesClear,
}

var facesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Compute descriptors for the seed file and list them",
	RunE:  runFacesSeed,
}

func init() {
	rootCmd.AddCommand(facesCmd)
	facesCmd.AddCommand(facesListCmd)
	facesCmd.AddCommand(facesClearCmd)
	facesCmd.AddCommand(facesSeedCmd)

	facesListCmd.Flags().Bool("json", false, "Output as JSON")
	facesListCmd.Flags().Bool("seeds", false, "Include seeded demo identities")
	facesClearCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
}

// faceSummary is a record without its descriptor.
type faceSummary struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	Role         string `json:"role,omitempty"`
	Authorized   bool   `json:"authorized"`
	SelfEnrolled bool   `json:"self_enrolled"`
	Simulated    bool   `json:"simulated"`
	Model        string `json:"model,omitempty"`
	EnrolledAt   string `json:"enrolled_at"`
	Dim          int    `json:"dim"`
}

func runFacesList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	jsonOutput := mustGetBool(cmd, "json")
	withSeeds := mustGetBool(cmd, "seeds")

	ctx := context.Background()
	a, err := newApp(ctx, cfg, appOptions{seed: withSeeds, showSeeds: withSeeds && !jsonOutput})
	if err != nil {
		return err
	}
	defer a.Close()

	records := a.gallery.List()
	summaries := make([]faceSummary, 0, len(records))
	for _, r := range records {
		summaries = append(summaries, faceSummary{
			ID:           r.ID,
			DisplayName:  r.DisplayName,
			Role:         r.Role,
			Authorized:   r.Authorized,
			SelfEnrolled: r.SelfEnrolled,
			Simulated:    r.Simulated,
			Model:        r.Model,
			EnrolledAt:   r.EnrolledAt.Format("2006-01-02 15:04:05"),
			Dim:          len(r.Descriptor),
		})
	}

	if jsonOutput {
		return outputJSON(summaries)
	}
	if len(summaries) == 0 {
		fmt.Println("No identities enrolled.")
		return nil
	}

	fmt.Printf("%-36s  %-24s  %-10s  %-5s  %s\n", "ID", "NAME", "AUTHORIZED", "DIM", "ENROLLED")
	for _, s := range summaries {
		name := s.DisplayName + simulatedNote(s.Simulated)
		if !s.SelfEnrolled {
			name += " [seed]"
		}
		fmt.Printf("%-36s  %-24s  %-10t  %-5d  %s\n", s.ID, name, s.Authorized, s.Dim, s.EnrolledAt)
	}
	fmt.Printf("\n%d identities\n", len(summaries))
	return nil
}

func runFacesClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	skipConfirm := mustGetBool(cmd, "yes")

	ctx := context.Background()
	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	count := len(a.gallery.SelfEnrolled())
	if count == 0 {
		fmt.Println("No self-enrolled identities.")
		return nil
	}
	if !skipConfirm && !confirmAction(fmt.Sprintf("Remove %d self-enrolled identit(ies)? [y/N]: ", count)) {
		fmt.Println("Aborted.")
		return nil
	}

	removed, err := a.gallery.Clear(ctx)
	if err != nil {
		return fmt.Errorf("clearing gallery: %w", err)
	}
	fmt.Printf("Removed %d identities\n", removed)
	return nil
}

func runFacesSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Gallery.SeedPath == "" {
		return errors.New("GALLERY_SEED_PATH is not set")
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, appOptions{seed: true, showSeeds: true})
	if err != nil {
		return err
	}
	defer a.Close()

	for _, r := range a.gallery.List() {
		if r.SelfEnrolled {
			continue
		}
		fmt.Printf("%-24s  %-12s  authorized=%-5t  model=%s%s\n",
			r.DisplayName, r.Role, r.Authorized, r.Model, simulatedNote(r.Simulated))
	}
	mode := a.resolver.Mode()
	fmt.Printf("\nEmbedding: %s (%s)%s\n", mode.Model, mode.State, simulatedNote(mode.Simulated))
	return nil
}
