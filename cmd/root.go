package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-id/internal/config"
	"github.com/kozaktomas/face-id/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "face-id",
	Short: "Enroll faces from a camera and authenticate against them",
	Long: `Face ID captures a face from a local camera (or a still image), turns it
into a descriptor and either stores it under a name or matches it against the
enrolled gallery.

When no embedding model is available a deterministic simulated classifier is
used instead, and results are marked as simulated.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if _, err := logging.Setup(cfg.Log); err != nil {
			return err
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
