package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-id/internal/database"
	"github.com/kozaktomas/face-id/internal/embedding"
)

// Build metadata variables, set by -ldflags at compile time.
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and the compiled-in backends",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("face-id %s (%s)\n", Version, runtime.Version())
		fmt.Printf("  Commit:   %s\n", CommitSHA)
		fmt.Printf("  Built:    %s\n", BuildDate)
		fmt.Printf("  Stores:   %s\n", strings.Join(database.Backends(), ", "))
		fmt.Printf("  dlib:     %t\n", embedding.DlibCompiled)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
