package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-id/internal/camera"
	"github.com/kozaktomas/face-id/internal/logging"
	"github.com/kozaktomas/face-id/internal/web"
	"github.com/kozaktomas/face-id/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Face ID web server.
The API drives enrollment and authentication flows, streams a camera preview
over a websocket and reports flow progress as server-sent events.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	addCameraFlags(serveCmd)
	serveCmd.Flags().Bool("preload", true, "Load the embedding model at startup instead of on first use")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := appOptions{seed: true}
	if err := applyCameraFlags(cmd, cfg, &opts); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if mustGetBool(cmd, "preload") {
		go func() {
			mode := a.resolver.Preload(ctx)
			logging.Component("embedding").WithFields(logging.Fields{
				"model":     mode.Model,
				"state":     mode.State,
				"simulated": mode.Simulated,
			}).Info("embedding model status")
		}()
	}

	server := web.NewServer(cfg, handlers.Services{
		Config:   cfg,
		Camera:   a.session,
		Embedder: a.resolver,
		Gallery:  a.gallery,
		Frames:   a.frames,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Face ID API on http://%s:%d/api/v1\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Printf("Gallery: %d identities, store: %s\n", a.gallery.Len(), cfg.Store.Backend)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}

// describeCamera formats a camera state for terminal output.
func describeCamera(st camera.State) string {
	label := st.DeviceLabel
	if label == "" {
		label = st.DeviceID
	}
	if st.Width > 0 && st.Height > 0 {
		return fmt.Sprintf("%s (%dx%d)", label, st.Width, st.Height)
	}
	return label
}
