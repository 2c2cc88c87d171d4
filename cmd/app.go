package cmd

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/face-id/internal/camera"
	"github.com/kozaktomas/face-id/internal/config"
	"github.com/kozaktomas/face-id/internal/database"
	"github.com/kozaktomas/face-id/internal/database/file"
	"github.com/kozaktomas/face-id/internal/database/postgres"
	"github.com/kozaktomas/face-id/internal/database/redis"
	"github.com/kozaktomas/face-id/internal/database/sqlite"
	"github.com/kozaktomas/face-id/internal/embedding"
	"github.com/kozaktomas/face-id/internal/facematch"
	"github.com/kozaktomas/face-id/internal/flow"
	"github.com/kozaktomas/face-id/internal/gallery"
	"github.com/kozaktomas/face-id/internal/logging"
)

func init() {
	database.RegisterBackend(config.StoreBackendFile, file.Open)
	database.RegisterBackend(config.StoreBackendPostgres, postgres.Open)
	database.RegisterBackend(config.StoreBackendRedis, redis.Open)
	database.RegisterBackend(config.StoreBackendSQLite, sqlite.Open)
}

// app holds the long-lived pieces every command shares.
type app struct {
	cfg      *config.Config
	store    database.EnrollmentStore
	gallery  *gallery.Gallery
	resolver *embedding.Resolver
	session  *camera.Session
	frames   flow.FrameSaver
}

type appOptions struct {
	device    camera.Device // nil selects the ffmpeg camera
	seed      bool
	showSeeds bool // progress bar while computing seed descriptors
}

// loadConfig loads and validates the environment configuration.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	store, err := database.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		store:    store,
		resolver: embedding.NewResolverFromConfig(cfg.Embedding),
		gallery: gallery.New(gallery.Options{
			Store:             store,
			IndexPath:         cfg.Gallery.HNSWIndexPath,
			DuplicateDistance: cfg.Gallery.DuplicateDistance,
		}),
	}
	if cfg.Store.CapturesDir != "" {
		a.frames = flow.DirFrameSaver{Dir: cfg.Store.CapturesDir}
	}

	if _, err := a.gallery.LoadPersisted(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if opts.seed && cfg.Gallery.SeedPath != "" {
		if err := a.loadSeeds(ctx, opts.showSeeds); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.gallery.InitIndex()

	a.session = newSession(cfg, opts.device)

	logging.Component("app").WithFields(logging.Fields{
		"store":     cfg.Store.Backend,
		"embedding": cfg.Embedding.Backend,
		"records":   a.gallery.Len(),
	}).Debug("application ready")
	return a, nil
}

// newSession wraps device, or the ffmpeg camera when nil, with the configured defaults.
func newSession(cfg *config.Config, device camera.Device) *camera.Session {
	if device == nil {
		device = camera.NewFFmpegDevice()
	}
	return camera.NewSession(device, camera.Constraints{
		DeviceID: cfg.Camera.Device,
		Width:    cfg.Camera.Width,
		Height:   cfg.Camera.Height,
		FPS:      cfg.Camera.FPS,
	}, cfg.Camera.MetadataTimeout)
}

// loadSeeds computes descriptors for the demo identities listed in the seed file.
func (a *app) loadSeeds(ctx context.Context, showProgress bool) error {
	entries, err := gallery.LoadSeedFile(a.cfg.Gallery.SeedPath)
	if err != nil {
		return err
	}

	var progress gallery.SeedProgress
	if showProgress && len(entries) > 0 {
		bar := progressbar.NewOptions(len(entries),
			progressbar.OptionSetDescription("Seeding gallery"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("faces"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
		defer func() { _ = bar.Finish() }()
		progress = func(gallery.SeedEntry, error) { _ = bar.Add(1) }
	}

	seeds, err := gallery.ComputeSeeds(ctx, entries, a.resolver, a.cfg.Gallery.SeedConcurrency, progress)
	if err != nil {
		return err
	}
	return a.gallery.AddSeeds(seeds)
}

func (a *app) matchOptions() facematch.Options {
	return facematch.Options{
		Threshold:      a.cfg.Matching.ConfidenceThreshold,
		AuthorizedOnly: a.cfg.Matching.AuthorizedOnly,
	}
}

// Close releases the camera and the store.
func (a *app) Close() {
	if a.session != nil {
		a.session.Release()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logging.Component("app").WithError(err).Warn("closing store")
		}
	}
}

// imageDevice registers still images as cameras for --image.
func imageDevice(paths []string) (camera.Device, string, error) {
	device := camera.NewImageDevice()
	first := ""
	for _, p := range paths {
		id, err := device.AddFile(p)
		if err != nil {
			return nil, "", err
		}
		if first == "" {
			first = id
		}
	}
	return device, first, nil
}
