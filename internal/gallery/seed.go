package gallery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/face-id/internal/embedding"
	"github.com/kozaktomas/face-id/internal/facematch"
	"github.com/kozaktomas/face-id/internal/logging"
)

// DefaultSeedConcurrency bounds parallel descriptor computations while seeding.
const DefaultSeedConcurrency = 4

// SeedEntry is one demo identity from the seed list.
type SeedEntry struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	Role        string `yaml:"role"`
	Authorized  bool   `yaml:"authorized"`
	Image       string `yaml:"image"`
}

type seedFile struct {
	Identities []SeedEntry `yaml:"identities"`
}

// Embedder produces descriptors for seed images.
type Embedder interface {
	Embed(ctx context.Context, frame []byte) (embedding.Result, error)
}

// SeedProgress is called once per entry after its descriptor was computed or skipped.
// It may be called from several goroutines at once.
type SeedProgress func(entry SeedEntry, err error)

// LoadSeedFile reads a YAML seed list. Relative image paths are resolved against
// the directory of the seed file.
func LoadSeedFile(path string) ([]SeedEntry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", path, err)
	}

	base := filepath.Dir(path)
	seen := make(map[string]bool, len(file.Identities))
	for i := range file.Identities {
		e := &file.Identities[i]
		e.DisplayName = facematch.CleanDisplayName(e.DisplayName)
		if e.DisplayName == "" {
			return nil, fmt.Errorf("seed entry %d: %w", i, ErrNameRequired)
		}
		if e.Image == "" {
			return nil, fmt.Errorf("seed entry %q: image is required", e.DisplayName)
		}
		if e.ID == "" {
			e.ID = "seed-" + strings.ReplaceAll(facematch.NormalizePersonName(e.DisplayName), " ", "-")
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("seed entry %q: %w: %s", e.DisplayName, ErrDuplicateID, e.ID)
		}
		seen[e.ID] = true
		if !filepath.IsAbs(e.Image) {
			e.Image = filepath.Join(base, e.Image)
		}
	}
	return file.Identities, nil
}

// ComputeSeeds embeds every entry's image with bounded parallelism and returns
// the resulting records in seed-list order. Entries whose image cannot be read or
// shows no face are skipped with a warning; only context cancellation fails the batch.
func ComputeSeeds(ctx context.Context, entries []SeedEntry, embedder Embedder, concurrency int, progress SeedProgress) ([]facematch.FaceRecord, error) {
	if concurrency <= 0 {
		concurrency = DefaultSeedConcurrency
	}
	log := logging.Component("seed")

	results := make([]*facematch.FaceRecord, len(entries))
	var skipped atomic.Int32

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)

	for i, entry := range entries {
		eg.Go(func() error {
			rec, err := computeSeed(egCtx, entry, embedder)
			if egCtx.Err() != nil {
				return egCtx.Err()
			}
			if progress != nil {
				progress(entry, err)
			}
			if err != nil {
				skipped.Add(1)
				log.WithError(err).WithFields(logging.Fields{
					"id":    entry.ID,
					"image": entry.Image,
				}).Warn("skipping seed identity")
				return nil
			}
			results[i] = rec
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("computing seed descriptors: %w", err)
	}

	out := make([]facematch.FaceRecord, 0, len(entries))
	for _, rec := range results {
		if rec != nil {
			out = append(out, *rec)
		}
	}
	log.WithFields(logging.Fields{
		"seeded":  len(out),
		"skipped": skipped.Load(),
	}).Info("computed seed descriptors")
	return out, nil
}

func computeSeed(ctx context.Context, entry SeedEntry, embedder Embedder) (*facematch.FaceRecord, error) {
	data, err := os.ReadFile(entry.Image) //nolint:gosec // path is from trusted seed file
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}

	res, err := embedder.Embed(ctx, data)
	if errors.Is(err, embedding.ErrNoFaceDetected) {
		return nil, fmt.Errorf("no face in %s: %w", filepath.Base(entry.Image), err)
	}
	if err != nil {
		return nil, fmt.Errorf("embedding image: %w", err)
	}

	return &facematch.FaceRecord{
		ID:             entry.ID,
		DisplayName:    entry.DisplayName,
		Role:           entry.Role,
		Descriptor:     res.Descriptor,
		Authorized:     entry.Authorized,
		EnrolledAt:     time.Now(),
		SourceImageRef: entry.Image,
		Simulated:      res.Simulated,
		Model:          res.Model,
	}, nil
}
