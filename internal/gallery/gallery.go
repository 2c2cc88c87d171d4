// Package gallery keeps the enrolled face records used for authentication.
//
// Self-enrolled records are persisted through a database.EnrollmentStore and always
// ordered before seeded demo records; seeded records live only in memory.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-id/internal/database"
	"github.com/kozaktomas/face-id/internal/facematch"
	"github.com/kozaktomas/face-id/internal/logging"
)

var (
	ErrNotFound       = errors.New("face record not found")
	ErrDuplicateID    = errors.New("face record already exists")
	ErrInvalidRecord  = errors.New("invalid face record")
	ErrNameRequired   = errors.New("display name is required")
	ErrNoDescriptor   = errors.New("descriptor is required")
	ErrIDChangeDenied = errors.New("record ID cannot be changed")
)

// Options configures a Gallery.
type Options struct {
	// Store persists self-enrolled records; nil keeps everything in memory.
	Store database.EnrollmentStore
	// IndexPath persists the duplicate index between runs; empty disables persistence.
	IndexPath string
	// DuplicateDistance is the Euclidean distance below which Upsert reports a
	// differently named record as a possible duplicate. Zero uses the default.
	DuplicateDistance float64
}

// UpsertResult describes what Upsert did.
type UpsertResult struct {
	Record      facematch.FaceRecord
	Created     bool
	DuplicateOf *database.Neighbor
}

// Gallery is the ordered, goroutine-safe collection of enrolled records.
type Gallery struct {
	mu      sync.RWMutex
	records []facematch.FaceRecord

	store             database.EnrollmentStore
	index             *database.HNSWIndex
	indexPath         string
	duplicateDistance float64
	log               *logrus.Entry
	now               func() time.Time
}

// New creates an empty gallery.
func New(opts Options) *Gallery {
	dist := opts.DuplicateDistance
	if dist <= 0 {
		dist = database.DefaultDuplicateDistance
	}
	return &Gallery{
		store:             opts.Store,
		index:             database.NewHNSWIndex(),
		indexPath:         opts.IndexPath,
		duplicateDistance: dist,
		log:               logging.Component("gallery"),
		now:               time.Now,
	}
}

// LoadPersisted reads self-enrolled records from the store and places them
// ahead of any seeded records.
func (g *Gallery) LoadPersisted(ctx context.Context) (int, error) {
	if g.store == nil {
		return 0, nil
	}
	persisted, err := g.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading persisted records: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	self := make([]facematch.FaceRecord, 0, len(persisted))
	for _, rec := range persisted {
		if g.indexOfLocked(rec.ID) >= 0 {
			continue
		}
		rec.SelfEnrolled = true
		self = append(self, rec.Clone())
	}
	g.records = append(self, g.records...)
	for _, rec := range self {
		g.index.Add(rec)
	}

	g.log.WithField("records", len(self)).Info("loaded persisted enrollments")
	return len(self), nil
}

// AddSeeds appends seeded records after every self-enrolled one. Seeds are never persisted.
func (g *Gallery) AddSeeds(seeds []facematch.FaceRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, rec := range seeds {
		rec.SelfEnrolled = false
		if err := validate(rec); err != nil {
			return err
		}
		if g.indexOfLocked(rec.ID) >= 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
		}
		g.records = append(g.records, rec.Clone())
		g.index.Add(rec)
	}
	return nil
}

// InitIndex loads the saved duplicate index when it still describes the
// gallery, and rebuilds it otherwise.
func (g *Gallery) InitIndex() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.indexPath != "" {
		loaded := database.NewHNSWIndex()
		meta, err := loaded.LoadWithMetadata(g.indexPath)
		switch {
		case err == nil && g.indexCurrentLocked(loaded, meta):
			g.index = loaded
			g.log.WithField("records", meta.RecordCount).Debug("using saved duplicate index")
			return
		case err != nil && !errors.Is(err, database.ErrIndexNotFound):
			g.log.WithError(err).Warn("ignoring unreadable duplicate index")
		}
	}
	g.index.Build(g.records)
	g.saveIndexLocked()
}

func (g *Gallery) indexCurrentLocked(idx *database.HNSWIndex, meta database.HNSWIndexMetadata) bool {
	count := 0
	for _, rec := range g.records {
		if len(rec.Descriptor) == 0 || len(rec.Descriptor) != meta.Dim {
			continue
		}
		if !idx.Contains(rec.ID) {
			return false
		}
		count++
	}
	return count == meta.RecordCount
}

func (g *Gallery) saveIndexLocked() {
	if g.indexPath == "" {
		return
	}
	if err := g.index.SaveWithMetadata(g.indexPath); err != nil {
		g.log.WithError(err).Warn("failed to save duplicate index")
	}
}

func validate(rec facematch.FaceRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: ID is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(rec.DisplayName) == "" {
		return ErrNameRequired
	}
	if len(rec.Descriptor) == 0 {
		return ErrNoDescriptor
	}
	return nil
}

func (g *Gallery) indexOfLocked(id string) int {
	for i := range g.records {
		if g.records[i].ID == id {
			return i
		}
	}
	return -1
}

// selfCountLocked returns the position where the seeded segment begins.
func (g *Gallery) selfCountLocked() int {
	n := 0
	for n < len(g.records) && g.records[n].SelfEnrolled {
		n++
	}
	return n
}

func (g *Gallery) insertLocked(rec facematch.FaceRecord) {
	if !rec.SelfEnrolled {
		g.records = append(g.records, rec)
		return
	}
	at := g.selfCountLocked()
	g.records = append(g.records, facematch.FaceRecord{})
	copy(g.records[at+1:], g.records[at:])
	g.records[at] = rec
}

func (g *Gallery) persistLocked(ctx context.Context, rec facematch.FaceRecord) error {
	if g.store == nil || !rec.SelfEnrolled {
		return nil
	}
	if err := g.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("persisting record %s: %w", rec.ID, err)
	}
	return nil
}

func (g *Gallery) unpersistLocked(ctx context.Context, rec facematch.FaceRecord) error {
	if g.store == nil || !rec.SelfEnrolled {
		return nil
	}
	if err := g.store.Delete(ctx, rec.ID); err != nil {
		return fmt.Errorf("deleting persisted record %s: %w", rec.ID, err)
	}
	return nil
}

// Add inserts a new record. Self-enrolled records are persisted before Add returns.
func (g *Gallery) Add(ctx context.Context, rec facematch.FaceRecord) error {
	if err := validate(rec); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.indexOfLocked(rec.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}
	rec = rec.Clone()
	if err := g.persistLocked(ctx, rec); err != nil {
		return err
	}
	g.insertLocked(rec)
	g.index.Add(rec)
	g.saveIndexLocked()
	return nil
}

// Update replaces the record with the given ID, keeping its position.
func (g *Gallery) Update(ctx context.Context, id string, rec facematch.FaceRecord) error {
	if rec.ID == "" {
		rec.ID = id
	}
	if rec.ID != id {
		return ErrIDChangeDenied
	}
	if err := validate(rec); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	i := g.indexOfLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	old := g.records[i]
	rec = rec.Clone()
	if old.SelfEnrolled != rec.SelfEnrolled {
		// moving between segments changes ordering and persistence
		if err := g.unpersistLocked(ctx, old); err != nil {
			return err
		}
		if err := g.persistLocked(ctx, rec); err != nil {
			return err
		}
		g.records = append(g.records[:i], g.records[i+1:]...)
		g.insertLocked(rec)
	} else {
		if err := g.persistLocked(ctx, rec); err != nil {
			return err
		}
		g.records[i] = rec
	}
	g.index.Add(rec)
	g.saveIndexLocked()
	return nil
}

// Remove deletes a record by ID.
func (g *Gallery) Remove(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	i := g.indexOfLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := g.unpersistLocked(ctx, g.records[i]); err != nil {
		return err
	}
	g.records = append(g.records[:i], g.records[i+1:]...)
	g.index.Delete(id)
	g.saveIndexLocked()
	return nil
}

// List returns a copy of every record, self-enrolled first.
func (g *Gallery) List() []facematch.FaceRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]facematch.FaceRecord, len(g.records))
	for i := range g.records {
		out[i] = g.records[i].Clone()
	}
	return out
}

// SelfEnrolled returns copies of the self-enrolled records.
func (g *Gallery) SelfEnrolled() []facematch.FaceRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := g.selfCountLocked()
	out := make([]facematch.FaceRecord, n)
	for i := 0; i < n; i++ {
		out[i] = g.records[i].Clone()
	}
	return out
}

// Len returns the number of records.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}

// Get returns a record by ID.
func (g *Gallery) Get(id string) (facematch.FaceRecord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if i := g.indexOfLocked(id); i >= 0 {
		return g.records[i].Clone(), true
	}
	return facematch.FaceRecord{}, false
}

// FindByName returns the first record whose normalized display name equals name's.
func (g *Gallery) FindByName(name string) (facematch.FaceRecord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if i := g.findByNameLocked(name, false); i >= 0 {
		return g.records[i].Clone(), true
	}
	return facematch.FaceRecord{}, false
}

func (g *Gallery) findByNameLocked(name string, selfOnly bool) int {
	norm := facematch.NormalizePersonName(name)
	if norm == "" {
		return -1
	}
	for i := range g.records {
		if selfOnly && !g.records[i].SelfEnrolled {
			continue
		}
		if facematch.NormalizePersonName(g.records[i].DisplayName) == norm {
			return i
		}
	}
	return -1
}

// Upsert stores a self-enrolled record, replacing an existing self-enrolled
// record with the same normalized display name. The write lock is held until
// the store has persisted the record.
func (g *Gallery) Upsert(ctx context.Context, rec facematch.FaceRecord) (UpsertResult, error) {
	rec.DisplayName = facematch.CleanDisplayName(rec.DisplayName)
	rec.SelfEnrolled = true
	if rec.EnrolledAt.IsZero() {
		rec.EnrolledAt = g.now()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	existing := g.findByNameLocked(rec.DisplayName, true)
	if existing >= 0 {
		rec.ID = g.records[existing].ID
	} else if rec.ID == "" || g.indexOfLocked(rec.ID) >= 0 {
		rec.ID = uuid.NewString()
	}
	if err := validate(rec); err != nil {
		return UpsertResult{}, err
	}
	rec = rec.Clone()

	if err := g.persistLocked(ctx, rec); err != nil {
		return UpsertResult{}, err
	}

	result := UpsertResult{Record: rec.Clone(), Created: existing < 0}
	if dup := g.index.FindDuplicate(rec.Descriptor, rec.DisplayName, g.duplicateDistance); dup != nil {
		result.DuplicateOf = dup
		g.log.WithFields(logging.Fields{
			"name":      rec.DisplayName,
			"duplicate": dup.DisplayName,
			"distance":  dup.Distance,
		}).Warn("enrollment is very close to a differently named identity")
	}

	if existing >= 0 {
		g.records[existing] = rec
	} else {
		g.insertLocked(rec)
	}
	g.index.Add(rec)
	g.saveIndexLocked()

	g.log.WithFields(logging.Fields{
		"id":        rec.ID,
		"name":      rec.DisplayName,
		"created":   result.Created,
		"simulated": rec.Simulated,
	}).Info("stored enrollment")
	return result, nil
}

// Clear removes every self-enrolled record from memory and from the store.
// Seeded records are kept.
func (g *Gallery) Clear(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.selfCountLocked()
	removed := 0
	for removed < n {
		rec := g.records[0]
		if err := g.unpersistLocked(ctx, rec); err != nil {
			g.saveIndexLocked()
			return removed, err
		}
		g.records = g.records[1:]
		g.index.Delete(rec.ID)
		removed++
	}
	g.saveIndexLocked()
	g.log.WithField("records", removed).Info("cleared self-enrollments")
	return removed, nil
}
