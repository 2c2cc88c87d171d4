// Package file persists self-enrolled records as a JSON document on disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/kozaktomas/face-id/internal/config"
	"github.com/kozaktomas/face-id/internal/database"
	"github.com/kozaktomas/face-id/internal/facematch"
)

// DefaultPath is used when STORE_PATH is empty.
const DefaultPath = "data/faces.json"

const fileVersion = 1

type document struct {
	Version int                    `json:"version"`
	Records []facematch.FaceRecord `json:"records"`
}

// Store keeps every record in a single JSON file, rewritten atomically on each change.
type Store struct {
	path string
	mu   sync.Mutex
}

var _ database.EnrollmentStore = (*Store)(nil)

// New creates a store backed by path. The file is created on first Save.
func New(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	return &Store{path: path}, nil
}

// Open is the database.StoreOpener for the file backend.
func Open(_ context.Context, cfg *config.Config) (database.EnrollmentStore, error) {
	return New(cfg.Store.Path)
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) read() (map[string]facematch.FaceRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]facematch.FaceRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.path, err)
	}
	out := make(map[string]facematch.FaceRecord, len(doc.Records))
	for _, rec := range doc.Records {
		out[rec.ID] = rec
	}
	return out, nil
}

func (s *Store) write(records map[string]facematch.FaceRecord) error {
	doc := document{Version: fileVersion, Records: sorted(records)}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding records: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".faces-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}

func sorted(records map[string]facematch.FaceRecord) []facematch.FaceRecord {
	out := make([]facematch.FaceRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnrolledAt.Equal(out[j].EnrolledAt) {
			return out[i].EnrolledAt.Before(out[j].EnrolledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Load returns all records, oldest enrollment first.
func (s *Store) Load(ctx context.Context) ([]facematch.FaceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	return sorted(records), nil
}

// Save inserts or replaces a record.
func (s *Store) Save(ctx context.Context, rec facematch.FaceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return errors.New("record ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	records[rec.ID] = rec
	return s.write(records)
}

// Delete removes a record by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := records[id]; !ok {
		return nil
	}
	delete(records, id)
	return s.write(records)
}

// Close is a no-op; the file is not held open between calls.
func (s *Store) Close() error {
	return nil
}
