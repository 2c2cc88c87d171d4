package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/face-id/internal/facematch"
	"github.com/kozaktomas/face-id/internal/logging"
)

const hnswMetadataVersion = 1

// ErrIndexNotFound is returned by LoadWithMetadata when no index was saved at the path.
var ErrIndexNotFound = errors.New("HNSW index file not found")

// HNSWIndex is an approximate nearest-neighbour index over enrolled descriptors.
// It only serves duplicate warnings; authentication always uses the exact matcher.
type HNSWIndex struct {
	graph   *hnsw.Graph[string]
	records map[string]IndexedRecord
	dim     int
	dirty   bool // graph must be rebuilt from records before the next search
	mu      sync.Mutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		records: make(map[string]IndexedRecord),
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Build replaces the index content with the given records.
// Records with an empty descriptor or a dimension different from the first
// indexed record are skipped.
func (h *HNSWIndex) Build(records []facematch.FaceRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = make(map[string]IndexedRecord, len(records))
	h.dim = 0
	for i := range records {
		h.putLocked(records[i])
	}
	h.rebuildLocked()
}

// Add inserts or replaces a single record.
func (h *HNSWIndex) Add(rec facematch.FaceRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.records[rec.ID]; exists {
		h.dirty = true
	}
	if !h.putLocked(rec) {
		return
	}
	if h.dirty {
		return
	}
	if h.graph == nil {
		h.graph = newGraph()
	}
	h.graph.Add(hnsw.MakeNode(rec.ID, []float32(rec.Descriptor)))
}

func (h *HNSWIndex) putLocked(rec facematch.FaceRecord) bool {
	if len(rec.Descriptor) == 0 {
		return false
	}
	if h.dim == 0 {
		h.dim = len(rec.Descriptor)
	}
	if len(rec.Descriptor) != h.dim {
		logging.Component("hnsw").WithFields(logging.Fields{
			"id":  rec.ID,
			"dim": len(rec.Descriptor),
		}).Warn("skipping descriptor with foreign dimension")
		return false
	}
	desc := make(facematch.Descriptor, len(rec.Descriptor))
	copy(desc, rec.Descriptor)
	h.records[rec.ID] = IndexedRecord{
		ID:          rec.ID,
		DisplayName: rec.DisplayName,
		Model:       rec.Model,
		Descriptor:  desc,
	}
	return true
}

// Delete removes a record from the index.
func (h *HNSWIndex) Delete(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.records[id]; !ok {
		return
	}
	delete(h.records, id)
	h.dirty = true
	if len(h.records) == 0 {
		h.graph = nil
		h.dim = 0
		h.dirty = false
	}
}

// rebuildLocked recreates the graph from records in ID order so builds are reproducible.
func (h *HNSWIndex) rebuildLocked() {
	h.dirty = false
	if len(h.records) == 0 {
		h.graph = nil
		return
	}

	ids := make([]string, 0, len(h.records))
	for id := range h.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	g := newGraph()
	for _, id := range ids {
		g.Add(hnsw.MakeNode(id, []float32(h.records[id].Descriptor)))
	}
	h.graph = g
}

// Search finds up to k nearest records to the query descriptor, closest first.
func (h *HNSWIndex) Search(query facematch.Descriptor, k int) []Neighbor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.searchLocked(query, k)
}

func (h *HNSWIndex) searchLocked(query facematch.Descriptor, k int) []Neighbor {
	if k <= 0 || len(query) == 0 || len(query) != h.dim {
		return nil
	}
	if h.dirty {
		h.rebuildLocked()
	}
	if h.graph == nil || h.graph.Len() == 0 {
		return nil
	}

	nodes := h.graph.Search([]float32(query), k)
	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		rec, ok := h.records[n.Key]
		if !ok {
			continue
		}
		out = append(out, Neighbor{
			ID:          rec.ID,
			DisplayName: rec.DisplayName,
			Distance:    facematch.EuclideanDistance(query, rec.Descriptor),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

// FindDuplicate returns the closest record within maxDistance whose normalized
// display name differs from name, or nil.
func (h *HNSWIndex) FindDuplicate(query facematch.Descriptor, name string, maxDistance float64) *Neighbor {
	h.mu.Lock()
	defer h.mu.Unlock()

	norm := facematch.NormalizePersonName(name)
	for _, n := range h.searchLocked(query, 1+HNSWSearchMultiplier) {
		if n.Distance > maxDistance {
			break
		}
		if facematch.NormalizePersonName(n.DisplayName) == norm {
			continue
		}
		hit := n
		return &hit
	}
	return nil
}

// Count returns the number of indexed records.
func (h *HNSWIndex) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

// Contains reports whether a record ID is indexed.
func (h *HNSWIndex) Contains(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.records[id]
	return ok
}

// SaveWithMetadata persists the graph, a .meta JSON file and a .records gob file.
// An empty index removes any previously saved files.
func (h *HNSWIndex) SaveWithMetadata(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dirty {
		h.rebuildLocked()
	}
	if h.graph == nil {
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".records")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close HNSW index file: %w", err)
	}

	metadata := HNSWIndexMetadata{
		RecordCount: len(h.records),
		Dim:         h.dim,
		BuildTime:   time.Now(),
		Version:     hnswMetadataVersion,
	}
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	records := make([]IndexedRecord, 0, len(h.records))
	for _, rec := range h.records {
		records = append(records, rec)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(records); err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	if err := os.WriteFile(path+".records", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write records file: %w", err)
	}

	logging.Component("hnsw").WithFields(logging.Fields{
		"path":    path,
		"records": len(records),
	}).Debug("saved duplicate index")
	return nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// LoadWithMetadata loads a graph saved by SaveWithMetadata.
func (h *HNSWIndex) LoadWithMetadata(path string) (HNSWIndexMetadata, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return HNSWIndexMetadata{}, fmt.Errorf("%w: %s", ErrIndexNotFound, path)
	}

	metadata, err := LoadHNSWMetadata(path)
	if err != nil {
		return metadata, err
	}
	if metadata.Version != hnswMetadataVersion {
		return metadata, fmt.Errorf("unsupported HNSW index version %d", metadata.Version)
	}

	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return metadata, fmt.Errorf("failed to load HNSW index: %w", err)
	}

	data, err := os.ReadFile(path + ".records") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read records file: %w", err)
	}
	var records []IndexedRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&records); err != nil {
		return metadata, fmt.Errorf("failed to decode records: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = saved.Graph
	h.graph.Distance = hnsw.EuclideanDistance
	h.dim = metadata.Dim
	h.dirty = false
	h.records = make(map[string]IndexedRecord, len(records))
	for _, rec := range records {
		h.records[rec.ID] = rec
	}
	return metadata, nil
}
