package database

// HNSW index parameters for 128-dim face descriptors
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// to ensure we have enough after name filtering.
	HNSWSearchMultiplier = 3
)

// DefaultDuplicateDistance is the Euclidean distance under which two
// differently named enrollments are reported as possible duplicates.
const DefaultDuplicateDistance = 0.4
