package database

import (
	"time"

	"github.com/kozaktomas/face-id/internal/facematch"
)

// IndexedRecord is the part of a face record kept by the duplicate index.
type IndexedRecord struct {
	ID          string
	DisplayName string
	Model       string
	Descriptor  facematch.Descriptor
}

// Neighbor is a search hit from the duplicate index.
type Neighbor struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Distance    float64 `json:"distance"`
}

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	RecordCount int       `json:"record_count"`
	Dim         int       `json:"dim"`
	BuildTime   time.Time `json:"build_time"`
	Version     int       `json:"version"`
}
