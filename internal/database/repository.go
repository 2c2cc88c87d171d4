package database

import (
	"context"

	"github.com/kozaktomas/face-id/internal/facematch"
)

// EnrollmentReader provides read-only access to persisted face records.
type EnrollmentReader interface {
	// Load returns every persisted record, oldest enrollment first
	Load(ctx context.Context) ([]facematch.FaceRecord, error)
}

// EnrollmentWriter provides write access to persisted face records.
type EnrollmentWriter interface {
	EnrollmentReader

	// Save inserts or replaces the record with the same ID
	Save(ctx context.Context, rec facematch.FaceRecord) error
	// Delete removes a record by ID; deleting an unknown ID is not an error
	Delete(ctx context.Context, id string) error
}

// EnrollmentStore is a durable backend for self-enrolled records.
type EnrollmentStore interface {
	EnrollmentWriter

	// Close releases connections or file handles held by the backend
	Close() error
}
