// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/kozaktomas/face-id/internal/facematch"
)

// MockEnrollmentStore is an in-memory implementation of database.EnrollmentStore
type MockEnrollmentStore struct {
	mu      sync.RWMutex
	records map[string]facematch.FaceRecord

	SaveCalls   int
	DeleteCalls int
	Closed      bool

	// Error injection
	LoadError   error
	SaveError   error
	DeleteError error
}

// NewMockEnrollmentStore creates a new mock store, optionally pre-populated
func NewMockEnrollmentStore(records ...facematch.FaceRecord) *MockEnrollmentStore {
	m := &MockEnrollmentStore{
		records: make(map[string]facematch.FaceRecord, len(records)),
	}
	for _, rec := range records {
		m.records[rec.ID] = rec.Clone()
	}
	return m
}

// Load returns all records ordered by enrollment time
func (m *MockEnrollmentStore) Load(ctx context.Context) ([]facematch.FaceRecord, error) {
	if m.LoadError != nil {
		return nil, m.LoadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]facematch.FaceRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnrolledAt.Equal(out[j].EnrolledAt) {
			return out[i].EnrolledAt.Before(out[j].EnrolledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Save stores a record
func (m *MockEnrollmentStore) Save(ctx context.Context, rec facematch.FaceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	if m.SaveError != nil {
		return m.SaveError
	}
	m.records[rec.ID] = rec.Clone()
	return nil
}

// Delete removes a record
func (m *MockEnrollmentStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	if m.DeleteError != nil {
		return m.DeleteError
	}
	delete(m.records, id)
	return nil
}

// Close marks the store closed
func (m *MockEnrollmentStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Get returns a stored record (for test assertions)
func (m *MockEnrollmentStore) Get(id string) (facematch.FaceRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return rec.Clone(), ok
}

// Len returns the number of stored records
func (m *MockEnrollmentStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
