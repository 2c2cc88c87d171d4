package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/face-id/internal/config"
	"github.com/kozaktomas/face-id/internal/database"
	"github.com/kozaktomas/face-id/internal/database/mock"
)

func TestOpenStore(t *testing.T) {
	store := mock.NewMockEnrollmentStore()
	database.RegisterBackend("test-mock", func(ctx context.Context, cfg *config.Config) (database.EnrollmentStore, error) {
		return store, nil
	})
	failErr := errors.New("boom")
	database.RegisterBackend("test-failing", func(ctx context.Context, cfg *config.Config) (database.EnrollmentStore, error) {
		return nil, failErr
	})

	tests := []struct {
		backend string
		wantErr error
	}{
		{"test-mock", nil},
		{"test-failing", failErr},
		{"unknown", database.ErrNoBackend},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := &config.Config{Store: config.StoreConfig{Backend: tt.backend}}
			got, err := database.OpenStore(context.Background(), cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("OpenStore() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenStore() error = %v", err)
			}
			if got != store {
				t.Errorf("OpenStore() returned a different store")
			}
		})
	}
}

func TestBackendsSorted(t *testing.T) {
	database.RegisterBackend("zz-test", nil)
	database.RegisterBackend("aa-test", nil)

	names := database.Backends()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("Backends() not sorted: %v", names)
		}
	}
}
