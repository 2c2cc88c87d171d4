package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kozaktomas/face-id/internal/config"
)

// ErrNoBackend is returned when the configured store backend was never registered.
var ErrNoBackend = errors.New("storage backend not registered")

// StoreOpener opens a store for the given configuration.
type StoreOpener func(ctx context.Context, cfg *config.Config) (EnrollmentStore, error)

var (
	backends   = map[string]StoreOpener{}
	backendsMu sync.RWMutex
)

// RegisterBackend registers a store constructor under a backend name.
// Backend packages are registered by the caller to avoid import cycles.
func RegisterBackend(name string, open StoreOpener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = open
}

// Backends returns the registered backend names in sorted order.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenStore opens the backend selected by cfg.Store.Backend.
func OpenStore(ctx context.Context, cfg *config.Config) (EnrollmentStore, error) {
	backendsMu.RLock()
	open, ok := backends[cfg.Store.Backend]
	backendsMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrNoBackend, cfg.Store.Backend, Backends())
	}

	store, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}
	return store, nil
}
