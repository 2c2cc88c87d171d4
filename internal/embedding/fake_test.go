package embedding

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/face-id/internal/facematch"
)

// fakeModel is a scriptable Model for tests.
type fakeModel struct {
	name      string
	loadErr   error
	loadGate  chan struct{} // when set, Load blocks until closed
	embedErr  error
	desc      facematch.Descriptor
	loadCalls atomic.Int32

	mu         sync.Mutex
	embedCalls int
}

func (f *fakeModel) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeModel) Load(ctx context.Context) error {
	f.loadCalls.Add(1)
	if f.loadGate != nil {
		select {
		case <-f.loadGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.loadErr
}

func (f *fakeModel) Embed(ctx context.Context, frame []byte) (facematch.Descriptor, error) {
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return f.desc, nil
}

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embedCalls
}
