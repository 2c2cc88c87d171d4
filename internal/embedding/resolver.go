package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kozaktomas/face-id/internal/facematch"
	"github.com/kozaktomas/face-id/internal/logging"
)

// Result is a descriptor together with the model that produced it.
type Result struct {
	Descriptor facematch.Descriptor
	Model      string
	Simulated  bool
}

// Mode describes which implementation currently answers Embed calls.
type Mode struct {
	Model     string `json:"model"`
	State     State  `json:"state"`
	Fallback  bool   `json:"fallback"`
	Simulated bool   `json:"simulated"`
	Reason    string `json:"reason,omitempty"`
}

type simulator interface {
	Simulated() bool
}

// Resolver routes embedding calls to the loaded model, switching permanently to the
// fallback model once the primary one fails to load or errors at runtime.
type Resolver struct {
	loader   *Loader
	fallback Model

	mu       sync.RWMutex
	degraded bool
	reason   error
}

// NewResolver creates a resolver over a loader and a fallback model.
func NewResolver(loader *Loader, fallback Model) *Resolver {
	return &Resolver{loader: loader, fallback: fallback}
}

// Embed returns a descriptor for frame. ErrNoFaceDetected is passed through from the
// primary model; any other model failure switches the resolver to the fallback for
// the rest of its lifetime and answers from there.
func (r *Resolver) Embed(ctx context.Context, frame []byte) (Result, error) {
	if r.Degraded() {
		return r.Fallback(ctx, frame)
	}

	// Loading outlives the request that triggered it.
	r.loader.Start(context.WithoutCancel(ctx))
	state, err := r.loader.Await(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	if state == StateFailed {
		r.degrade(err)
		return r.Fallback(ctx, frame)
	}

	model := r.loader.Model()
	desc, err := model.Embed(ctx, frame)
	switch {
	case err == nil:
		return Result{Descriptor: desc, Model: model.Name(), Simulated: isSimulated(model)}, nil
	case errors.Is(err, ErrNoFaceDetected):
		return Result{Model: model.Name(), Simulated: isSimulated(model)}, err
	case ctx.Err() != nil:
		return Result{}, ctx.Err()
	default:
		r.degrade(fmt.Errorf("%w: %w", ErrModelFailed, err))
		return r.Fallback(ctx, frame)
	}
}

// Preload loads the primary model ahead of the first Embed call and reports the
// resulting mode. A failed load switches to the fallback immediately.
func (r *Resolver) Preload(ctx context.Context) Mode {
	if !r.Degraded() {
		r.loader.Start(context.WithoutCancel(ctx))
		if state, err := r.loader.Await(ctx); state == StateFailed {
			r.degrade(err)
		}
	}
	return r.Mode()
}

// Fallback embeds frame with the fallback model regardless of the primary model's state.
func (r *Resolver) Fallback(ctx context.Context, frame []byte) (Result, error) {
	desc, err := r.fallback.Embed(ctx, frame)
	if err != nil {
		return Result{}, fmt.Errorf("fallback embedding: %w", err)
	}
	return Result{Descriptor: desc, Model: r.fallback.Name(), Simulated: true}, nil
}

// Degraded reports whether the fallback answers all calls.
func (r *Resolver) Degraded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.degraded
}

// Mode reports the current routing for display.
func (r *Resolver) Mode() Mode {
	state, _ := r.loader.Status()
	model := r.loader.Model()

	r.mu.RLock()
	defer r.mu.RUnlock()

	m := Mode{
		Model:     model.Name(),
		State:     state,
		Fallback:  r.degraded,
		Simulated: r.degraded || isSimulated(model),
	}
	if r.degraded {
		m.Model = r.fallback.Name()
		if r.reason != nil {
			m.Reason = r.reason.Error()
		}
	}
	return m
}

func (r *Resolver) degrade(reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.degraded {
		return
	}
	r.degraded = true
	r.reason = reason
	logging.Component("embedding").
		WithError(reason).
		WithField("fallback", r.fallback.Name()).
		Warn("switching to fallback classifier for the rest of the session; results are simulated")
}

func isSimulated(m Model) bool {
	s, ok := m.(simulator)
	return ok && s.Simulated()
}
