package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/kozaktomas/face-id/internal/logging"
)

// State is the readiness of a loaded model.
type State string

// Loader states.
const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Loader owns the process-wide readiness of a Model. Load runs the model's Load exactly
// once; consumers that race with it call Await.
type Loader struct {
	model Model

	once  sync.Once
	done  chan struct{}
	mu    sync.RWMutex
	state State
	err   error
}

// NewLoader wraps model. Nothing is loaded until Load or Start is called.
func NewLoader(model Model) *Loader {
	return &Loader{
		model: model,
		done:  make(chan struct{}),
		state: StateIdle,
	}
}

// Model returns the wrapped model.
func (l *Loader) Model() Model {
	return l.model
}

// Start begins loading in the background and returns immediately.
// It does nothing once loading has been started.
func (l *Loader) Start(ctx context.Context) {
	if l.State() != StateIdle {
		return
	}
	go func() {
		_ = l.Load(ctx)
	}()
}

// Load loads the model once. Later calls wait for and return the first outcome.
func (l *Loader) Load(ctx context.Context) error {
	l.once.Do(func() {
		l.setState(StateLoading, nil)
		log := logging.Component("embedding").WithField("model", l.model.Name())
		log.Info("loading embedding model")

		if err := l.model.Load(ctx); err != nil {
			log.WithError(err).Warn("embedding model failed to load")
			l.setState(StateFailed, fmt.Errorf("%w: %w", ErrModelFailed, err))
		} else {
			log.Info("embedding model ready")
			l.setState(StateReady, nil)
		}
		close(l.done)
	})
	_, err := l.Await(ctx)
	return err
}

// Await blocks until loading has finished or ctx is done. There is no internal
// deadline: the caller decides how long to wait.
func (l *Loader) Await(ctx context.Context) (State, error) {
	select {
	case <-l.done:
		return l.Status()
	case <-ctx.Done():
		return l.State(), ctx.Err()
	}
}

// Status returns the current state and, when failed, the load error.
func (l *Loader) Status() (State, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state, l.err
}

// State returns the current state.
func (l *Loader) State() State {
	s, _ := l.Status()
	return s
}

func (l *Loader) setState(s State, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
	l.err = err
}
