package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-id/internal/camera"
	"github.com/kozaktomas/face-id/internal/flow"
)

var errFlowNotFound = errors.New("flow not found")

// DefaultFlowTTL is how long a finished flow stays readable.
const DefaultFlowTTL = 10 * time.Minute

// Flow is the surface shared by enrollment and authentication flows.
type Flow interface {
	ID() string
	Kind() flow.Kind
	State() flow.State
	Snapshot() flow.Snapshot
	StartCamera(ctx context.Context, c camera.Constraints) error
	Capture(ctx context.Context) error
	UploadFrame(frame camera.CaptureFrame) error
	Retake() error
	Cancel() error
	Close()
	AddListener() chan flow.Event
	RemoveListener(ch chan flow.Event)
}

var (
	_ Flow = (*flow.Enrollment)(nil)
	_ Flow = (*flow.Authentication)(nil)
)

type managedFlow struct {
	flow    Flow
	created time.Time
}

// FlowManager tracks the flows started over the API.
type FlowManager struct {
	flows map[string]managedFlow
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
}

// NewFlowManager creates a new flow manager.
func NewFlowManager(ttl time.Duration) *FlowManager {
	if ttl <= 0 {
		ttl = DefaultFlowTTL
	}
	return &FlowManager{
		flows: make(map[string]managedFlow),
		ttl:   ttl,
		now:   time.Now,
	}
}

// NewID returns a fresh flow identifier.
func (m *FlowManager) NewID() string {
	return uuid.NewString()
}

// Add registers a flow and drops finished ones past their TTL.
func (m *FlowManager) Add(f Flow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, mf := range m.flows {
		if mf.flow.State().Terminal() && now.Sub(mf.created) > m.ttl {
			delete(m.flows, id)
		}
	}
	m.flows[f.ID()] = managedFlow{flow: f, created: now}
}

// TakeCamera closes every other flow that holds the camera. Only one flow
// owns the camera at a time.
func (m *FlowManager) TakeCamera(id string) int {
	var holders []Flow
	for _, f := range m.List() {
		if f.ID() == id {
			continue
		}
		switch f.State() {
		case flow.StateCameraActive, flow.StatePreviewCaptured:
			holders = append(holders, f)
		}
	}
	for _, f := range holders {
		f.Close()
	}
	return len(holders)
}

// Get retrieves a flow by ID.
func (m *FlowManager) Get(id string) (Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mf, ok := m.flows[id]
	if !ok {
		return nil, errFlowNotFound
	}
	return mf.flow, nil
}

// Enrollment retrieves an enrollment flow by ID.
func (m *FlowManager) Enrollment(id string) (*flow.Enrollment, error) {
	f, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	e, ok := f.(*flow.Enrollment)
	if !ok {
		return nil, errFlowNotFound
	}
	return e, nil
}

// Authentication retrieves an authentication flow by ID.
func (m *FlowManager) Authentication(id string) (*flow.Authentication, error) {
	f, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	a, ok := f.(*flow.Authentication)
	if !ok {
		return nil, errFlowNotFound
	}
	return a, nil
}

// List returns all flows.
func (m *FlowManager) List() []Flow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	flows := make([]Flow, 0, len(m.flows))
	for _, mf := range m.flows {
		flows = append(flows, mf.flow)
	}
	return flows
}

// CloseAll releases the camera from every flow. Used on shutdown.
func (m *FlowManager) CloseAll() {
	for _, f := range m.List() {
		f.Close()
	}
}
