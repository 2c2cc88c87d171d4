// Package flow implements the enrollment and authentication state machines
// driven by the view layer.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-id/internal/camera"
	"github.com/kozaktomas/face-id/internal/database"
	"github.com/kozaktomas/face-id/internal/embedding"
	"github.com/kozaktomas/face-id/internal/facematch"
	"github.com/kozaktomas/face-id/internal/logging"
)

var (
	ErrInvalidTransition = errors.New("invalid flow transition")
	ErrNameRequired      = errors.New("name is required")
	ErrBusy              = errors.New("flow operation already in progress")
	ErrCancelled         = errors.New("flow cancelled")
	ErrEmptyFrame        = errors.New("empty frame")

	// ErrCameraTaken reports that another flow acquired the shared camera.
	ErrCameraTaken = fmt.Errorf("%w: held by another flow", camera.ErrNotActive)
)

// Kind distinguishes the two flows.
type Kind string

const (
	KindEnrollment     Kind = "enrollment"
	KindAuthentication Kind = "authentication"
)

// State is a flow state.
type State string

const (
	StateAwaitingName    State = "awaiting_name"
	StateIdle            State = "idle"
	StateCameraActive    State = "camera_active"
	StatePreviewCaptured State = "preview_captured"
	StateConfirmed       State = "confirmed"
	StateStored          State = "stored"
	StateMatched         State = "matched"
	StateNoMatch         State = "no_match"
	StateCancelled       State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateStored, StateMatched, StateNoMatch, StateCancelled:
		return true
	default:
		return false
	}
}

// Reason explains a no-match outcome.
type Reason string

const (
	ReasonNoFace         Reason = "no_face"
	ReasonBelowThreshold Reason = "below_threshold"
)

// ErrorKind classifies the last error for the view layer.
type ErrorKind string

const (
	ErrorKindPermission ErrorKind = "permission"
	ErrorKindNotFound   ErrorKind = "not_found"
	ErrorKindBusy       ErrorKind = "busy"
	ErrorKindDevice     ErrorKind = "device"
	ErrorKindStorage    ErrorKind = "storage"
	ErrorKindInternal   ErrorKind = "internal"
)

func classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, camera.ErrPermissionDenied):
		return ErrorKindPermission
	case errors.Is(err, camera.ErrNotFound):
		return ErrorKindNotFound
	case errors.Is(err, camera.ErrDeviceBusy):
		return ErrorKindBusy
	case errors.Is(err, camera.ErrNotActive), errors.Is(err, camera.ErrStreamEnded):
		return ErrorKindDevice
	default:
		return ErrorKindInternal
	}
}

// Embedder resolves descriptors, falling back to the simulated classifier when
// the model is unavailable.
type Embedder interface {
	Embed(ctx context.Context, frame []byte) (embedding.Result, error)
	Fallback(ctx context.Context, frame []byte) (embedding.Result, error)
}

// PreviewInfo describes the captured still without its bytes.
type PreviewInfo struct {
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Source     string    `json:"source"`
	Size       int       `json:"size"`
	CapturedAt time.Time `json:"captured_at"`
}

// EnrollmentOutcome is set once an enrollment was stored.
type EnrollmentOutcome struct {
	Record      facematch.FaceRecord `json:"record"`
	Created     bool                 `json:"created"`
	DuplicateOf *database.Neighbor   `json:"duplicate_of,omitempty"`
}

// AuthenticationOutcome is set once an authentication reached a verdict.
type AuthenticationOutcome struct {
	Result facematch.Result `json:"result"`
	Reason Reason           `json:"reason,omitempty"`
	Model  string           `json:"model,omitempty"`
}

// Snapshot is the externally visible state of a flow.
type Snapshot struct {
	ID        string                 `json:"id"`
	Kind      Kind                   `json:"kind"`
	State     State                  `json:"state"`
	Name      string                 `json:"name,omitempty"`
	Error     string                 `json:"error,omitempty"`
	ErrorKind ErrorKind              `json:"error_kind,omitempty"`
	Preview   *PreviewInfo           `json:"preview,omitempty"`
	Camera    camera.State           `json:"camera"`
	HasCamera bool                   `json:"has_camera"`
	Enrolled  *EnrollmentOutcome     `json:"enrolled,omitempty"`
	Outcome   *AuthenticationOutcome `json:"outcome,omitempty"`
	Simulated bool                   `json:"simulated"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// base holds what both flows share: the camera, the transition lock and the
// in-flight operation that Cancel interrupts.
type base struct {
	EventBroadcaster

	id       string
	owner    string // camera ownership token, unique per flow instance
	kind     Kind
	cam      *camera.Session
	embedder Embedder
	log      *logrus.Entry

	mu        sync.Mutex
	state     State
	preState  State // the state StartCamera starts from
	preview   *camera.CaptureFrame
	lastErr   error
	busy      bool
	opCancel  context.CancelFunc
	simulated bool
	updatedAt time.Time
}

func (b *base) init(id string, kind Kind, initial State, cam *camera.Session, embedder Embedder) {
	b.id = id
	b.owner = uuid.NewString()
	b.kind = kind
	b.cam = cam
	b.embedder = embedder
	b.log = logging.Component("flow").WithFields(logging.Fields{"flow": id, "kind": kind})
	b.state = initial
	b.preState = initial
	b.updatedAt = time.Now()
}

// ID returns the flow identifier.
func (b *base) ID() string { return b.id }

// Kind returns the flow kind.
func (b *base) Kind() Kind { return b.kind }

// State returns the current state.
func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Preview returns the captured still, if any.
func (b *base) Preview() (camera.CaptureFrame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.preview == nil {
		return camera.CaptureFrame{}, false
	}
	return *b.preview, true
}

// beginLocked marks an operation in flight and returns its context.
func (b *base) beginLocked(ctx context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(ctx)
	b.busy = true
	b.opCancel = cancel
	return opCtx, cancel
}

func (b *base) endLocked(cancel context.CancelFunc) {
	cancel()
	b.busy = false
	b.opCancel = nil
}

func (b *base) setStateLocked(s State) {
	if b.state != s {
		b.log.WithFields(logging.Fields{"from": b.state, "state": s}).Debug("flow transition")
	}
	b.state = s
	b.updatedAt = time.Now()
}

func (b *base) setErrLocked(err error) {
	b.lastErr = err
	b.updatedAt = time.Now()
}

func (b *base) baseSnapshotLocked() Snapshot {
	snap := Snapshot{
		ID:        b.id,
		Kind:      b.kind,
		State:     b.state,
		Camera:    b.cam.State(),
		HasCamera: b.holdsCamera(),
		Simulated: b.simulated,
		UpdatedAt: b.updatedAt,
	}
	if b.lastErr != nil {
		snap.Error = b.lastErr.Error()
		snap.ErrorKind = classify(b.lastErr)
	}
	if b.preview != nil {
		snap.Preview = &PreviewInfo{
			Width:      b.preview.Width,
			Height:     b.preview.Height,
			Source:     b.preview.Source,
			Size:       len(b.preview.Data),
			CapturedAt: b.preview.CapturedAt,
		}
	}
	return snap
}

func (b *base) checkLocked(allowed ...State) error {
	if b.busy {
		return ErrBusy
	}
	for _, s := range allowed {
		if b.state == s {
			return nil
		}
	}
	return transitionError(b.state)
}

func transitionError(from State) error {
	return &TransitionError{From: from}
}

// TransitionError reports an operation that is not allowed in the current state.
type TransitionError struct {
	From State
}

func (e *TransitionError) Error() string {
	return "invalid flow transition from " + string(e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// startCamera acquires the camera from the pre-capture state. Failures keep the
// flow in the pre-capture state with the error recorded; a new call retries.
func (b *base) startCamera(ctx context.Context, c camera.Constraints, snapshot func() Snapshot, ready func() error) error {
	b.mu.Lock()
	if err := b.checkLocked(b.preState); err != nil {
		b.mu.Unlock()
		return err
	}
	if err := ready(); err != nil {
		b.mu.Unlock()
		return err
	}
	opCtx, cancel := b.beginLocked(ctx)
	b.setErrLocked(nil)
	b.mu.Unlock()

	_, err := b.cam.AcquireFor(opCtx, b.owner, c)

	b.mu.Lock()
	b.endLocked(cancel)
	if b.state == StateCancelled {
		b.mu.Unlock()
		b.releaseCamera()
		return ErrCancelled
	}
	if err != nil {
		b.setErrLocked(err)
		snap := snapshot()
		b.mu.Unlock()
		b.emit(snap)
		b.log.WithError(err).WithField("error_kind", classify(err)).Warn("camera start failed")
		return err
	}
	b.setStateLocked(StateCameraActive)
	snap := snapshot()
	b.mu.Unlock()
	b.emit(snap)
	return nil
}

// capture takes a still from the camera.
func (b *base) capture(ctx context.Context, snapshot func() Snapshot) error {
	b.mu.Lock()
	if err := b.checkLocked(StateCameraActive); err != nil {
		b.mu.Unlock()
		return err
	}
	if !b.holdsCamera() {
		b.setErrLocked(ErrCameraTaken)
		b.setStateLocked(b.preState)
		snap := snapshot()
		b.mu.Unlock()
		b.emit(snap)
		return ErrCameraTaken
	}
	opCtx, cancel := b.beginLocked(ctx)
	b.mu.Unlock()

	frame, err := b.cam.Capture(opCtx)

	b.mu.Lock()
	b.endLocked(cancel)
	if b.state == StateCancelled {
		b.mu.Unlock()
		return ErrCancelled
	}
	if err != nil {
		b.setErrLocked(err)
		if b.cam.State().Status != camera.StatusActive {
			// the device went away; back to the pre-capture state for a retry
			b.setStateLocked(b.preState)
		}
		snap := snapshot()
		b.mu.Unlock()
		b.emit(snap)
		return err
	}
	b.preview = &frame
	b.setErrLocked(nil)
	b.setStateLocked(StatePreviewCaptured)
	snap := snapshot()
	b.mu.Unlock()
	b.emit(snap)
	return nil
}

// useFrame sets an uploaded still as the preview.
func (b *base) useFrame(frame camera.CaptureFrame, snapshot func() Snapshot, ready func() error) error {
	if len(frame.Data) == 0 {
		return ErrEmptyFrame
	}
	if frame.Source == "" {
		frame.Source = camera.SourceUpload
	}
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = time.Now()
	}

	b.mu.Lock()
	if err := b.checkLocked(b.preState, StateCameraActive, StatePreviewCaptured); err != nil {
		b.mu.Unlock()
		return err
	}
	if err := ready(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.preview = &frame
	b.setErrLocked(nil)
	b.setStateLocked(StatePreviewCaptured)
	snap := snapshot()
	b.mu.Unlock()
	b.emit(snap)
	return nil
}

// retake discards the preview. The flow returns to CameraActive when it still
// holds a streaming camera and to the pre-capture state otherwise.
func (b *base) retake(snapshot func() Snapshot) error {
	b.mu.Lock()
	if err := b.checkLocked(StatePreviewCaptured); err != nil {
		b.mu.Unlock()
		return err
	}
	b.preview = nil
	if b.cam.State().Status == camera.StatusActive && b.holdsCamera() {
		b.setStateLocked(StateCameraActive)
	} else {
		b.setStateLocked(b.preState)
	}
	snap := snapshot()
	b.mu.Unlock()
	b.emit(snap)
	return nil
}

// cancel moves any non-terminal flow to Cancelled, interrupts an in-flight
// operation and releases the camera before returning.
func (b *base) cancel(snapshot func() Snapshot) error {
	b.mu.Lock()
	if b.state.Terminal() {
		err := transitionError(b.state)
		b.mu.Unlock()
		return err
	}
	if b.opCancel != nil {
		b.opCancel()
	}
	b.preview = nil
	b.setStateLocked(StateCancelled)
	b.mu.Unlock()

	b.releaseCamera()

	b.mu.Lock()
	snap := snapshot()
	b.mu.Unlock()
	b.emit(snap)
	b.log.Info("flow cancelled")
	return nil
}

// close releases the camera whatever the state; non-terminal flows become Cancelled.
func (b *base) close(snapshot func() Snapshot) {
	if err := b.cancel(snapshot); err != nil {
		b.releaseCamera()
	}
}

// releaseCamera releases the session only if this flow still holds it.
func (b *base) releaseCamera() {
	if b.cam.ReleaseFor(b.owner) {
		b.log.Debug("camera released")
	}
}

// holdsCamera reports whether the session's current acquisition is this flow's.
func (b *base) holdsCamera() bool {
	return b.cam.Owner() == b.owner
}

func (b *base) emit(snap Snapshot) {
	b.SendEvent(Event{Type: "state", Data: snap})
}
