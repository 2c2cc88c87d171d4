package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-id/internal/logging"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRequesting Status = "requesting"
	StatusActive     Status = "active"
	StatusError      Status = "error"
)

// DefaultMetadataTimeout bounds how long Acquire waits for frame dimensions.
const DefaultMetadataTimeout = 3 * time.Second

// State is a snapshot of the session for the view layer.
type State struct {
	Status      Status `json:"status"`
	DeviceID    string `json:"device_id,omitempty"`
	DeviceLabel string `json:"device_label,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	LastError   string `json:"last_error,omitempty"`

	Err error `json:"-"`
}

// Session owns at most one active stream. It is shared by the flows.
type Session struct {
	device          Device
	defaults        Constraints
	metadataTimeout time.Duration
	log             *logrus.Entry

	mu          sync.Mutex
	status      Status
	deviceID    string
	label       string
	width       int
	height      int
	lastErr     error
	stream      Stream
	constraints *Constraints
	generation  uint64 // bumped by every Acquire and Release; stale acquisitions are discarded
	owner       string // holder of the current acquisition, empty when anonymous

	subMu   sync.Mutex
	subs    map[int]chan State
	nextSub int
}

// NewSession creates an idle session. Defaults fill unset constraint fields;
// a zero metadataTimeout uses DefaultMetadataTimeout.
func NewSession(device Device, defaults Constraints, metadataTimeout time.Duration) *Session {
	if metadataTimeout <= 0 {
		metadataTimeout = DefaultMetadataTimeout
	}
	return &Session{
		device:          device,
		defaults:        defaults,
		metadataTimeout: metadataTimeout,
		log:             logging.Component("camera"),
		status:          StatusIdle,
		subs:            make(map[int]chan State),
	}
}

func (s *Session) withDefaults(c Constraints) Constraints {
	if c.DeviceID == "" {
		c.DeviceID = s.defaults.DeviceID
	}
	if c.Width == 0 {
		c.Width = s.defaults.Width
	}
	if c.Height == 0 {
		c.Height = s.defaults.Height
	}
	if c.FPS == 0 {
		c.FPS = s.defaults.FPS
	}
	return c
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	st := State{
		Status:      s.status,
		DeviceID:    s.deviceID,
		DeviceLabel: s.label,
		Width:       s.width,
		Height:      s.height,
		Err:         s.lastErr,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Stream returns the active stream, or nil.
func (s *Session) Stream() Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Devices lists the available capture devices.
func (s *Session) Devices(ctx context.Context) ([]DeviceInfo, error) {
	devices, err := s.device.EnumerateDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	return devices, nil
}

// Acquire opens a stream for the given constraints, releasing any previous stream
// first. Waiting for a permission prompt is bounded only by ctx.
func (s *Session) Acquire(ctx context.Context, c Constraints) (State, error) {
	return s.AcquireFor(ctx, "", c)
}

// AcquireFor is Acquire on behalf of owner. Only ReleaseFor with the same owner,
// or an unconditional Release, tears the acquisition down.
func (s *Session) AcquireFor(ctx context.Context, owner string, c Constraints) (State, error) {
	c = s.withDefaults(c)

	s.mu.Lock()
	s.releaseLocked()
	s.generation++
	gen := s.generation
	s.owner = owner
	s.status = StatusRequesting
	s.lastErr = nil
	s.deviceID = c.DeviceID
	s.label = ""
	saved := c
	s.constraints = &saved
	st := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(st)

	s.log.WithField("device", c.DeviceID).Debug("requesting camera")

	devices, err := s.device.EnumerateDevices(ctx)
	if err != nil {
		return s.fail(gen, fmt.Errorf("enumerating devices: %w", err))
	}
	info, ok := pickDevice(devices, c.DeviceID)
	if !ok {
		if c.DeviceID != "" {
			return s.fail(gen, fmt.Errorf("%w: %s", ErrNotFound, c.DeviceID))
		}
		return s.fail(gen, ErrNotFound)
	}
	c.DeviceID = info.ID

	stream, err := s.device.RequestStream(ctx, c)
	if err != nil {
		return s.fail(gen, err)
	}

	width, height, err := s.awaitMetadata(ctx, stream)
	if err != nil {
		StopAll(stream)
		return s.fail(gen, err)
	}

	s.mu.Lock()
	if s.generation != gen {
		// released or re-acquired while this request was pending
		s.mu.Unlock()
		StopAll(stream)
		return s.State(), ErrSuperseded
	}
	s.stream = stream
	s.status = StatusActive
	s.deviceID = info.ID
	s.label = info.Label
	s.width = width
	s.height = height
	st = s.snapshotLocked()
	s.mu.Unlock()

	// labels are often hidden until access is granted
	if st.DeviceLabel == "" {
		st = s.refreshLabel(ctx, gen, info.ID)
	}
	s.publish(st)

	s.log.WithFields(logging.Fields{
		"device": st.DeviceID,
		"label":  st.DeviceLabel,
		"width":  st.Width,
		"height": st.Height,
	}).Info("camera active")
	return st, nil
}

func pickDevice(devices []DeviceInfo, id string) (DeviceInfo, bool) {
	if len(devices) == 0 {
		return DeviceInfo{}, false
	}
	if id == "" {
		return devices[0], true
	}
	for _, d := range devices {
		if d.ID == id {
			return d, true
		}
	}
	return DeviceInfo{}, false
}

// awaitMetadata waits a bounded time for frame dimensions. A timeout is not an
// error: acquisition proceeds without dimensions. A stream that ended is.
func (s *Session) awaitMetadata(ctx context.Context, stream Stream) (int, int, error) {
	mctx, cancel := context.WithTimeout(ctx, s.metadataTimeout)
	defer cancel()

	width, height, err := stream.Metadata(mctx)
	switch {
	case err == nil:
		return width, height, nil
	case ctx.Err() != nil:
		return 0, 0, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		s.log.WithField("timeout", s.metadataTimeout).
			Warn("stream metadata not available, continuing without frame dimensions")
		return 0, 0, nil
	default:
		return 0, 0, err
	}
}

func (s *Session) refreshLabel(ctx context.Context, gen uint64, id string) State {
	devices, err := s.device.EnumerateDevices(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.log.WithError(err).Debug("re-enumerating devices failed")
		return s.snapshotLocked()
	}
	if s.generation == gen {
		for _, d := range devices {
			if d.ID == id {
				s.label = d.Label
				break
			}
		}
	}
	return s.snapshotLocked()
}

func (s *Session) fail(gen uint64, err error) (State, error) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return s.State(), err
	}
	s.status = StatusError
	s.lastErr = err
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(st)
	s.log.WithError(err).Warn("camera request failed")
	return st, err
}

// Release stops every track and returns the session to idle. It is safe to call
// in any state and more than once.
func (s *Session) Release() {
	s.mu.Lock()
	s.resetAndUnlock()
}

// ReleaseFor releases the session only while owner holds it, and reports whether
// it did. An empty owner never matches.
func (s *Session) ReleaseFor(owner string) bool {
	s.mu.Lock()
	if owner == "" || s.owner != owner {
		s.mu.Unlock()
		return false
	}
	s.resetAndUnlock()
	return true
}

// Owner returns the holder of the current acquisition.
func (s *Session) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// resetAndUnlock returns the session to idle. The caller holds s.mu.
func (s *Session) resetAndUnlock() {
	s.releaseLocked()
	s.owner = ""
	s.generation++
	s.status = StatusIdle
	s.lastErr = nil
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(st)
}

func (s *Session) releaseLocked() {
	if s.stream != nil {
		StopAll(s.stream)
		s.stream = nil
		s.log.WithField("device", s.deviceID).Debug("camera released")
	}
	s.width = 0
	s.height = 0
}

// Retry re-runs Acquire with the last constraints. It is only allowed from the
// idle or error state and is never triggered automatically.
func (s *Session) Retry(ctx context.Context) (State, error) {
	s.mu.Lock()
	if s.status != StatusIdle && s.status != StatusError {
		st := s.snapshotLocked()
		s.mu.Unlock()
		return st, ErrRetryNotAllowed
	}
	var c Constraints
	if s.constraints != nil {
		c = *s.constraints
	}
	owner := s.owner
	s.mu.Unlock()

	return s.AcquireFor(ctx, owner, c)
}

// Capture takes a still frame from the active stream.
func (s *Session) Capture(ctx context.Context) (CaptureFrame, error) {
	s.mu.Lock()
	if s.status != StatusActive || s.stream == nil {
		s.mu.Unlock()
		return CaptureFrame{}, ErrNotActive
	}
	stream := s.stream
	gen := s.generation
	s.mu.Unlock()

	frame, err := stream.Frame(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return CaptureFrame{}, ctx.Err()
		}
		s.streamFailed(gen, err)
		return CaptureFrame{}, fmt.Errorf("capturing frame: %w", err)
	}
	frame.Source = SourceCamera
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = time.Now()
	}
	return frame, nil
}

// streamFailed moves an active session whose stream died to the error state.
func (s *Session) streamFailed(gen uint64, err error) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.releaseLocked()
	s.generation++
	s.status = StatusError
	s.lastErr = err
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(st)
}

// Subscribe returns a channel receiving every state change and a function that
// unsubscribes and closes it. Slow subscribers only miss intermediate states.
func (s *Session) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 8)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Session) publish(st State) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- st:
		default:
			// drop the oldest snapshot so the latest state is delivered
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

// IsPermissionError reports whether err is a permission failure.
func IsPermissionError(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
