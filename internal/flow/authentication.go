package flow

import (
	"context"
	"errors"
	"time"

	"github.com/kozaktomas/face-id/internal/camera"
	"github.com/kozaktomas/face-id/internal/embedding"
	"github.com/kozaktomas/face-id/internal/facematch"
	"github.com/kozaktomas/face-id/internal/logging"
)

// Lister returns the gallery in match order.
type Lister interface {
	List() []facematch.FaceRecord
}

// Authentication captures a face and matches it against the gallery.
type Authentication struct {
	base

	gallery Lister
	match   facematch.Options

	outcome *AuthenticationOutcome
}

// AuthenticationOptions configures a new authentication flow.
type AuthenticationOptions struct {
	ID       string
	Camera   *camera.Session
	Embedder Embedder
	Gallery  Lister
	Match    facematch.Options
}

// NewAuthentication creates a flow in Idle.
func NewAuthentication(opts AuthenticationOptions) *Authentication {
	a := &Authentication{
		gallery: opts.Gallery,
		match:   opts.Match,
	}
	a.init(opts.ID, KindAuthentication, StateIdle, opts.Camera, opts.Embedder)
	return a
}

// Snapshot returns the current externally visible state.
func (a *Authentication) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Authentication) snapshotLocked() Snapshot {
	snap := a.baseSnapshotLocked()
	if a.outcome != nil {
		out := *a.outcome
		if out.Result.Matched != nil {
			matched := out.Result.Matched.Clone()
			out.Result.Matched = &matched
		}
		snap.Outcome = &out
	}
	return snap
}

func ready() error { return nil }

// StartCamera acquires the camera.
func (a *Authentication) StartCamera(ctx context.Context, c camera.Constraints) error {
	return a.startCamera(ctx, c, a.snapshotLocked, ready)
}

// Capture takes the probe still.
func (a *Authentication) Capture(ctx context.Context) error {
	return a.capture(ctx, a.snapshotLocked)
}

// UploadFrame uses an uploaded still as the probe.
func (a *Authentication) UploadFrame(frame camera.CaptureFrame) error {
	return a.useFrame(frame, a.snapshotLocked, ready)
}

// Retake discards the probe.
func (a *Authentication) Retake() error {
	return a.retake(a.snapshotLocked)
}

// Cancel abandons the authentication and releases the camera.
func (a *Authentication) Cancel() error {
	return a.cancel(a.snapshotLocked)
}

// Close releases the camera whatever the state.
func (a *Authentication) Close() {
	a.close(a.snapshotLocked)
}

// Outcome returns the verdict once the flow reached Matched or NoMatch.
func (a *Authentication) Outcome() (AuthenticationOutcome, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.outcome == nil {
		return AuthenticationOutcome{}, false
	}
	return *a.outcome, true
}

// Confirm embeds the probe and matches it against the gallery. A detection
// miss is a NoMatch with ReasonNoFace; a best candidate below the threshold
// is a NoMatch with ReasonBelowThreshold.
func (a *Authentication) Confirm(ctx context.Context) (AuthenticationOutcome, error) {
	a.mu.Lock()
	if err := a.checkLocked(StatePreviewCaptured); err != nil {
		a.mu.Unlock()
		return AuthenticationOutcome{}, err
	}
	frame := *a.preview
	opCtx, cancel := a.beginLocked(ctx)
	a.setStateLocked(StateConfirmed)
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.emit(snap)

	start := time.Now()
	res, err := a.embedder.Embed(opCtx, frame.Data)
	var out AuthenticationOutcome
	switch {
	case err == nil:
		out.Model = res.Model
		opts := a.match
		opts.Model = res.Model
		out.Result = facematch.Match(res.Descriptor, a.gallery.List(), opts)
		out.Result.Simulated = res.Simulated
		if !out.Result.IsMatch() {
			out.Reason = ReasonBelowThreshold
		}
	case errors.Is(err, embedding.ErrNoFaceDetected) && opCtx.Err() == nil:
		err = nil
		out.Reason = ReasonNoFace
		out.Result = facematch.Result{
			ThresholdUsed:               a.match.Threshold,
			AuthorizedOnlyFilterApplied: a.match.AuthorizedOnly,
		}
	}

	a.mu.Lock()
	a.endLocked(cancel)
	if a.state == StateCancelled {
		a.mu.Unlock()
		return AuthenticationOutcome{}, ErrCancelled
	}
	if err != nil {
		a.setErrLocked(err)
		a.setStateLocked(StatePreviewCaptured)
		snap := a.snapshotLocked()
		a.mu.Unlock()
		a.emit(snap)
		a.log.WithError(err).Error("authentication failed")
		return AuthenticationOutcome{}, err
	}
	a.outcome = &out
	a.simulated = out.Result.Simulated
	a.preview = nil
	a.setErrLocked(nil)
	a.mu.Unlock()

	a.releaseCamera()

	final := StateNoMatch
	if out.Result.IsMatch() {
		final = StateMatched
	}
	a.mu.Lock()
	a.setStateLocked(final)
	snap = a.snapshotLocked()
	a.mu.Unlock()
	a.emit(snap)

	fields := logging.Fields{
		"state":      final,
		"confidence": out.Result.Confidence,
		"threshold":  out.Result.ThresholdUsed,
		"simulated":  out.Result.Simulated,
		"duration":   time.Since(start).String(),
	}
	if out.Reason != "" {
		fields["reason"] = out.Reason
	}
	if out.Result.Matched != nil {
		fields["id"] = out.Result.Matched.ID
	}
	a.log.WithFields(fields).Info("authentication complete")
	return out, nil
}
