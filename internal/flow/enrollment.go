package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-id/internal/camera"
	"github.com/kozaktomas/face-id/internal/embedding"
	"github.com/kozaktomas/face-id/internal/facematch"
	"github.com/kozaktomas/face-id/internal/gallery"
	"github.com/kozaktomas/face-id/internal/logging"
)

// Enroller stores self-enrolled records.
type Enroller interface {
	Upsert(ctx context.Context, rec facematch.FaceRecord) (gallery.UpsertResult, error)
}

// Enrollment captures a face and stores it in the gallery under a name.
type Enrollment struct {
	base

	gallery Enroller
	frames  FrameSaver
	now     func() time.Time

	name    string
	outcome *EnrollmentOutcome
}

// EnrollmentOptions configures a new enrollment flow.
type EnrollmentOptions struct {
	ID       string
	Name     string
	Camera   *camera.Session
	Embedder Embedder
	Gallery  Enroller
	Frames   FrameSaver // optional
}

// NewEnrollment creates a flow in AwaitingName. A non-empty Name is applied
// immediately.
func NewEnrollment(opts EnrollmentOptions) *Enrollment {
	e := &Enrollment{
		gallery: opts.Gallery,
		frames:  opts.Frames,
		now:     time.Now,
	}
	e.init(opts.ID, KindEnrollment, StateAwaitingName, opts.Camera, opts.Embedder)
	e.name = facematch.CleanDisplayName(opts.Name)
	return e
}

// Snapshot returns the current externally visible state.
func (e *Enrollment) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Enrollment) snapshotLocked() Snapshot {
	snap := e.baseSnapshotLocked()
	snap.Name = e.name
	if e.outcome != nil {
		out := *e.outcome
		out.Record = out.Record.Clone()
		snap.Enrolled = &out
	}
	return snap
}

// Name returns the cleaned display name.
func (e *Enrollment) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.name
}

// SetName sets the display name. It is allowed until the capture is confirmed.
func (e *Enrollment) SetName(name string) error {
	cleaned := facematch.CleanDisplayName(name)
	if cleaned == "" {
		return ErrNameRequired
	}
	e.mu.Lock()
	if err := e.checkLocked(StateAwaitingName, StateCameraActive, StatePreviewCaptured); err != nil {
		e.mu.Unlock()
		return err
	}
	e.name = cleaned
	e.updatedAt = time.Now()
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.emit(snap)
	return nil
}

func (e *Enrollment) nameReadyLocked() error {
	if e.name == "" {
		return ErrNameRequired
	}
	return nil
}

// StartCamera acquires the camera. It requires a name.
func (e *Enrollment) StartCamera(ctx context.Context, c camera.Constraints) error {
	return e.startCamera(ctx, c, e.snapshotLocked, e.nameReadyLocked)
}

// Capture takes the preview still.
func (e *Enrollment) Capture(ctx context.Context) error {
	return e.capture(ctx, e.snapshotLocked)
}

// UploadFrame uses an uploaded still as the preview.
func (e *Enrollment) UploadFrame(frame camera.CaptureFrame) error {
	return e.useFrame(frame, e.snapshotLocked, e.nameReadyLocked)
}

// Retake discards the preview.
func (e *Enrollment) Retake() error {
	return e.retake(e.snapshotLocked)
}

// Cancel abandons the enrollment and releases the camera.
func (e *Enrollment) Cancel() error {
	return e.cancel(e.snapshotLocked)
}

// Close releases the camera whatever the state.
func (e *Enrollment) Close() {
	e.close(e.snapshotLocked)
}

// Outcome returns the stored record once the flow reached Stored.
func (e *Enrollment) Outcome() (EnrollmentOutcome, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.outcome == nil {
		return EnrollmentOutcome{}, false
	}
	return *e.outcome, true
}

// Confirm extracts a descriptor from the preview and stores the record.
// Enrollment always completes: a detection miss or model failure falls back
// to the simulated classifier. Storage failures return the flow to
// PreviewCaptured with the error recorded.
func (e *Enrollment) Confirm(ctx context.Context) (EnrollmentOutcome, error) {
	e.mu.Lock()
	if err := e.checkLocked(StatePreviewCaptured); err != nil {
		e.mu.Unlock()
		return EnrollmentOutcome{}, err
	}
	if err := e.nameReadyLocked(); err != nil {
		e.mu.Unlock()
		return EnrollmentOutcome{}, err
	}
	frame := *e.preview
	name := e.name
	opCtx, cancel := e.beginLocked(ctx)
	e.setStateLocked(StateConfirmed)
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.emit(snap)

	res, err := e.extract(opCtx, frame.Data)
	var upserted gallery.UpsertResult
	if err == nil {
		rec := facematch.FaceRecord{
			DisplayName:    name,
			Descriptor:     res.Descriptor,
			Authorized:     true,
			EnrolledAt:     e.now(),
			SourceImageRef: e.saveFrame(frame),
			Simulated:      res.Simulated,
			Model:          res.Model,
		}
		upserted, err = e.gallery.Upsert(opCtx, rec)
		if err != nil {
			err = fmt.Errorf("storing enrollment: %w", err)
		}
	}

	e.mu.Lock()
	e.endLocked(cancel)
	if e.state == StateCancelled {
		e.mu.Unlock()
		return EnrollmentOutcome{}, ErrCancelled
	}
	if err != nil {
		e.setErrLocked(err)
		e.setStateLocked(StatePreviewCaptured)
		snap := e.snapshotLocked()
		e.mu.Unlock()
		e.emit(snap)
		e.log.WithError(err).Error("enrollment failed")
		return EnrollmentOutcome{}, err
	}
	out := EnrollmentOutcome{
		Record:      upserted.Record,
		Created:     upserted.Created,
		DuplicateOf: upserted.DuplicateOf,
	}
	e.outcome = &out
	e.simulated = res.Simulated
	e.preview = nil
	e.setErrLocked(nil)
	e.mu.Unlock()

	e.releaseCamera()

	e.mu.Lock()
	e.setStateLocked(StateStored)
	snap = e.snapshotLocked()
	e.mu.Unlock()
	e.emit(snap)

	e.log.WithFields(logging.Fields{
		"id":        out.Record.ID,
		"name":      out.Record.DisplayName,
		"simulated": out.Record.Simulated,
	}).Info("enrollment stored")
	return out, nil
}

func (e *Enrollment) extract(ctx context.Context, frame []byte) (embedding.Result, error) {
	res, err := e.embedder.Embed(ctx, frame)
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return embedding.Result{}, ctxErr
	}
	if errors.Is(err, embedding.ErrNoFaceDetected) {
		e.log.Info("no face detected, enrolling with simulated descriptor")
	} else {
		e.log.WithError(err).Warn("embedding failed, enrolling with simulated descriptor")
	}
	res, err = e.embedder.Fallback(ctx, frame)
	if err != nil {
		return embedding.Result{}, err
	}
	res.Simulated = true
	return res, nil
}

// saveFrame retains the confirmed frame under the flow ID. A lost capture is
// only logged.
func (e *Enrollment) saveFrame(frame camera.CaptureFrame) string {
	if e.frames == nil {
		return ""
	}
	ref, err := e.frames.SaveFrame(e.id, frame)
	if err != nil {
		e.log.WithError(err).Warn("failed to retain enrollment frame")
		return ""
	}
	return ref
}
