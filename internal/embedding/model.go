// Package embedding wraps the face detection and embedding capability behind a
// loadable Model and routes calls to the fallback classifier once it fails.
package embedding

import (
	"context"
	"errors"

	"github.com/kozaktomas/face-id/internal/facematch"
)

var (
	// ErrNoFaceDetected means the frame was processed but holds no usable face.
	// It is an outcome, not a capability failure.
	ErrNoFaceDetected = errors.New("no face detected")

	// ErrModelNotLoaded is returned by Embed before a successful Load.
	ErrModelNotLoaded = errors.New("embedding model not loaded")

	// ErrModelFailed marks capability-level failures: loading failed or the model errored at runtime.
	ErrModelFailed = errors.New("embedding model failed")
)

// Model detects a face in a frame and returns its descriptor.
type Model interface {
	// Name identifies the model; descriptors from different models are not comparable.
	Name() string
	// Load prepares the model. It is called at most once per process by a Loader.
	Load(ctx context.Context) error
	// Embed returns the descriptor of the most prominent face, or ErrNoFaceDetected.
	Embed(ctx context.Context, frame []byte) (facematch.Descriptor, error)
}
