// Package fallback derives deterministic pseudo-descriptors from frame content.
// It stands in for the embedding model when that model cannot be loaded; its
// descriptors carry no facial geometry and only reliably match the same frame
// or visually near-identical frames.
package fallback

import (
	"context"
	"crypto/sha256"
	"errors"
	"math"

	"github.com/kozaktomas/face-id/internal/facematch"
	"github.com/kozaktomas/face-id/internal/fingerprint"
)

// ModelName tags descriptors produced here so they are never compared with real embeddings.
const ModelName = "fallback-phash"

var errEmptyFrame = errors.New("empty frame")

// Classifier implements the embedding model contract without any model files.
type Classifier struct {
	dim int
	amp float32
}

// NewClassifier creates a classifier producing dim-length descriptors.
func NewClassifier(dim int) *Classifier {
	if dim <= 0 {
		dim = facematch.DefaultDescriptorDim
	}
	return &Classifier{
		dim: dim,
		// Keeps the distance between two descriptors within [0, 1]: each of the dim
		// entries is +-amp, so a full flip contributes (2*amp)^2*dim = 1.
		amp: float32(0.5 / math.Sqrt(float64(dim))),
	}
}

// Name returns the model tag stored with fallback descriptors.
func (c *Classifier) Name() string {
	return ModelName
}

// Load always succeeds.
func (c *Classifier) Load(context.Context) error {
	return nil
}

// Simulated reports that results are not backed by a face model.
func (c *Classifier) Simulated() bool {
	return true
}

// Embed maps frame bytes to a descriptor. Decodable images use perceptual hash bits
// so re-captures of a similar scene land close together; anything else falls back to
// bits of the SHA-256 of the raw bytes. It never reports a missing face.
func (c *Classifier) Embed(ctx context.Context, frame []byte) (facematch.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(frame) == 0 {
		return nil, errEmptyFrame
	}

	bit := c.byteBits(frame)
	if hashes, err := fingerprint.ComputeHashes(frame); err == nil {
		bit = hashes.Bit
	}

	desc := make(facematch.Descriptor, c.dim)
	for i := range desc {
		if bit(i % fingerprint.HashBits) {
			desc[i] = c.amp
		} else {
			desc[i] = -c.amp
		}
	}
	return desc, nil
}

// byteBits returns a bit source backed by chained SHA-256 digests of frame.
func (c *Classifier) byteBits(frame []byte) func(int) bool {
	digest := sha256.Sum256(frame)
	second := sha256.Sum256(digest[:])
	bits := append(digest[:], second[:]...)
	return func(i int) bool {
		return bits[i/8]&(0x80>>(i%8)) != 0
	}
}
