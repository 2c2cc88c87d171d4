package embedding

import (
	"context"

	"github.com/kozaktomas/face-id/internal/facematch"
)

// brokenModel stands in for a backend that could not be constructed; its Load fails.
type brokenModel struct {
	name string
	err  error
}

func (b brokenModel) Name() string { return b.name }

func (b brokenModel) Load(context.Context) error { return b.err }

func (b brokenModel) Embed(context.Context, []byte) (facematch.Descriptor, error) {
	return nil, ErrModelNotLoaded
}
