package embedding

import (
	"fmt"

	"github.com/kozaktomas/face-id/internal/config"
	"github.com/kozaktomas/face-id/internal/fallback"
)

// NewModel builds the configured primary model.
func NewModel(cfg config.EmbeddingConfig) (Model, error) {
	switch cfg.Backend {
	case "", config.EmbeddingBackendHTTP:
		return NewHTTPModel(cfg.URL, cfg.Dim), nil
	case config.EmbeddingBackendDlib:
		return NewDlibModel(cfg.ModelsDir)
	case config.EmbeddingBackendFallback:
		return fallback.NewClassifier(cfg.Dim), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}
}

// NewResolverFromConfig wires a loader over the configured model with the fallback
// classifier behind it. A model that cannot even be constructed is treated like a
// failed load.
func NewResolverFromConfig(cfg config.EmbeddingConfig) *Resolver {
	fb := fallback.NewClassifier(cfg.Dim)
	model, err := NewModel(cfg)
	if err != nil {
		model = brokenModel{name: cfg.Backend, err: err}
	}
	return NewResolver(NewLoader(model), fb)
}
