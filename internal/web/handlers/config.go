package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-id/internal/config"
	"github.com/kozaktomas/face-id/internal/embedding"
)

// ModeReporter reports which embedding implementation answers requests.
type ModeReporter interface {
	Mode() embedding.Mode
}

// ConfigHandler handles configuration and model status endpoints
type ConfigHandler struct {
	config *config.Config
	model  ModeReporter
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config, model ModeReporter) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
		model:  model,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	ConfidenceThreshold float64        `json:"confidence_threshold"`
	AuthorizedOnly      bool           `json:"authorized_only"`
	StoreBackend        string         `json:"store_backend"`
	EmbeddingBackend    string         `json:"embedding_backend"`
	Camera              CameraDefaults `json:"camera"`
}

// CameraDefaults are the configured capture constraints.
type CameraDefaults struct {
	Device string `json:"device,omitempty"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
}

// Get returns the effective configuration
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ConfigResponse{
		ConfidenceThreshold: h.config.Matching.ConfidenceThreshold,
		AuthorizedOnly:      h.config.Matching.AuthorizedOnly,
		StoreBackend:        h.config.Store.Backend,
		EmbeddingBackend:    h.config.Embedding.Backend,
		Camera: CameraDefaults{
			Device: h.config.Camera.Device,
			Width:  h.config.Camera.Width,
			Height: h.config.Camera.Height,
			FPS:    h.config.Camera.FPS,
		},
	})
}

// Model returns the embedding mode: the loaded model or the simulated fallback.
func (h *ConfigHandler) Model(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.model.Mode())
}
