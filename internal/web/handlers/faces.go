package handlers

import (
	"net/http"
	"time"

	"github.com/kozaktomas/face-id/internal/facematch"
	"github.com/kozaktomas/face-id/internal/logging"
)

// FacesHandler handles gallery endpoints.
type FacesHandler struct {
	gallery FaceGallery
}

// NewFacesHandler creates a new faces handler.
func NewFacesHandler(g FaceGallery) *FacesHandler {
	return &FacesHandler{gallery: g}
}

// FaceResponse is a gallery record without its descriptor.
type FaceResponse struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"display_name"`
	Role           string    `json:"role,omitempty"`
	Authorized     bool      `json:"authorized"`
	SelfEnrolled   bool      `json:"self_enrolled"`
	Simulated      bool      `json:"simulated"`
	Model          string    `json:"model,omitempty"`
	Dim            int       `json:"dim"`
	EnrolledAt     time.Time `json:"enrolled_at"`
	SourceImageRef string    `json:"source_image_ref,omitempty"`
}

func faceResponse(rec facematch.FaceRecord) FaceResponse {
	return FaceResponse{
		ID:             rec.ID,
		DisplayName:    rec.DisplayName,
		Role:           rec.Role,
		Authorized:     rec.Authorized,
		SelfEnrolled:   rec.SelfEnrolled,
		Simulated:      rec.Simulated,
		Model:          rec.Model,
		Dim:            len(rec.Descriptor),
		EnrolledAt:     rec.EnrolledAt,
		SourceImageRef: rec.SourceImageRef,
	}
}

// List returns the gallery in match order, self-enrolled records first.
func (h *FacesHandler) List(w http.ResponseWriter, r *http.Request) {
	records := h.gallery.List()
	out := make([]FaceResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, faceResponse(rec))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"faces": out,
		"count": len(out),
	})
}

// ClearSelf removes every self-enrolled record.
func (h *FacesHandler) ClearSelf(w http.ResponseWriter, r *http.Request) {
	removed, err := h.gallery.Clear(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	logging.Component("web").WithField("removed", removed).Info("self-enrollments cleared")
	respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
