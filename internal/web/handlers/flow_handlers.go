package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-id/internal/camera"
	"github.com/kozaktomas/face-id/internal/config"
	"github.com/kozaktomas/face-id/internal/facematch"
	"github.com/kozaktomas/face-id/internal/flow"
	"github.com/kozaktomas/face-id/internal/logging"
)

// Services bundles what the flow handlers need.
type Services struct {
	Config   *config.Config
	Camera   *camera.Session
	Embedder Embedder
	Gallery  FaceGallery
	Frames   flow.FrameSaver
}

// Embedder resolves descriptors and reports the embedding mode.
type Embedder interface {
	flow.Embedder
	ModeReporter
}

// FaceGallery is the gallery surface used over HTTP.
type FaceGallery interface {
	flow.Enroller
	flow.Lister
	Clear(ctx context.Context) (int, error)
	Len() int
}

// CreateEnrollmentRequest starts an enrollment. The name may also be set later.
type CreateEnrollmentRequest struct {
	Name string `json:"name" validate:"max=120"`
}

// SetNameRequest renames a pending enrollment.
type SetNameRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

// StartCameraRequest overrides the configured capture constraints.
type StartCameraRequest struct {
	DeviceID string `json:"device_id" validate:"max=256"`
	Width    int    `json:"width" validate:"omitempty,min=16,max=4096"`
	Height   int    `json:"height" validate:"omitempty,min=16,max=4096"`
	FPS      int    `json:"fps" validate:"omitempty,min=1,max=120"`
}

func (req StartCameraRequest) constraints() camera.Constraints {
	return camera.Constraints{DeviceID: req.DeviceID, Width: req.Width, Height: req.Height, FPS: req.FPS}
}

// FlowsHandler handles the enrollment and authentication endpoints.
type FlowsHandler struct {
	services Services
	flows    *FlowManager
}

// NewFlowsHandler creates a new flows handler.
func NewFlowsHandler(services Services, flows *FlowManager) *FlowsHandler {
	return &FlowsHandler{services: services, flows: flows}
}

func (h *FlowsHandler) matchOptions() facematch.Options {
	return facematch.Options{
		Threshold:      h.services.Config.Matching.ConfidenceThreshold,
		AuthorizedOnly: h.services.Config.Matching.AuthorizedOnly,
	}
}

// CreateEnrollment starts a new enrollment flow.
func (h *FlowsHandler) CreateEnrollment(w http.ResponseWriter, r *http.Request) {
	var req CreateEnrollmentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	e := flow.NewEnrollment(flow.EnrollmentOptions{
		ID:       h.flows.NewID(),
		Name:     req.Name,
		Camera:   h.services.Camera,
		Embedder: h.services.Embedder,
		Gallery:  h.services.Gallery,
		Frames:   h.services.Frames,
	})
	h.flows.Add(e)
	logging.Component("web").WithFields(logging.Fields{
		"flow": e.ID(),
		"name": sanitizeForLog(e.Name()),
	}).Info("enrollment started")

	respondJSON(w, http.StatusCreated, e.Snapshot())
}

// CreateAuthentication starts a new authentication flow.
func (h *FlowsHandler) CreateAuthentication(w http.ResponseWriter, r *http.Request) {
	a := flow.NewAuthentication(flow.AuthenticationOptions{
		ID:       h.flows.NewID(),
		Camera:   h.services.Camera,
		Embedder: h.services.Embedder,
		Gallery:  h.services.Gallery,
		Match:    h.matchOptions(),
	})
	h.flows.Add(a)
	logging.Component("web").WithField("flow", a.ID()).Info("authentication started")

	respondJSON(w, http.StatusCreated, a.Snapshot())
}

func (h *FlowsHandler) lookup(kind flow.Kind) func(string) (Flow, error) {
	return func(id string) (Flow, error) {
		f, err := h.flows.Get(id)
		if err != nil {
			return nil, err
		}
		if f.Kind() != kind {
			return nil, errFlowNotFound
		}
		return f, nil
	}
}

// flowAction resolves the flow named in the URL and runs fn on it,
// answering with the resulting snapshot.
func (h *FlowsHandler) flowAction(kind flow.Kind, fn func(r *http.Request, f Flow) error) http.HandlerFunc {
	lookup := h.lookup(kind)
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := lookup(chi.URLParam(r, "id"))
		if err != nil {
			respondErr(w, err)
			return
		}
		if err := fn(r, f); err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, f.Snapshot())
	}
}

// Get returns the flow snapshot.
func (h *FlowsHandler) Get(kind flow.Kind) http.HandlerFunc {
	return h.flowAction(kind, func(*http.Request, Flow) error { return nil })
}

// StartCamera acquires the camera for the flow.
func (h *FlowsHandler) StartCamera(kind flow.Kind) http.HandlerFunc {
	lookup := h.lookup(kind)
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartCameraRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		f, err := lookup(chi.URLParam(r, "id"))
		if err != nil {
			respondErr(w, err)
			return
		}
		if n := h.flows.TakeCamera(f.ID()); n > 0 {
			logging.Component("web").WithFields(logging.Fields{"flow": f.ID(), "closed": n}).Info("camera taken from other flows")
		}
		if err := f.StartCamera(r.Context(), req.constraints()); err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, f.Snapshot())
	}
}

// Capture takes the preview still.
func (h *FlowsHandler) Capture(kind flow.Kind) http.HandlerFunc {
	return h.flowAction(kind, func(r *http.Request, f Flow) error {
		return f.Capture(r.Context())
	})
}

// Retake discards the preview still.
func (h *FlowsHandler) Retake(kind flow.Kind) http.HandlerFunc {
	return h.flowAction(kind, func(_ *http.Request, f Flow) error {
		return f.Retake()
	})
}

// Cancel abandons the flow and releases the camera.
func (h *FlowsHandler) Cancel(kind flow.Kind) http.HandlerFunc {
	return h.flowAction(kind, func(_ *http.Request, f Flow) error {
		return f.Cancel()
	})
}

// Upload uses a multipart still image in place of a camera capture.
func (h *FlowsHandler) Upload(kind flow.Kind) http.HandlerFunc {
	lookup := h.lookup(kind)
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := lookup(chi.URLParam(r, "id"))
		if err != nil {
			respondErr(w, err)
			return
		}
		frame, err := readUploadedFrame(w, r)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := f.UploadFrame(frame); err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, f.Snapshot())
	}
}

// Events streams flow snapshots over SSE.
func (h *FlowsHandler) Events(kind flow.Kind) http.HandlerFunc {
	lookup := h.lookup(kind)
	return func(w http.ResponseWriter, r *http.Request) {
		streamSSEEvents(w, r, lookup)
	}
}

// SetName renames a pending enrollment.
func (h *FlowsHandler) SetName(w http.ResponseWriter, r *http.Request) {
	var req SetNameRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	e, err := h.flows.Enrollment(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	if err := e.SetName(req.Name); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e.Snapshot())
}

// ConfirmEnrollment extracts the descriptor and stores the record.
func (h *FlowsHandler) ConfirmEnrollment(w http.ResponseWriter, r *http.Request) {
	e, err := h.flows.Enrollment(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	if _, err := e.Confirm(r.Context()); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e.Snapshot())
}

// ConfirmAuthentication matches the probe against the gallery.
func (h *FlowsHandler) ConfirmAuthentication(w http.ResponseWriter, r *http.Request) {
	a, err := h.flows.Authentication(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	if _, err := a.Confirm(r.Context()); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a.Snapshot())
}
