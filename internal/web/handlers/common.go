package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kozaktomas/face-id/internal/camera"
	"github.com/kozaktomas/face-id/internal/flow"
	"github.com/kozaktomas/face-id/internal/gallery"
	"github.com/kozaktomas/face-id/internal/logging"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// maxJSONBody bounds request bodies decoded by decodeJSON.
const maxJSONBody = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	if data == nil {
		w.WriteHeader(status)
		return
	}
	// encode before the status line so a failure can still become a 500
	body, err := json.Marshal(data)
	if err != nil {
		logging.Component("web").WithError(err).Error("failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response"}` + "\n"))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps a domain error to its status code.
func respondErr(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logging.Component("web").WithError(err).Error("request failed")
	}
	respondError(w, status, err.Error())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, flow.ErrNameRequired),
		errors.Is(err, flow.ErrEmptyFrame),
		errors.Is(err, gallery.ErrNameRequired),
		errors.Is(err, gallery.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, camera.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, errFlowNotFound),
		errors.Is(err, gallery.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, flow.ErrInvalidTransition),
		errors.Is(err, flow.ErrBusy),
		errors.Is(err, flow.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, camera.ErrNotFound),
		errors.Is(err, camera.ErrDeviceBusy),
		errors.Is(err, camera.ErrNotActive),
		errors.Is(err, camera.ErrStreamEnded),
		errors.Is(err, camera.ErrSuperseded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes and validates a request body. An empty body leaves dst
// at its zero value before validation.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBody))
		if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return errors.New(errInvalidRequestBody)
		}
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return fmt.Errorf("invalid %s: failed %q", strings.ToLower(fe.Field()), fe.Tag())
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
