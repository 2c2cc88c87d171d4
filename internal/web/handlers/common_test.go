package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-id/internal/camera"
	"github.com/kozaktomas/face-id/internal/flow"
	"github.com/kozaktomas/face-id/internal/gallery"
)

func TestRespondJSON(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusCreated, map[string]any{"id": "abc", "count": 2})

	if recorder.Code != http.StatusCreated {
		t.Errorf("expected status %d, got %d", http.StatusCreated, recorder.Code)
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["id"] != "abc" || result["count"] != float64(2) {
		t.Errorf("unexpected body %v", result)
	}
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusNoContent, nil)

	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body for nil data, got '%s'", recorder.Body.String())
	}
}

func TestRespondJSON_UnencodableData(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusOK, map[string]float64{"distance": math.Inf(1)})

	if recorder.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, recorder.Code)
	}
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["error"] == "" {
		t.Errorf("expected error message, got %v", result)
	}
}

func TestSendSSEEvent(t *testing.T) {
	tests := []struct {
		name string
		data any
		want string
	}{
		{name: "encodable", data: map[string]int{"n": 1}, want: "event: state\ndata: {\"n\":1}\n\n"},
		{name: "unencodable skipped", data: map[string]float64{"d": math.NaN()}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			sendSSEEvent(recorder, recorder, "state", tt.data)
			if got := recorder.Body.String(); got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRespondError_ContainsErrorKey(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusBadRequest, "something went wrong")

	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["error"] != "something went wrong" {
		t.Errorf("expected error message, got '%s'", result["error"])
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"name required", flow.ErrNameRequired, http.StatusBadRequest},
		{"empty frame", flow.ErrEmptyFrame, http.StatusBadRequest},
		{"permission", fmt.Errorf("opening: %w", camera.ErrPermissionDenied), http.StatusForbidden},
		{"unknown flow", errFlowNotFound, http.StatusNotFound},
		{"unknown record", gallery.ErrNotFound, http.StatusNotFound},
		{"invalid transition", &flow.TransitionError{From: flow.StateIdle}, http.StatusConflict},
		{"busy flow", flow.ErrBusy, http.StatusConflict},
		{"device busy", camera.ErrDeviceBusy, http.StatusServiceUnavailable},
		{"no device", camera.ErrNotFound, http.StatusServiceUnavailable},
		{"stream ended", fmt.Errorf("capturing frame: %w", camera.ErrStreamEnded), http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := errorStatus(tc.err); got != tc.want {
				t.Errorf("errorStatus(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"empty body", "", false},
		{"valid", `{"device_id":"cam0","width":640,"height":480,"fps":15}`, false},
		{"malformed", `{"device_id":`, true},
		{"width out of range", `{"width":5}`, true},
		{"fps out of range", `{"fps":1000}`, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dst StartCameraRequest
			err := decodeJSON(req, &dst)
			if (err != nil) != tc.wantErr {
				t.Errorf("decodeJSON() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestDecodeJSON_RequiredName(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	var dst SetNameRequest
	err := decodeJSON(req, &dst)
	if err == nil || !strings.Contains(err.Error(), "name") {
		t.Errorf("decodeJSON() error = %v, want a name validation error", err)
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("line1\nline2\r"); got != "line1line2" {
		t.Errorf("sanitizeForLog() = %q", got)
	}
}

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()

	HealthCheck(recorder, req)

	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if recorder.Code != http.StatusOK || result["status"] != "ok" {
		t.Errorf("got %d %v", recorder.Code, result)
	}
}
