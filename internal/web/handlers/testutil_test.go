package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-id/internal/camera"
	"github.com/kozaktomas/face-id/internal/config"
	"github.com/kozaktomas/face-id/internal/database/mock"
	"github.com/kozaktomas/face-id/internal/embedding"
	"github.com/kozaktomas/face-id/internal/flow"
	"github.com/kozaktomas/face-id/internal/gallery"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Matching:  config.MatchingConfig{ConfidenceThreshold: 0.9},
		Embedding: config.EmbeddingConfig{Backend: config.EmbeddingBackendFallback, Dim: 128},
		Camera:    config.CameraConfig{Width: 640, Height: 480, FPS: 15},
		Store:     config.StoreConfig{Backend: config.StoreBackendFile},
	}
}

// testJPEG renders a small deterministic image
func testJPEG(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 24, 24))
	for x := range 24 {
		for y := range 24 {
			img.Set(x, y, color.RGBA{uint8(x * 10), shade, uint8(y * 10), 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

type testEnv struct {
	cfg      *config.Config
	device   *camera.ImageDevice
	store    *mock.MockEnrollmentStore
	gallery  *gallery.Gallery
	services Services
	flows    *FlowManager
	handler  *FlowsHandler
}

// newTestEnv wires real flows over an image-backed camera and the fallback classifier.
func newTestEnv(t *testing.T, frame []byte) *testEnv {
	t.Helper()
	cfg := testConfig()
	device := camera.NewImageDevice()
	device.AddImage("cam0", "Test Camera", frame)
	store := mock.NewMockEnrollmentStore()
	g := gallery.New(gallery.Options{Store: store})

	services := Services{
		Config:   cfg,
		Camera:   camera.NewSession(device, camera.Constraints{}, time.Second),
		Embedder: embedding.NewResolverFromConfig(cfg.Embedding),
		Gallery:  g,
	}
	flows := NewFlowManager(time.Minute)
	return &testEnv{
		cfg:      cfg,
		device:   device,
		store:    store,
		gallery:  g,
		services: services,
		flows:    flows,
		handler:  NewFlowsHandler(services, flows),
	}
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// call runs a handler for the flow id and decodes the snapshot it returns.
func call(t *testing.T, h http.HandlerFunc, method, id string, body []byte) (*httptest.ResponseRecorder, flow.Snapshot) {
	t.Helper()
	req := httptest.NewRequest(method, "/", bytes.NewReader(body))
	if id != "" {
		req = requestWithChiParams(req, map[string]string{"id": id})
	}
	rec := httptest.NewRecorder()
	h(rec, req)

	var snap flow.Snapshot
	if rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			t.Fatalf("failed to unmarshal snapshot: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, snap
}

// multipartImage builds an upload request body.
func multipartImage(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, "probe.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}
