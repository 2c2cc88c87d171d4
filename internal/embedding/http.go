package embedding

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-id/internal/facematch"
	"github.com/kozaktomas/face-id/internal/fingerprint"
)

const (
	defaultEmbeddingURL = "http://localhost:8000"
	maxUploadSide       = 1280
)

// HTTPModel computes face descriptors using the embedding server's /embed/face endpoint.
type HTTPModel struct {
	baseURL string
	dim     int
	client  *http.Client

	mu    sync.RWMutex
	model string
}

// NewHTTPModel creates a client for the embedding server. dim is the expected
// descriptor length; 0 accepts whatever the server returns.
func NewHTTPModel(baseURL string, dim int) *HTTPModel {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	return &HTTPModel{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		dim:     dim,
		client:  &http.Client{Timeout: 60 * time.Second},
		model:   "http",
	}
}

// healthResponse is the embedding server's /health payload.
type healthResponse struct {
	Status    string `json:"status"`
	FaceModel string `json:"face_model"`
}

// FaceDetection represents a single detected face.
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint.
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Name returns the server-reported face model once loaded.
func (m *HTTPModel) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.model
}

// Load checks that the embedding server is reachable and healthy.
func (m *HTTPModel) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding server unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding server unhealthy (status %d): %s", resp.StatusCode, string(body))
	}

	var health healthResponse
	if err := json.Unmarshal(body, &health); err == nil && health.FaceModel != "" {
		m.mu.Lock()
		m.model = "http:" + health.FaceModel
		m.mu.Unlock()
	}
	return nil
}

// Embed uploads the frame and returns the descriptor of the most prominent face.
func (m *HTTPModel) Embed(ctx context.Context, frame []byte) (facematch.Descriptor, error) {
	resp, err := m.ComputeFaceEmbeddings(ctx, frame)
	if err != nil {
		return nil, err
	}

	face, ok := pickFace(resp.Faces)
	if !ok {
		return nil, ErrNoFaceDetected
	}
	if m.dim > 0 && len(face.Embedding) != m.dim {
		return nil, fmt.Errorf("embedding server returned %d dimensions, expected %d", len(face.Embedding), m.dim)
	}
	return facematch.Descriptor(face.Embedding), nil
}

// ComputeFaceEmbeddings detects faces and computes their embeddings.
func (m *HTTPModel) ComputeFaceEmbeddings(ctx context.Context, frame []byte) (*FaceResponse, error) {
	if scaled, err := fingerprint.Downscale(frame, maxUploadSide); err == nil {
		frame = scaled
	}

	body, err := m.postMultipartImage(ctx, "/embed/face", frame)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &faceResp, nil
}

// pickFace returns the detection with the highest score, preferring the larger box on ties.
func pickFace(faces []FaceDetection) (FaceDetection, bool) {
	usable := slices.DeleteFunc(slices.Clone(faces), func(f FaceDetection) bool {
		return len(f.Embedding) == 0
	})
	if len(usable) == 0 {
		return FaceDetection{}, false
	}
	best := slices.MaxFunc(usable, func(a, b FaceDetection) int {
		if c := cmp.Compare(a.DetScore, b.DetScore); c != 0 {
			return c
		}
		return cmp.Compare(facematch.BBoxArea(a.BBox), facematch.BBoxArea(b.BBox))
	})
	return best, true
}

// postMultipartImage posts the frame as a multipart "file" part with a sniffed Content-Type.
func (m *HTTPModel) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// detectMIMEType detects the MIME type from image magic bytes.
func detectMIMEType(data []byte) string {
	switch {
	case len(data) < 8:
		return "application/octet-stream"
	case data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
		return "image/png"
	case data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38:
		return "image/gif"
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	}
	return "application/octet-stream"
}
