//go:build dlib

package embedding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/kozaktomas/face-id/internal/facematch"
	"github.com/kozaktomas/face-id/internal/fingerprint"
)

// DlibCompiled reports whether the dlib backend is part of this build.
const DlibCompiled = true

// DlibModel runs dlib's ResNet face recognition model in-process via go-face.
// The models directory must contain shape_predictor_5_face_landmarks.dat,
// dlib_face_recognition_resnet_model_v1.dat and mmod_human_face_detector.dat.
type DlibModel struct {
	modelsDir string

	mu  sync.Mutex
	rec *face.Recognizer
}

// NewDlibModel creates an unloaded dlib model.
func NewDlibModel(modelsDir string) (Model, error) {
	if modelsDir == "" {
		return nil, errors.New("dlib models directory is required")
	}
	return &DlibModel{modelsDir: modelsDir}, nil
}

func (m *DlibModel) Name() string {
	return "dlib-resnet-v1"
}

// Load initialises the recognizer. Calling it again after success is a no-op.
func (m *DlibModel) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rec != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec, err := face.NewRecognizer(m.modelsDir)
	if err != nil {
		return fmt.Errorf("failed to load models from %s: %w", m.modelsDir, err)
	}
	m.rec = rec
	return nil
}

// Embed detects faces in a JPEG frame and returns the descriptor of the largest one.
func (m *DlibModel) Embed(ctx context.Context, frame []byte) (facematch.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frame, err := asJPEG(frame)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return nil, ErrModelNotLoaded
	}

	faces, err := m.rec.Recognize(frame)
	if err != nil {
		return nil, fmt.Errorf("face recognition failed: %w", err)
	}
	if len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if f.Rectangle.Dx()*f.Rectangle.Dy() > best.Rectangle.Dx()*best.Rectangle.Dy() {
			best = f
		}
	}

	desc := make(facematch.Descriptor, len(best.Descriptor))
	copy(desc, best.Descriptor[:])
	return desc, nil
}

// Close releases the native recognizer.
func (m *DlibModel) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec != nil {
		m.rec.Close()
		m.rec = nil
	}
}

// asJPEG re-encodes non-JPEG frames; go-face only decodes JPEG.
func asJPEG(frame []byte) ([]byte, error) {
	if detectMIMEType(frame) == "image/jpeg" {
		return frame, nil
	}
	img, err := fingerprint.Decode(frame)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("failed to encode frame as JPEG: %w", err)
	}
	return buf.Bytes(), nil
}
