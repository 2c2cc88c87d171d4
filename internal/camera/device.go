// Package camera manages the lifecycle of a single capture stream: acquisition,
// readiness waiting, user-triggered retry and teardown.
package camera

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrNotFound         = errors.New("no camera device found")
	ErrDeviceBusy       = errors.New("camera device busy")
	ErrNotActive        = errors.New("camera is not active")
	ErrRetryNotAllowed  = errors.New("retry is only allowed when the camera is idle or failed")
	ErrStreamEnded      = errors.New("camera stream ended")
	ErrSuperseded       = errors.New("camera request superseded")
)

// Frame sources.
const (
	SourceCamera = "camera"
	SourceUpload = "upload"
	SourceSeed   = "seed"
)

// CaptureFrame is a still image taken from a stream or supplied by the user.
type CaptureFrame struct {
	Data       []byte    `json:"-"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Source     string    `json:"source"`
	CapturedAt time.Time `json:"captured_at"`
}

// DeviceInfo describes a capture device. Label may be empty until access was granted.
type DeviceInfo struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Constraints select a device and the preferred frame format.
type Constraints struct {
	DeviceID string `json:"device_id,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	FPS      int    `json:"fps,omitempty"`
}

// Track is one media track of a stream. Stop releases the underlying hardware.
type Track interface {
	ID() string
	Stop()
}

// Stream is an open capture stream.
type Stream interface {
	ID() string
	Tracks() []Track
	// Metadata blocks until the frame dimensions are known.
	Metadata(ctx context.Context) (width, height int, err error)
	// Frame returns the most recent frame, waiting for the first one if needed.
	Frame(ctx context.Context) (CaptureFrame, error)
}

// Device is the capture device API.
type Device interface {
	EnumerateDevices(ctx context.Context) ([]DeviceInfo, error)
	RequestStream(ctx context.Context, c Constraints) (Stream, error)
}

// StopAll stops every track of a stream.
func StopAll(s Stream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
