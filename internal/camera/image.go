package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-id/internal/fingerprint"
)

// ImageDevice is a device backed by still images. Every stream repeats the
// device's image as its only frame.
type ImageDevice struct {
	mu     sync.RWMutex
	images map[string]imageSource
	order  []string
}

type imageSource struct {
	info DeviceInfo
	data []byte
}

// NewImageDevice creates an image device with no sources.
func NewImageDevice() *ImageDevice {
	return &ImageDevice{images: make(map[string]imageSource)}
}

// AddImage registers an in-memory image as a device.
func (d *ImageDevice) AddImage(id, label string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.images[id]; !ok {
		d.order = append(d.order, id)
	}
	d.images[id] = imageSource{info: DeviceInfo{ID: id, Label: label}, data: data}
}

// AddFile registers an image file as a device named after the file.
func (d *ImageDevice) AddFile(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is user-supplied on the command line
	if err != nil {
		return "", fmt.Errorf("reading image %s: %w", path, err)
	}
	id := "image:" + filepath.Base(path)
	d.AddImage(id, filepath.Base(path), data)
	return id, nil
}

// EnumerateDevices lists the registered images in insertion order.
func (d *ImageDevice) EnumerateDevices(ctx context.Context) ([]DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]DeviceInfo, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.images[id].info)
	}
	return out, nil
}

// RequestStream opens a stream over the selected image.
func (d *ImageDevice) RequestStream(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	src, ok := d.images[c.DeviceID]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c.DeviceID)
	}
	return &imageStream{id: uuid.NewString(), data: src.data, track: &imageTrack{id: uuid.NewString()}}, nil
}

type imageTrack struct {
	id      string
	stopped atomic.Bool
}

func (t *imageTrack) ID() string { return t.id }
func (t *imageTrack) Stop()      { t.stopped.Store(true) }

type imageStream struct {
	id    string
	data  []byte
	track *imageTrack
}

func (s *imageStream) ID() string { return s.id }

func (s *imageStream) Tracks() []Track { return []Track{s.track} }

func (s *imageStream) Metadata(ctx context.Context) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	// undecodable images still stream; dimensions stay unknown
	w, h, err := fingerprint.Dimensions(s.data)
	if err != nil {
		return 0, 0, nil
	}
	return w, h, nil
}

func (s *imageStream) Frame(ctx context.Context) (CaptureFrame, error) {
	if err := ctx.Err(); err != nil {
		return CaptureFrame{}, err
	}
	if s.track.stopped.Load() {
		return CaptureFrame{}, ErrStreamEnded
	}
	w, h, _ := fingerprint.Dimensions(s.data)
	data := make([]byte, len(s.data))
	copy(data, s.data)
	return CaptureFrame{Data: data, Width: w, Height: h, CapturedAt: time.Now()}, nil
}
