package flow

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-id/internal/camera"
	"github.com/kozaktomas/face-id/internal/database/mock"
	"github.com/kozaktomas/face-id/internal/embedding"
	"github.com/kozaktomas/face-id/internal/facematch"
	"github.com/kozaktomas/face-id/internal/fallback"
	"github.com/kozaktomas/face-id/internal/gallery"
)

// testDevice is a single camera whose streams repeat one frame.
type testDevice struct {
	mu      sync.Mutex
	frame   []byte
	err     error
	gate    chan struct{}
	created int
	stopped int
}

func (d *testDevice) EnumerateDevices(context.Context) ([]camera.DeviceInfo, error) {
	return []camera.DeviceInfo{{ID: "cam0", Label: "Test Camera"}}, nil
}

func (d *testDevice) RequestStream(ctx context.Context, _ camera.Constraints) (camera.Stream, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.created++
	return &testStream{dev: d, id: fmt.Sprintf("stream-%d", d.created)}, nil
}

func (d *testDevice) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *testDevice) counts() (created, stopped int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created, d.stopped
}

type testStream struct {
	dev  *testDevice
	id   string
	once sync.Once
	done bool
}

func (s *testStream) ID() string { return s.id }

func (s *testStream) Tracks() []camera.Track { return []camera.Track{s} }

func (s *testStream) Stop() {
	s.once.Do(func() {
		s.dev.mu.Lock()
		s.dev.stopped++
		s.done = true
		s.dev.mu.Unlock()
	})
}

func (s *testStream) Metadata(context.Context) (int, int, error) { return 640, 480, nil }

func (s *testStream) Frame(context.Context) (camera.CaptureFrame, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.done {
		return camera.CaptureFrame{}, camera.ErrStreamEnded
	}
	data := append([]byte(nil), s.dev.frame...)
	return camera.CaptureFrame{Data: data, Width: 640, Height: 480}, nil
}

// stubModel answers from a table keyed by frame content; unknown frames have no face.
type stubModel struct {
	loadErr error
	faces   map[string]facematch.Descriptor
}

func (m *stubModel) Name() string { return "stub" }

func (m *stubModel) Load(context.Context) error { return m.loadErr }

func (m *stubModel) Embed(_ context.Context, frame []byte) (facematch.Descriptor, error) {
	d, ok := m.faces[string(frame)]
	if !ok {
		return nil, embedding.ErrNoFaceDetected
	}
	return d, nil
}

func newResolver(m *stubModel) *embedding.Resolver {
	return embedding.NewResolver(embedding.NewLoader(m), fallback.NewClassifier(facematch.DefaultDescriptorDim))
}

type fixture struct {
	device   *testDevice
	session  *camera.Session
	store    *mock.MockEnrollmentStore
	gallery  *gallery.Gallery
	model    *stubModel
	resolver *embedding.Resolver
}

func newFixture(t *testing.T, frame []byte) *fixture {
	t.Helper()
	dev := &testDevice{frame: frame}
	store := mock.NewMockEnrollmentStore()
	model := &stubModel{faces: map[string]facematch.Descriptor{}}
	return &fixture{
		device:   dev,
		session:  camera.NewSession(dev, camera.Constraints{}, time.Second),
		store:    store,
		gallery:  gallery.New(gallery.Options{Store: store}),
		model:    model,
		resolver: newResolver(model),
	}
}

func (f *fixture) enrollment(name string) *Enrollment {
	return NewEnrollment(EnrollmentOptions{
		ID:       "enroll-1",
		Name:     name,
		Camera:   f.session,
		Embedder: f.resolver,
		Gallery:  f.gallery,
	})
}

func (f *fixture) authentication(opts facematch.Options) *Authentication {
	return NewAuthentication(AuthenticationOptions{
		ID:       "auth-1",
		Camera:   f.session,
		Embedder: f.resolver,
		Gallery:  f.gallery,
		Match:    opts,
	})
}

// assertReleased checks that every track created was stopped.
func (f *fixture) assertReleased(t *testing.T) {
	t.Helper()
	created, stopped := f.device.counts()
	if created != stopped {
		t.Errorf("tracks created = %d, stopped = %d", created, stopped)
	}
	if st := f.session.State(); st.Status == camera.StatusActive {
		t.Errorf("camera status = %s, want released", st.Status)
	}
}

func testJPEG(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for x := range 32 {
		for y := range 32 {
			img.Set(x, y, color.RGBA{uint8(x * 8), shade, uint8(y * 8), 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}
