package camera

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// fakeDevice counts every track it creates and every Stop call.
type fakeDevice struct {
	devices      []DeviceInfo
	hiddenLabels bool // labels are empty until a stream was granted
	requestErr   error
	requestGate  chan struct{} // when set, RequestStream waits for it
	noMetadata   bool          // Metadata blocks until ctx is done
	tracks       int

	created atomic.Int32
	stopped atomic.Int32

	mu      sync.Mutex
	granted bool
	streams []*fakeStream
}

func (d *fakeDevice) EnumerateDevices(ctx context.Context) ([]DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DeviceInfo, len(d.devices))
	copy(out, d.devices)
	if d.hiddenLabels && !d.granted {
		for i := range out {
			out[i].Label = ""
		}
	}
	return out, nil
}

func (d *fakeDevice) RequestStream(ctx context.Context, c Constraints) (Stream, error) {
	if d.requestGate != nil {
		select {
		case <-d.requestGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.requestErr != nil {
		return nil, d.requestErr
	}
	n := d.tracks
	if n == 0 {
		n = 1
	}
	d.mu.Lock()
	s := &fakeStream{id: fmt.Sprintf("stream-%d", len(d.streams)), dev: d, noMetadata: d.noMetadata}
	for i := 0; i < n; i++ {
		s.tracks = append(s.tracks, &fakeTrack{id: fmt.Sprintf("%s-track-%d", s.id, i), dev: d})
		d.created.Add(1)
	}
	d.granted = true
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

// live returns the number of streams with at least one running track.
func (d *fakeDevice) live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.streams {
		for _, t := range s.tracks {
			if !t.isStopped() {
				n++
				break
			}
		}
	}
	return n
}

type fakeTrack struct {
	id    string
	dev   *fakeDevice
	mu    sync.Mutex
	stops int
}

func (t *fakeTrack) ID() string { return t.id }

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
	t.dev.stopped.Add(1)
}

func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops > 0
}

type fakeStream struct {
	id         string
	dev        *fakeDevice
	tracks     []*fakeTrack
	noMetadata bool
	frameErr   error
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *fakeStream) Metadata(ctx context.Context) (int, int, error) {
	if s.noMetadata {
		<-ctx.Done()
		return 0, 0, ctx.Err()
	}
	return 640, 480, nil
}

func (s *fakeStream) Frame(ctx context.Context) (CaptureFrame, error) {
	if s.frameErr != nil {
		return CaptureFrame{}, s.frameErr
	}
	return CaptureFrame{Data: []byte(s.id), Width: 640, Height: 480, CapturedAt: time.Now()}, nil
}
