package camera

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newFakeDevice() *fakeDevice {
	return &fakeDevice{devices: []DeviceInfo{
		{ID: "/dev/video0", Label: "Integrated Camera"},
		{ID: "/dev/video2", Label: "USB Camera"},
	}}
}

func TestSession_AcquireRelease(t *testing.T) {
	dev := newFakeDevice()
	dev.tracks = 2
	s := NewSession(dev, Constraints{}, time.Second)

	st, err := s.Acquire(context.Background(), Constraints{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if st.Status != StatusActive || st.DeviceID != "/dev/video0" || st.Width != 640 || st.Height != 480 {
		t.Errorf("Acquire() state = %+v", st)
	}
	if s.Stream() == nil {
		t.Fatal("Stream() = nil while active")
	}

	s.Release()
	s.Release()

	if got := s.State().Status; got != StatusIdle {
		t.Errorf("status after Release = %s, want idle", got)
	}
	if s.Stream() != nil {
		t.Error("Stream() != nil after Release")
	}
	if dev.created.Load() != 2 || dev.stopped.Load() != 2 {
		t.Errorf("tracks created=%d stopped=%d, want 2/2", dev.created.Load(), dev.stopped.Load())
	}
}

func TestSession_RepeatedAcquireKeepsOneStream(t *testing.T) {
	dev := newFakeDevice()
	s := NewSession(dev, Constraints{}, time.Second)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Acquire(ctx, Constraints{DeviceID: "/dev/video2"}); err != nil {
			t.Fatalf("Acquire() #%d error = %v", i, err)
		}
		if live := dev.live(); live != 1 {
			t.Fatalf("after acquire #%d live streams = %d, want 1", i, live)
		}
	}

	s.Release()
	if dev.live() != 0 {
		t.Errorf("live streams after Release = %d", dev.live())
	}
	if dev.created.Load() != dev.stopped.Load() {
		t.Errorf("created=%d stopped=%d, want equal", dev.created.Load(), dev.stopped.Load())
	}
}

func TestSession_ConcurrentAcquireKeepsOneStream(t *testing.T) {
	dev := newFakeDevice()
	s := NewSession(dev, Constraints{}, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Acquire(context.Background(), Constraints{})
			if err != nil && !errors.Is(err, ErrSuperseded) {
				t.Errorf("Acquire() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if live := dev.live(); live > 1 {
		t.Errorf("live streams = %d, want at most 1", live)
	}
	s.Release()
	if dev.created.Load() != dev.stopped.Load() {
		t.Errorf("created=%d stopped=%d, want equal", dev.created.Load(), dev.stopped.Load())
	}
}

func TestSession_AcquireErrors(t *testing.T) {
	tests := []struct {
		name    string
		dev     *fakeDevice
		c       Constraints
		wantErr error
	}{
		{"no devices", &fakeDevice{}, Constraints{}, ErrNotFound},
		{"unknown device", newFakeDevice(), Constraints{DeviceID: "/dev/video9"}, ErrNotFound},
		{"permission", &fakeDevice{devices: []DeviceInfo{{ID: "cam"}}, requestErr: ErrPermissionDenied}, Constraints{}, ErrPermissionDenied},
		{"busy", &fakeDevice{devices: []DeviceInfo{{ID: "cam"}}, requestErr: ErrDeviceBusy}, Constraints{}, ErrDeviceBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(tt.dev, Constraints{}, time.Second)
			st, err := s.Acquire(context.Background(), tt.c)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Acquire() error = %v, want %v", err, tt.wantErr)
			}
			if st.Status != StatusError || st.LastError == "" {
				t.Errorf("state = %+v, want error status with message", st)
			}
			if s.Stream() != nil {
				t.Error("stream left acquired after failure")
			}
			if tt.dev.created.Load() != tt.dev.stopped.Load() {
				t.Errorf("created=%d stopped=%d", tt.dev.created.Load(), tt.dev.stopped.Load())
			}
		})
	}
}

func TestSession_MetadataTimeoutFailsOpen(t *testing.T) {
	dev := newFakeDevice()
	dev.noMetadata = true
	s := NewSession(dev, Constraints{}, 20*time.Millisecond)

	st, err := s.Acquire(context.Background(), Constraints{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if st.Status != StatusActive || st.Width != 0 || st.Height != 0 {
		t.Errorf("state = %+v, want active without dimensions", st)
	}
	s.Release()
}

func TestSession_CancelDuringPermissionPrompt(t *testing.T) {
	dev := newFakeDevice()
	dev.requestGate = make(chan struct{})
	s := NewSession(dev, Constraints{}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := s.Acquire(ctx, Constraints{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire() error = %v, want context.Canceled", err)
	}
	if s.Stream() != nil || dev.created.Load() != 0 {
		t.Error("stream created despite cancellation")
	}
}

func TestSession_LabelRefreshedAfterGrant(t *testing.T) {
	dev := newFakeDevice()
	dev.hiddenLabels = true
	s := NewSession(dev, Constraints{}, time.Second)

	devices, err := s.Devices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if devices[0].Label != "" {
		t.Fatalf("label before grant = %q, want empty", devices[0].Label)
	}

	st, err := s.Acquire(context.Background(), Constraints{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if st.DeviceLabel != "Integrated Camera" {
		t.Errorf("DeviceLabel = %q, want refreshed label", st.DeviceLabel)
	}
	if s.State().DeviceLabel != "Integrated Camera" {
		t.Errorf("State().DeviceLabel = %q", s.State().DeviceLabel)
	}
	s.Release()
}

func TestSession_Retry(t *testing.T) {
	dev := &fakeDevice{devices: []DeviceInfo{{ID: "cam", Label: "Cam"}}, requestErr: ErrDeviceBusy}
	s := NewSession(dev, Constraints{}, time.Second)
	ctx := context.Background()

	if _, err := s.Acquire(ctx, Constraints{DeviceID: "cam", Width: 320}); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("Acquire() error = %v", err)
	}

	// nothing retries on its own
	time.Sleep(10 * time.Millisecond)
	if dev.created.Load() != 0 || s.State().Status != StatusError {
		t.Fatalf("unexpected automatic retry: state=%+v", s.State())
	}

	dev.requestErr = nil
	st, err := s.Retry(ctx)
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if st.Status != StatusActive || st.DeviceID != "cam" {
		t.Errorf("Retry() state = %+v", st)
	}

	if _, err := s.Retry(ctx); !errors.Is(err, ErrRetryNotAllowed) {
		t.Errorf("Retry() while active error = %v, want ErrRetryNotAllowed", err)
	}

	s.Release()
	if _, err := s.Retry(ctx); err != nil {
		t.Errorf("Retry() from idle error = %v", err)
	}
	s.Release()
	if dev.created.Load() != dev.stopped.Load() {
		t.Errorf("created=%d stopped=%d", dev.created.Load(), dev.stopped.Load())
	}
}

func TestSession_Capture(t *testing.T) {
	dev := newFakeDevice()
	s := NewSession(dev, Constraints{}, time.Second)
	ctx := context.Background()

	if _, err := s.Capture(ctx); !errors.Is(err, ErrNotActive) {
		t.Fatalf("Capture() while idle error = %v, want ErrNotActive", err)
	}

	if _, err := s.Acquire(ctx, Constraints{}); err != nil {
		t.Fatal(err)
	}
	frame, err := s.Capture(ctx)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if frame.Source != SourceCamera || len(frame.Data) == 0 || frame.CapturedAt.IsZero() {
		t.Errorf("frame = %+v", frame)
	}

	// a dead stream moves the session to error and releases it
	s.Stream().(*fakeStream).frameErr = ErrStreamEnded
	if _, err := s.Capture(ctx); !errors.Is(err, ErrStreamEnded) {
		t.Fatalf("Capture() error = %v, want ErrStreamEnded", err)
	}
	if st := s.State(); st.Status != StatusError {
		t.Errorf("status = %s, want error", st.Status)
	}
	if dev.created.Load() != dev.stopped.Load() {
		t.Errorf("created=%d stopped=%d", dev.created.Load(), dev.stopped.Load())
	}
}

func TestSession_Subscribe(t *testing.T) {
	dev := newFakeDevice()
	s := NewSession(dev, Constraints{}, time.Second)
	ch, unsubscribe := s.Subscribe()

	if _, err := s.Acquire(context.Background(), Constraints{}); err != nil {
		t.Fatal(err)
	}
	s.Release()

	var got []Status
	for i := 0; i < 3; i++ {
		select {
		case st := <-ch:
			got = append(got, st.Status)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for state %d, got %v", i, got)
		}
	}
	want := []Status{StatusRequesting, StatusActive, StatusIdle}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("states = %v, want %v", got, want)
			break
		}
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
}

func TestSession_DefaultsFillConstraints(t *testing.T) {
	dev := newFakeDevice()
	s := NewSession(dev, Constraints{DeviceID: "/dev/video2", Width: 1280, Height: 720, FPS: 30}, 0)

	st, err := s.Acquire(context.Background(), Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if st.DeviceID != "/dev/video2" {
		t.Errorf("DeviceID = %q, want default /dev/video2", st.DeviceID)
	}
	if s.metadataTimeout != DefaultMetadataTimeout {
		t.Errorf("metadataTimeout = %v", s.metadataTimeout)
	}
	s.Release()
}

func TestSession_ReleaseFor(t *testing.T) {
	dev := newFakeDevice()
	s := NewSession(dev, Constraints{}, time.Second)
	ctx := context.Background()

	if _, err := s.AcquireFor(ctx, "flow-a", Constraints{}); err != nil {
		t.Fatalf("AcquireFor() error = %v", err)
	}
	if got := s.Owner(); got != "flow-a" {
		t.Errorf("Owner() = %q, want flow-a", got)
	}

	for _, other := range []string{"", "flow-b"} {
		if s.ReleaseFor(other) {
			t.Errorf("ReleaseFor(%q) released a stream it does not hold", other)
		}
	}
	if s.State().Status != StatusActive || dev.stopped.Load() != 0 {
		t.Fatalf("owner's stream was stopped: state=%+v stopped=%d", s.State(), dev.stopped.Load())
	}

	// a newer acquisition takes over; the old owner can no longer release it
	if _, err := s.AcquireFor(ctx, "flow-b", Constraints{}); err != nil {
		t.Fatalf("AcquireFor() error = %v", err)
	}
	if s.ReleaseFor("flow-a") {
		t.Error("previous owner released the new acquisition")
	}
	if !s.ReleaseFor("flow-b") {
		t.Error("ReleaseFor(owner) = false")
	}
	if s.State().Status != StatusIdle || s.Owner() != "" {
		t.Errorf("after ReleaseFor: state=%s owner=%q", s.State().Status, s.Owner())
	}
	if dev.created.Load() != dev.stopped.Load() {
		t.Errorf("created=%d stopped=%d", dev.created.Load(), dev.stopped.Load())
	}
}

func TestSession_RetryKeepsOwner(t *testing.T) {
	dev := &fakeDevice{devices: []DeviceInfo{{ID: "cam", Label: "Cam"}}, requestErr: ErrDeviceBusy}
	s := NewSession(dev, Constraints{}, time.Second)
	ctx := context.Background()

	if _, err := s.AcquireFor(ctx, "flow-a", Constraints{}); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("AcquireFor() error = %v", err)
	}
	dev.requestErr = nil
	if _, err := s.Retry(ctx); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if got := s.Owner(); got != "flow-a" {
		t.Errorf("Owner() after Retry = %q, want flow-a", got)
	}
	s.Release()
	if s.Owner() != "" {
		t.Errorf("Owner() after Release = %q", s.Owner())
	}
}
