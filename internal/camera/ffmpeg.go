package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-id/internal/fingerprint"
	"github.com/kozaktomas/face-id/internal/logging"
)

const megabyte = 1 << 20

var (
	jpegSOI = []byte{0xFF, 0xD8} // Start of Image
	jpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is a bufio.SplitFunc that extracts complete JPEG images by locating
// the Start Of Image (FFD8) and End Of Image (FFD9) markers.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// SafeCommand wraps exec.Cmd with a buffer catching stderr so the reason for an
// early exit is not lost. Stderr must only be read after Wait returned.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand prepares a command with a stderr buffer attached; it does not start it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...) //nolint:gosec // binary and device come from config
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// FFmpegDevice captures from Linux v4l2 devices through an ffmpeg process that
// emits an MJPEG stream on stdout.
type FFmpegDevice struct {
	Binary   string // ffmpeg executable, defaults to "ffmpeg"
	DevGlob  string // device node pattern, defaults to /dev/video*
	SysfsDir string // defaults to /sys/class/video4linux

	mu      sync.Mutex
	granted map[string]bool // devices opened successfully at least once
	log     *logrus.Entry
}

// NewFFmpegDevice creates a device with default paths.
func NewFFmpegDevice() *FFmpegDevice {
	return &FFmpegDevice{
		Binary:   "ffmpeg",
		DevGlob:  "/dev/video*",
		SysfsDir: "/sys/class/video4linux",
		granted:  make(map[string]bool),
		log:      logging.Component("ffmpeg"),
	}
}

// EnumerateDevices lists v4l2 device nodes. Labels are only reported for
// devices that were opened successfully before.
func (d *FFmpegDevice) EnumerateDevices(ctx context.Context) ([]DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	paths, err := filepath.Glob(d.DevGlob)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", d.DevGlob, err)
	}
	sort.Strings(paths)

	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]DeviceInfo, 0, len(paths))
	for _, p := range paths {
		info := DeviceInfo{ID: p}
		if d.granted[p] {
			info.Label = d.readLabel(p)
		}
		out = append(out, info)
	}
	return out, nil
}

func (d *FFmpegDevice) readLabel(devPath string) string {
	data, err := os.ReadFile(filepath.Join(d.SysfsDir, filepath.Base(devPath), "name"))
	if err != nil {
		return filepath.Base(devPath)
	}
	return strings.TrimSpace(string(data))
}

// classifyOpenError maps device open failures to the camera error taxonomy.
func classifyOpenError(err error) error {
	switch {
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("%w: %w", ErrDeviceBusy, err)
	default:
		return err
	}
}

// classifyExit maps an ffmpeg exit and its stderr to the camera error taxonomy.
func classifyExit(err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	if len(msg) > 512 {
		msg = msg[len(msg)-512:]
	}
	switch {
	case strings.Contains(msg, "Device or resource busy"):
		return fmt.Errorf("%w: %s", ErrDeviceBusy, msg)
	case strings.Contains(msg, "Permission denied"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
	case msg != "":
		return fmt.Errorf("%w: %s", ErrStreamEnded, msg)
	case err != nil:
		return fmt.Errorf("%w: %w", ErrStreamEnded, err)
	default:
		return ErrStreamEnded
	}
}

func (d *FFmpegDevice) args(c Constraints) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2"}
	if c.FPS > 0 {
		args = append(args, "-framerate", strconv.Itoa(c.FPS))
	}
	if c.Width > 0 && c.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height))
	}
	return append(args, "-i", c.DeviceID, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

// RequestStream starts ffmpeg on the selected device.
func (d *FFmpegDevice) RequestStream(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(c.DeviceID, os.O_RDONLY, 0)
	if err != nil {
		return nil, classifyOpenError(err)
	}
	_ = f.Close()

	cmd := NewSafeCommand(d.Binary, d.args(c)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	d.mu.Lock()
	d.granted[c.DeviceID] = true
	d.mu.Unlock()

	s := &ffmpegStream{
		id:    uuid.NewString(),
		cmd:   cmd,
		first: make(chan struct{}),
		done:  make(chan struct{}),
		log:   d.log.WithField("device", c.DeviceID),
	}
	s.track = &processTrack{id: uuid.NewString(), cmd: cmd}
	go s.read(bufio.NewScanner(stdout))

	s.log.WithField("pid", cmd.Process.Pid).Debug("ffmpeg started")
	return s, nil
}

// processTrack is a track backed by one ffmpeg process; stopping it kills the process.
type processTrack struct {
	id   string
	cmd  *SafeCommand
	once sync.Once
}

func (t *processTrack) ID() string { return t.id }

func (t *processTrack) Stop() {
	t.once.Do(func() {
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
	})
}

type ffmpegStream struct {
	id    string
	cmd   *SafeCommand
	track *processTrack
	log   *logrus.Entry

	first     chan struct{}
	firstOnce sync.Once
	done      chan struct{}

	mu     sync.RWMutex
	latest []byte
	width  int
	height int
	err    error
}

func (s *ffmpegStream) ID() string { return s.id }

func (s *ffmpegStream) Tracks() []Track { return []Track{s.track} }

func (s *ffmpegStream) read(scanner *bufio.Scanner) {
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(SplitJpeg)

	for scanner.Scan() {
		frame := make([]byte, len(scanner.Bytes()))
		copy(frame, scanner.Bytes())

		s.mu.Lock()
		s.latest = frame
		if s.width == 0 {
			if w, h, err := fingerprint.Dimensions(frame); err == nil {
				s.width, s.height = w, h
			}
		}
		s.mu.Unlock()
		s.firstOnce.Do(func() { close(s.first) })
	}

	scanErr := scanner.Err()
	waitErr := s.cmd.Wait()

	s.mu.Lock()
	if scanErr != nil {
		s.err = fmt.Errorf("%w: %w", ErrStreamEnded, scanErr)
	} else {
		s.err = classifyExit(waitErr, s.cmd.Stderr.String())
	}
	s.mu.Unlock()
	close(s.done)

	s.log.WithError(s.err).Debug("ffmpeg exited")
}

func (s *ffmpegStream) waitFirst(ctx context.Context) error {
	select {
	case <-s.first:
		return nil
	case <-s.done:
		select {
		case <-s.first:
			return nil
		default:
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ffmpegStream) Metadata(ctx context.Context) (int, int, error) {
	if err := s.waitFirst(ctx); err != nil {
		return 0, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height, nil
}

func (s *ffmpegStream) Frame(ctx context.Context) (CaptureFrame, error) {
	if err := s.waitFirst(ctx); err != nil {
		return CaptureFrame{}, err
	}
	select {
	case <-s.done:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return CaptureFrame{}, s.err
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data := make([]byte, len(s.latest))
	copy(data, s.latest)
	return CaptureFrame{Data: data, Width: s.width, Height: s.height}, nil
}
