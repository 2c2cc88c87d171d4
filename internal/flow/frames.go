package flow

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kozaktomas/face-id/internal/camera"
)

// FrameSaver retains a confirmed enrollment frame and returns its reference.
type FrameSaver interface {
	SaveFrame(name string, frame camera.CaptureFrame) (string, error)
}

// DirFrameSaver writes frames as files under Dir.
type DirFrameSaver struct {
	Dir string
}

// SaveFrame writes the frame to Dir/<name><ext> and returns the path.
func (s DirFrameSaver) SaveFrame(name string, frame camera.CaptureFrame) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o750); err != nil {
		return "", fmt.Errorf("creating captures directory: %w", err)
	}
	path := filepath.Join(s.Dir, name+frameExt(frame.Data))
	if err := os.WriteFile(path, frame.Data, 0o600); err != nil {
		return "", fmt.Errorf("writing capture: %w", err)
	}
	return path, nil
}

func frameExt(data []byte) string {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return ".jpg"
	case len(data) >= 8 && string(data[1:4]) == "PNG":
		return ".png"
	default:
		return ".bin"
	}
}
