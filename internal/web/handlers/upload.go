package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kozaktomas/face-id/internal/camera"
	"github.com/kozaktomas/face-id/internal/fingerprint"
)

// MaxUploadSize bounds a still image uploaded in place of a camera capture.
const MaxUploadSize = 10 << 20

// uploadField is the multipart field carrying the image.
const uploadField = "image"

// readUploadedFrame reads the uploaded still into a capture frame.
func readUploadedFrame(w http.ResponseWriter, r *http.Request) (camera.CaptureFrame, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize+1<<10)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		return camera.CaptureFrame{}, errors.New("failed to parse multipart form")
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		return camera.CaptureFrame{}, fmt.Errorf("%s file is required", uploadField)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxUploadSize+1))
	if err != nil {
		return camera.CaptureFrame{}, fmt.Errorf("failed to read %s", sanitizeForLog(header.Filename))
	}
	if len(data) > MaxUploadSize {
		return camera.CaptureFrame{}, errors.New("image too large")
	}
	if len(data) == 0 {
		return camera.CaptureFrame{}, errors.New("image is empty")
	}

	frame := camera.CaptureFrame{Data: data, Source: camera.SourceUpload, CapturedAt: time.Now()}
	if width, height, err := fingerprint.Dimensions(data); err == nil {
		frame.Width, frame.Height = width, height
	}
	return frame, nil
}
