package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-id/internal/camera"
	"github.com/kozaktomas/face-id/internal/logging"
)

const (
	previewWriteTimeout = 5 * time.Second
	previewPingInterval = 30 * time.Second
	previewDefaultFPS   = 10
)

// CameraHandler handles device listing, retry and the live preview.
type CameraHandler struct {
	session  *camera.Session
	fps      int
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewCameraHandler creates a camera handler. checkOrigin decides which
// browser origins may open the preview socket.
func NewCameraHandler(session *camera.Session, fps int, checkOrigin func(r *http.Request) bool) *CameraHandler {
	if fps <= 0 {
		fps = previewDefaultFPS
	}
	return &CameraHandler{
		session: session,
		fps:     fps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     checkOrigin,
		},
		log: logging.Component("preview"),
	}
}

// Devices lists the capture devices and the session state.
func (h *CameraHandler) Devices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.session.Devices(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"state":   h.session.State(),
	})
}

// Retry re-acquires the camera with the last constraints.
func (h *CameraHandler) Retry(w http.ResponseWriter, r *http.Request) {
	st, err := h.session.Retry(r.Context())
	if err != nil {
		status := errorStatus(err)
		if errors.Is(err, camera.ErrRetryNotAllowed) {
			status = http.StatusConflict
		}
		respondJSON(w, status, map[string]any{"error": err.Error(), "state": st})
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// previewMessage is a text frame telling the client the camera state.
type previewMessage struct {
	Type  string       `json:"type"`
	State camera.State `json:"state"`
}

// Preview streams JPEG frames of the active camera over a websocket. While
// the camera is not active only state messages are sent.
func (h *CameraHandler) Preview(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("preview upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the client only sends control frames; a read error means it went away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	states, unsubscribe := h.session.Subscribe()
	defer unsubscribe()

	frameTicker := time.NewTicker(time.Second / time.Duration(h.fps))
	defer frameTicker.Stop()
	pingTicker := time.NewTicker(previewPingInterval)
	defer pingTicker.Stop()

	if err := h.writeState(conn, h.session.State()); err != nil {
		return
	}
	frames := 0
	for {
		select {
		case <-ctx.Done():
			h.log.WithField("frames", frames).Debug("preview closed")
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			if err := h.writeState(conn, st); err != nil {
				return
			}
		case <-pingTicker.C:
			deadline := time.Now().Add(previewWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-frameTicker.C:
			if h.session.State().Status != camera.StatusActive {
				continue
			}
			frame, err := h.session.Capture(ctx)
			if err != nil {
				// the state subscription reports the failure
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(previewWriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
				return
			}
			frames++
		}
	}
}

func (h *CameraHandler) writeState(conn *websocket.Conn, st camera.State) error {
	_ = conn.SetWriteDeadline(time.Now().Add(previewWriteTimeout))
	return conn.WriteJSON(previewMessage{Type: "state", State: st})
}
