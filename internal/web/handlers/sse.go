package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-id/internal/logging"
)

// setupSSEConnection finds the flow and sets up SSE headers.
// On failure it writes an error response and returns false.
func setupSSEConnection(w http.ResponseWriter, r *http.Request, lookup func(string) (Flow, error)) (Flow, http.Flusher, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing flow ID")
		return nil, nil, false
	}

	f, err := lookup(id)
	if err != nil {
		respondErr(w, err)
		return nil, nil, false
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return f, flusher, true
}

// streamSSEEvents streams flow snapshots until the flow reaches a terminal
// state, the client disconnects, or the event channel closes.
func streamSSEEvents(w http.ResponseWriter, r *http.Request, lookup func(string) (Flow, error)) {
	f, flusher, ok := setupSSEConnection(w, r, lookup)
	if !ok {
		return
	}

	eventCh := f.AddListener()
	defer f.RemoveListener(eventCh)

	initial := f.Snapshot()
	sendSSEEvent(w, flusher, "status", initial)
	if initial.State.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event.Data)
			if event.Data.State.Terminal() {
				return
			}
		}
	}
}

// sendSSEEvent writes one event. A payload that cannot be encoded is logged and
// skipped rather than sent as an empty frame.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		logging.Component("web").WithError(err).WithField("event", eventType).Error("failed to encode SSE event")
		return
	}
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}
