package kernel

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/manthysbr/qagent/internal/core/services"
)

const sseKeepAlive = 15 * time.Second

// handleEventsSSE streams run events as server-sent events.
//
//	GET /v1/events?topic=<run id>&types=step,trace
//
// Without a topic every run is streamed; without types every event type.
func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	if s.eventBus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream is not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = services.AllTopics
	}
	wanted := eventTypes(r.URL.Query().Get("types"))

	// subscribe before the headers go out so a client that starts a run right
	// after connecting cannot miss its first events
	events, unsub := s.eventBus.Subscribe(topic)
	defer unsub()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ping := time.NewTicker(sseKeepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e, ok := <-events:
			if !ok {
				return
			}
			if wanted != nil && !wanted[e.Type] {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Timestamp, e.Type, e.Data)
			flusher.Flush()
		}
	}
}

// eventTypes parses a comma-separated type filter; nil accepts every type.
func eventTypes(raw string) map[services.EventType]bool {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	out := make(map[services.EventType]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out[services.EventType(t)] = true
		}
	}
	return out
}
