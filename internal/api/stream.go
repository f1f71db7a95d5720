package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/strikelab/impact.report/internal/stream"
)

// sseSink frames dispatcher payloads as Server-Sent Events and flushes
// after every write so events reach the viewer within one tick.
type sseSink struct {
	w http.ResponseWriter
	f http.Flusher
}

func (s *sseSink) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// streamEvents serves one viewer's live event stream. The connection stays
// open until the client disconnects; a dispatcher goroutine per viewer
// polls the event log and writes SSE frames.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	viewerID := uuid.NewString()[:8]
	s.metrics.ConnectedViewers.Inc()
	defer s.metrics.ConnectedViewers.Dec()
	log.Printf("stream viewer %s connected from %s", viewerID, r.RemoteAddr)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	dispatcher := &stream.Dispatcher{
		DB:     s.db,
		Rounds: s.rounds,
		Tick:   s.streamTick,
	}
	if err := dispatcher.Run(r.Context(), &sseSink{w: w, f: flusher}); err != nil {
		log.Printf("stream viewer %s dropped: %v", viewerID, err)
		return
	}
	log.Printf("stream viewer %s disconnected", viewerID)
}
