package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"openbap/go-backend/internal/stream"
)

func (s *Server) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionID")
	s.serveStream(w, r, stream.NewMultiReplySource(s.multi, transactionID))
}

func (s *Server) handleActionStream(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	switch action {
	case "select", "init", "confirm":
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	src := stream.NewSingleReplySource(s.single, action,
		chi.URLParam(r, "transactionID"), chi.URLParam(r, "messageID"))
	s.serveStream(w, r, src)
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, src stream.Source) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming is not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.metrics.ActiveStreams.Inc()
	defer s.metrics.ActiveStreams.Dec()

	// The broadcaster closes the channel on complete, error or disconnect;
	// client disconnection cancels r.Context() and tears down the
	// subscription and watchdog before the channel closes.
	for ev := range s.broadcaster.Stream(r.Context(), src) {
		if err := stream.WriteSSE(w, ev); err != nil {
			return
		}
		flusher.Flush()
	}
}
