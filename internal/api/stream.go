package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lowaak/train-control/internal/train"
)

// handleTrainUpdateStream sends one Server-Sent Event per train change until the
// client goes away or the server closes.
func (s *Server) handleTrainUpdateStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeInternalError(w, "streaming unsupported")
		return
	}

	updates := make(chan train.Train, streamBufferSize)
	unregister := s.service.ListenToTrains(updates)
	defer unregister()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case t := <-updates:
			payload, err := json.Marshal(t)
			if err != nil {
				s.logger.Printf("API: failed to encode train %s: %v", t.Address, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
