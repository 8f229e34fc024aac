package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JonMunkholm/fisler/internal/ingest"
	"github.com/JonMunkholm/fisler/internal/logging"
	"github.com/JonMunkholm/fisler/internal/web/views"
)

const bannerPath = "/api/ingest/banner"

// keepAliveInterval spaces SSE comments so proxies keep the stream open.
const keepAliveInterval = 15 * time.Second

type ingestResponse struct {
	Success bool            `json:"success"`
	Data    ingest.Snapshot `json:"data"`
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, ingestResponse{Success: true, Data: s.poller.Snapshot()})
}

// handleIngestBanner renders the processing banner fragment.
func (s *Server) handleIngestBanner(w http.ResponseWriter, r *http.Request) {
	s.renderBanner(w, r, s.poller.Snapshot())
}

// handleIngestDismiss abandons the current batch when the user closes the
// banner.
func (s *Server) handleIngestDismiss(w http.ResponseWriter, r *http.Request) {
	s.poller.Abandon()
	snap := s.poller.Snapshot()
	if isHTMX(r) {
		s.renderBanner(w, r, snap)
		return
	}
	writeJSON(w, r, http.StatusOK, ingestResponse{Success: true, Data: snap})
}

func (s *Server) renderBanner(w http.ResponseWriter, r *http.Request, snap ingest.Snapshot) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.ProcessingBanner(snap, bannerPath).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render banner", "error", err)
	}
}

// handleIngestEvents streams poller snapshots as Server-Sent Events until
// the client goes away. The first event is the current state.
func (s *Server) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errors.New("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	updates, unsubscribe := s.poller.Subscribe()
	defer unsubscribe()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				fmt.Fprint(w, "event: closed\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				logging.FromContext(r.Context()).Error("encode ingest snapshot", "error", err)
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", snap.State, data)
			flusher.Flush()

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
