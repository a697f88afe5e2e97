package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/image-crawl-dashboard/internal/logging"
	"github.com/JakeFAU/image-crawl-dashboard/internal/metrics"
	"github.com/JakeFAU/image-crawl-dashboard/internal/views"
)

const (
	streamBuffer      = 16
	heartbeatInterval = 15 * time.Second
)

// stream handles GET /api/stream/{view}. Every snapshot of the live view is
// written as an SSE "snapshot" event; failed loads become "error" events.
// The view and its subscriptions are released when the client goes away.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "view")
	params, err := imagesParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	def, err := s.deps.Views.Definition(name, params)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	rc := http.NewResponseController(w)
	logger := logging.FromContext(r.Context(), s.logger).With(zap.String("view", name))

	ctx, cancel := context.WithCancel(r.Context())
	snapshots := make(chan views.Snapshot[any], streamBuffer)
	lv, err := views.Start(ctx, def.Name, s.deps.Changes, def.Tables, def.Load, func(snap views.Snapshot[any]) {
		select {
		case snapshots <- snap:
		case <-ctx.Done():
		}
	}, logger)
	if err != nil {
		cancel()
		logger.Error("start live view failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "live updates unavailable")
		return
	}
	defer lv.Close()
	defer cancel()

	metrics.IncStreamClients(name)
	defer metrics.DecStreamClients(name)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.Warn("streaming unsupported", zap.Error(err))
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-lv.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		case snap := <-snapshots:
			if err := writeSnapshot(w, snap); err != nil {
				logger.Debug("stream write failed", zap.Error(err))
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeSnapshot(w http.ResponseWriter, snap views.Snapshot[any]) error {
	event := "snapshot"
	var payload any = snap.Data
	if snap.Err != nil {
		event = "error"
		payload = map[string]string{"error": snap.Err.Error()}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", snap.Seq, event, data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
