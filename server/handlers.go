package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/calyptra/twitch-monitor/db"
	"github.com/calyptra/twitch-monitor/telemetry"
)

// Handlers carries the dependencies of the ops endpoints.
type Handlers struct {
	db           *sql.DB
	store        *db.Store
	pollInterval time.Duration
}

// HandleHealthz reports liveness: the process is up and the database answers.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("healthz db ping failed", slog.Any("err", err))
		http.Error(w, "db unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statusResponse struct {
	LastTick     string `json:"last_tick,omitempty"`
	TickStale    bool   `json:"tick_stale"`
	Watched      int    `json:"watched_streamers"`
	Posted       int    `json:"posted_announcements"`
	PollInterval string `json:"poll_interval"`
}

// HandleStatus reports reconciliation freshness. A tick older than three poll
// intervals counts as stale, which is the signal dashboards alert on.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := statusResponse{PollInterval: h.pollInterval.String(), TickStale: true}

	last, err := h.store.LastTick(ctx)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("status: last tick", slog.Any("err", err))
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	if !last.IsZero() {
		resp.LastTick = last.UTC().Format(time.RFC3339)
		resp.TickStale = time.Since(last) > 3*h.pollInterval
	}

	watched, posted, err := h.store.Stats(ctx)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("status: stats", slog.Any("err", err))
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	resp.Watched = watched
	resp.Posted = posted

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("status: encode", slog.Any("err", err))
	}
}
