// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	TicksTotal    prometheus.Counter
	TickFailures  prometheus.Counter
	GatewayCalls  *prometheus.CounterVec // labels: kind (send|edit|delete), outcome (ok|not_found|forbidden|transient)
	HelixRequests prometheus.Counter

	// Histograms (seconds)
	TickDuration prometheus.Observer

	// Gauges
	LiveStreamsGauge      prometheus.Gauge
	WatchedStreamersGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		TicksTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "twitchmon_ticks_total", Help: "Number of reconciliation ticks started"})
		TickFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "twitchmon_tick_failures_total", Help: "Number of ticks aborted before reconciliation (stream fetch or store failure)"})
		GatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{Name: "twitchmon_gateway_calls_total", Help: "Discord gateway calls by kind and outcome"}, []string{"kind", "outcome"})
		HelixRequests = promauto.NewCounter(prometheus.CounterOpts{Name: "twitchmon_helix_requests_total", Help: "Number of Twitch Helix HTTP requests"})
		TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "twitchmon_tick_duration_seconds", Help: "Reconciliation tick duration seconds", Buckets: prometheus.DefBuckets})
		LiveStreamsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "twitchmon_live_streams", Help: "Watched streamers currently live"})
		WatchedStreamersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "twitchmon_watched_streamers", Help: "Distinct watched streamer logins"})
	})
}

// CountHelixRequest records one Twitch API request.
func CountHelixRequest() {
	if HelixRequests != nil {
		HelixRequests.Inc()
	}
}

// CountGatewayCall records one gateway call outcome.
func CountGatewayCall(kind, outcome string) {
	if GatewayCalls != nil {
		GatewayCalls.WithLabelValues(kind, outcome).Inc()
	}
}

// SetLiveStreams records the live count observed by the latest tick.
func SetLiveStreams(n int) {
	if LiveStreamsGauge != nil {
		LiveStreamsGauge.Set(float64(n))
	}
}

// SetWatchedStreamers records the distinct watched-login count.
func SetWatchedStreamers(n int) {
	if WatchedStreamersGauge != nil {
		WatchedStreamersGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
