package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestInitRegistersMetrics(t *testing.T) {
	Init()
	Init() // idempotent

	if TicksTotal == nil {
		t.Error("TicksTotal not initialized")
	}
	if TickFailures == nil {
		t.Error("TickFailures not initialized")
	}
	if GatewayCalls == nil {
		t.Error("GatewayCalls not initialized")
	}
	if TickDuration == nil {
		t.Error("TickDuration not initialized")
	}
	if LiveStreamsGauge == nil || WatchedStreamersGauge == nil {
		t.Error("gauges not initialized")
	}
}

func TestHelperSettersDoNotPanic(t *testing.T) {
	Init()

	SetLiveStreams(3)
	SetWatchedStreamers(12)
	CountHelixRequest()
	for _, kind := range []string{"send", "edit", "delete"} {
		for _, outcome := range []string{"ok", "not_found", "forbidden", "transient"} {
			CountGatewayCall(kind, outcome)
		}
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})
	prometheus.MustRegister(testHistogram)
	defer prometheus.Unregister(testHistogram)

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil || *metric.Histogram.SampleCount == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestCorrelationRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("GetCorrelation(empty ctx) = %q, want empty", got)
	}
	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("GetCorrelation() = %q, want abc-123", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
