package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	// None of these may panic on a nil receiver.
	m.RecordRunStarted()
	m.RecordRunCompleted("succeeded", time.Second)
	m.RecordResource("file", "changed", time.Millisecond)
	m.RecordRefresh("service")
	m.RecordGraphBuildFailure("CYCLE_DETECTED")
	m.RecordGraph(10, 3)

	if m.Handler() == nil {
		t.Error("Expected a handler even when metrics are nil")
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	m.RecordRunStarted()
	m.RecordGraph(1, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected disabled metrics to expose nothing, got %d", rec.Code)
	}
}

func TestMetrics_Exposition(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "hostforge"})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RecordRunStarted()
	m.RecordRunCompleted("succeeded", 2*time.Second)
	m.RecordResource("file", "changed", 50*time.Millisecond)
	m.RecordRefresh("service")
	m.RecordGraph(5, 2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	for _, metric := range []string{
		"hostforge_runs_started_total 1",
		`hostforge_runs_completed_total{status="succeeded"} 1`,
		`hostforge_resources_total{kind="file",outcome="changed"} 1`,
		`hostforge_refreshes_total{kind="service"} 1`,
		"hostforge_graph_depth 2",
		"hostforge_resources_declared 5",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("Expected exposition to contain %q", metric)
		}
	}
}

func TestLogger_Fields(t *testing.T) {
	log := NopLogger()

	// Derived loggers must be usable without panicking.
	log.WithRunID("abc").WithResource("file[/etc/motd]").WithKind("file").Info("hello")
	log.WithField("key", "value").Debugf("formatted %d", 1)
	log.NewComponentLogger("engine").Warn("warn")
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(DefaultLoggingConfig())
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	log.Info("started")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"nonsense", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.level); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", tt.level, got, tt.want)
		}
	}
}

func TestTracer_NilSafe(t *testing.T) {
	var tr *Tracer
	ctx := context.Background()

	runCtx, span := tr.StartRun(ctx, "run-1", 3)
	if runCtx == nil || span == nil {
		t.Fatal("Expected a usable context and span from a nil tracer")
	}
	_, span = tr.StartResource(runCtx, "file[/etc/motd]", "file")
	EndSpan(span, nil)

	if err := tr.Shutdown(ctx); err != nil {
		t.Errorf("Expected nil tracer shutdown to succeed, got: %v", err)
	}
}

func TestDefaultConfigs(t *testing.T) {
	lc := DefaultLoggingConfig()
	if lc.Level != "info" || lc.Format != "console" {
		t.Errorf("Unexpected logging defaults: %+v", lc)
	}

	mc := DefaultMetricsConfig()
	if !mc.Enabled || mc.Namespace != "hostforge" {
		t.Errorf("Unexpected metrics defaults: %+v", mc)
	}

	tc := DefaultTracingConfig()
	if tc.Enabled {
		t.Error("Expected tracing disabled by default")
	}
	if tc.SamplingRate != 1.0 {
		t.Errorf("Unexpected sampling rate: %f", tc.SamplingRate)
	}
}
