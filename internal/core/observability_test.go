package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"wildtrack/pkg/domain"
)

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

type spanRecord struct {
	op  string
	err error
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

func TestServiceObservability(t *testing.T) {
	ctx := context.Background()
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	svc := NewInMemoryService(
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithClock(fixedClock()),
	)

	meal, _, err := svc.CreateMeal(ctx, mealAttrs("Stew"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !audit.has("create_meal", AuditStatusSuccess, func(e AuditEntry) bool {
		_, parseErr := uuid.Parse(e.ID)
		return e.EntityID == meal.ID && e.Kind == domain.KindMeal && parseErr == nil && e.At.Equal(fixedClock()())
	}) {
		t.Fatalf("expected audit entry for create_meal, got %+v", audit.entries)
	}
	if _, _, err := svc.CreateMeal(ctx, mealAttrs("Stew")); err == nil {
		t.Fatalf("expected duplicate")
	}
	if !audit.has("create_meal", AuditStatusError, func(e AuditEntry) bool { return strings.Contains(e.Error, "already exists") }) {
		t.Fatalf("expected failed audit entry")
	}
	if _, err := svc.GetMealByID(ctx, 42); err == nil {
		t.Fatalf("expected not found")
	}
	if _, err := svc.Leaderboard(ctx, SortByWins); err != nil {
		t.Fatalf("leaderboard: %v", err)
	}

	for _, want := range []metricsCall{{"create_meal", true}, {"create_meal", false}, {"get_meal", false}, {"leaderboard", true}} {
		if !metrics.has(want.op, want.success) {
			t.Fatalf("missing metric %+v in %+v", want, metrics.calls)
		}
	}
	if len(tracer.started) != len(tracer.ended) {
		t.Fatalf("unbalanced spans: %d started, %d ended", len(tracer.started), len(tracer.ended))
	}
	if tracer.ended[1].op != "create_meal" || tracer.ended[1].err == nil {
		t.Fatalf("expected failed create span, got %+v", tracer.ended[1])
	}
	for _, e := range audit.entries {
		if strings.HasPrefix(e.Operation, "get_") || e.Operation == "leaderboard" {
			t.Fatalf("reads must not be audited: %+v", e)
		}
	}
}

func TestZapLoggerReceivesServiceLogs(t *testing.T) {
	ctx := context.Background()
	obsCore, logs := observer.New(zapcore.DebugLevel)
	svc := NewInMemoryService(WithLogger(NewZapLogger(zap.New(obsCore))))

	if _, _, err := svc.CreateAnimal(ctx, domain.Attributes{"species": "wolf", "habitat_id": int64(9)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	warnings := logs.FilterMessage("rule violation").All()
	if len(warnings) != 1 || warnings[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warning, got %+v", warnings)
	}
	if got := warnings[0].ContextMap()["rule"]; got != "reference_integrity" {
		t.Fatalf("unexpected rule field %v", got)
	}
	if logs.FilterMessage("operation completed").Len() != 1 {
		t.Fatalf("expected completion log")
	}

	if _, err := svc.RemoveAnimal(ctx, 77); err == nil {
		t.Fatalf("expected not found")
	}
	failed := logs.FilterMessage("operation failed").All()
	if len(failed) != 1 || failed[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected error log, got %+v", failed)
	}
	if _, err := svc.GetAnimal(ctx, 77); err == nil {
		t.Fatalf("expected not found")
	}
	if logs.FilterMessage("query rejected").Len() != 1 {
		t.Fatalf("expected debug log for missing record")
	}

	// A nil zap logger is tolerated.
	NewZapLogger(nil).Info("ignored", "k", "v")
}

func TestNoopDefaults(t *testing.T) {
	var l Logger = noopLogger{}
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")
	noopMetrics{}.Observe(context.Background(), "op", true, time.Millisecond)
	_, span := noopTracer{}.Start(context.Background(), "op")
	span.End(errors.New("ignored"))
	noopAudit{}.Record(context.Background(), AuditEntry{})

	svc := NewInMemoryService(WithLogger(nil), WithMetricsRecorder(nil), WithTracer(nil), WithAuditRecorder(nil), WithClock(nil))
	if _, _, err := svc.CreateHabitat(context.Background(), habitatAttrs("North", 1)); err != nil {
		t.Fatalf("create with defaults: %v", err)
	}
}

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if expvar.Get(rec.Name()) == nil {
		t.Fatalf("expected expvar %s to be published", rec.Name())
	}
	svc := NewInMemoryService(WithMetricsRecorder(rec))
	ctx := context.Background()
	if _, _, err := svc.CreateMeal(ctx, mealAttrs("Stew")); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, _ = svc.GetMealByID(ctx, 99)
	rec.Observe(ctx, "", true, time.Second)

	snap := rec.Snapshot()
	if snap.Results["create_meal"]["success"] != 1 || snap.Results["get_meal"]["error"] != 1 {
		t.Fatalf("unexpected results %+v", snap.Results)
	}
	if _, ok := snap.Results[""]; ok {
		t.Fatalf("empty operation names must be ignored")
	}
	var decoded ExpvarMetricsSnapshot
	if err := json.Unmarshal([]byte(expvar.Get(rec.Name()).String()), &decoded); err != nil {
		t.Fatalf("decode expvar: %v", err)
	}
	if decoded.Results["create_meal"]["success"] != 1 {
		t.Fatalf("unexpected expvar payload %+v", decoded)
	}
}

func TestJSONTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	svc := NewInMemoryService(WithTracer(tracer))
	ctx := context.Background()
	if _, _, err := svc.CreateHabitat(ctx, habitatAttrs("North", 1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.GetHabitat(ctx, 9); err == nil {
		t.Fatalf("expected not found")
	}
	entries := tracer.Entries()
	if len(entries) != 2 || entries[0].Operation != "create_habitat" || entries[0].Status != "success" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[1].Status != "error" || !strings.Contains(entries[1].Error, "not found") {
		t.Fatalf("unexpected failed span %+v", entries[1])
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two JSON lines, got %q", buf.String())
	}
	var first JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil || first.Operation != "create_habitat" {
		t.Fatalf("decode line: %+v %v", first, err)
	}
	NewJSONTracer(nil).Start(ctx, "noop")
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	svc := NewInMemoryService(WithMetricsRecorder(rec))
	ctx := context.Background()
	for _, name := range []string{"A", "B"} {
		if _, _, err := svc.CreateMeal(ctx, mealAttrs(name)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	_, _, _ = svc.CreateMeal(ctx, mealAttrs("A"))
	rec.Observe(ctx, "", true, time.Second)

	ops, latency := rec.Collectors()
	if got := testutil.ToFloat64(ops.WithLabelValues("create_meal", "success")); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(ops.WithLabelValues("create_meal", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if n := testutil.CollectAndCount(latency, "wildtrack_service_operation_duration_seconds"); n != 1 {
		t.Fatalf("expected one latency series, got %d", n)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestFileMetricsRecorders(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cases := []struct {
		driver MetricsDriver
		want   string
	}{
		{MetricsPrometheus, `wildtrack_service_operations_total{operation="create_meal",status="success"} 1`},
		{MetricsExpvar, `"create_meal": {`},
	}
	for _, tc := range cases {
		t.Run(string(tc.driver), func(t *testing.T) {
			rec, err := NewFileMetricsRecorder(tc.driver)
			if err != nil {
				t.Fatalf("new recorder: %v", err)
			}
			svc := NewInMemoryService(WithMetricsRecorder(rec))
			if _, _, err := svc.CreateMeal(ctx, mealAttrs("Stew")); err != nil {
				t.Fatalf("create: %v", err)
			}
			path := filepath.Join(dir, string(tc.driver)+".out")
			if err := rec.WriteFile(path); err != nil {
				t.Fatalf("write: %v", err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if !strings.Contains(string(data), tc.want) {
				t.Fatalf("expected %q in\n%s", tc.want, data)
			}
		})
	}
	if _, err := NewFileMetricsRecorder(MetricsNone); err == nil {
		t.Fatalf("expected none driver to be rejected")
	}
}
