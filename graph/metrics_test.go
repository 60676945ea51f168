package graph

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dshills/meetgraph/graph/store"
)

func TestPrometheusMetrics_EngineRun(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)
	ctx := context.Background()

	calls := 0
	engine, err := New(store.NewMemStore(),
		WithMetrics(metrics),
		WithSleeper((&recordingSleeper{}).Sleep),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = engine.Add(Stage{Name: "flaky", Route: Goto("ask"), Run: func(ctx context.Context, s State) (Delta, error) {
		calls++
		if calls < 3 {
			return nil, TimeoutError("slow upstream", nil)
		}
		return nil, nil
	}})
	_ = engine.Add(Stage{Name: "ask", Run: func(ctx context.Context, s State) (Delta, error) {
		if _, err := Suspend(ctx, nil); err != nil {
			return Delta{"status": "pending_review"}, err
		}
		return Delta{"status": "completed"}, nil
	}})
	_ = engine.StartAt("flaky")

	if _, err := engine.Start(ctx, "job", State{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := engine.Resume(ctx, "job", Decision{"action": "approve"}); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if got := testutil.ToFloat64(metrics.retries.WithLabelValues("flaky", "timeout")); got != 2 {
		t.Errorf("retries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.suspensions.WithLabelValues("ask")); got != 1 {
		t.Errorf("suspensions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.jobsFinished.WithLabelValues("completed")); got != 1 {
		t.Errorf("jobs finished = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.activeJobs); got != 0 {
		t.Errorf("active jobs = %v, want 0", got)
	}
	if got := testutil.CollectAndCount(metrics.stageLatency); got != 3 {
		t.Errorf("latency series = %d, want 3 (flaky/success, ask/suspended, ask/success)", got)
	}
}

func TestPrometheusMetrics_Disable(t *testing.T) {
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())
	metrics.Disable()
	metrics.IncrementRetries("x", CategoryNetwork)
	metrics.RecordStageLatency("x", time.Second, "success")
	if got := testutil.ToFloat64(metrics.retries.WithLabelValues("x", "network")); got != 0 {
		t.Errorf("recorded while disabled: %v", got)
	}

	metrics.Enable()
	metrics.IncrementRetries("x", CategoryNetwork)
	if got := testutil.ToFloat64(metrics.retries.WithLabelValues("x", "network")); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}

	var nilMetrics *PrometheusMetrics
	nilMetrics.IncrementRetries("x", CategoryNetwork)
	nilMetrics.UpdateActiveJobs(3)
}

func TestPrometheusMetrics_Tokens(t *testing.T) {
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())
	metrics.AddTokens("gpt-4o", 100, 20)
	metrics.AddTokens("gpt-4o", 50, 5)

	if got := testutil.ToFloat64(metrics.llmTokens.WithLabelValues("gpt-4o", "input")); got != 150 {
		t.Errorf("input tokens = %v", got)
	}
	if got := testutil.ToFloat64(metrics.llmTokens.WithLabelValues("gpt-4o", "output")); got != 25 {
		t.Errorf("output tokens = %v", got)
	}
}
