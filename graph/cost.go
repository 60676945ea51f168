package graph

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dshills/meetgraph/graph/emit"
)

// ModelPricing defines input and output token costs for a model.
// Prices are in USD per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Prices subject to change. Unknown models are tracked with zero cost.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o":                   {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":              {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":              {InputPer1M: 10.00, OutputPer1M: 30.00},
	"claude-sonnet-4-20250514": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku-latest":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-opus-4-20250514":   {InputPer1M: 15.00, OutputPer1M: 75.00},
	"gemini-1.5-pro":           {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":         {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// LLMCall is one recorded language model invocation.
type LLMCall struct {
	JobID        string
	Stage        string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
}

// Usage aggregates token counts and cost.
type Usage struct {
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

func (u Usage) add(c LLMCall) Usage {
	u.Calls++
	u.InputTokens += c.InputTokens
	u.OutputTokens += c.OutputTokens
	u.CostUSD += c.CostUSD
	return u
}

// UsageTracker accumulates LLM token usage and cost per job.
//
// Stages report calls with RecordUsage; the engine forwards them here when
// configured with WithUsageTracker. Safe for concurrent use by many jobs.
type UsageTracker struct {
	mu      sync.RWMutex
	pricing map[string]ModelPricing
	calls   []LLMCall
	byJob   map[string]Usage
}

// NewUsageTracker creates a tracker with the built-in pricing table.
func NewUsageTracker() *UsageTracker {
	pricing := make(map[string]ModelPricing, len(defaultModelPricing))
	for k, v := range defaultModelPricing {
		pricing[k] = v
	}
	return &UsageTracker{
		pricing: pricing,
		byJob:   make(map[string]Usage),
	}
}

// SetPricing overrides or adds the price of model.
func (t *UsageTracker) SetPricing(model string, p ModelPricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pricing[model] = p
}

// Record adds call, computing its cost from the pricing table, and returns
// the stored call.
func (t *UsageTracker) Record(call LLMCall) LLMCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.pricing[call.Model]; ok {
		call.CostUSD = float64(call.InputTokens)/1_000_000*p.InputPer1M +
			float64(call.OutputTokens)/1_000_000*p.OutputPer1M
	}
	t.calls = append(t.calls, call)
	t.byJob[call.JobID] = t.byJob[call.JobID].add(call)
	return call
}

// JobUsage returns the totals for jobID.
func (t *UsageTracker) JobUsage(jobID string) Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byJob[jobID]
}

// ByModel returns totals grouped by model name.
func (t *UsageTracker) ByModel() map[string]Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Usage)
	for _, c := range t.calls {
		out[c.Model] = out[c.Model].add(c)
	}
	return out
}

// Total returns totals across all jobs.
func (t *UsageTracker) Total() Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var u Usage
	for _, c := range t.calls {
		u = u.add(c)
	}
	return u
}

// Calls returns recorded calls ordered by timestamp.
func (t *UsageTracker) Calls() []LLMCall {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]LLMCall, len(t.calls))
	copy(out, t.calls)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// RecordUsage reports a language model call made by the running stage.
// Outside an engine-run stage it only returns the computed call.
func RecordUsage(ctx context.Context, model string, inputTokens, outputTokens int) LLMCall {
	scope := scopeFrom(ctx)
	call := LLMCall{
		JobID:        scope.jobID,
		Stage:        scope.stage,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Timestamp:    time.Now(),
	}
	e := scope.engine
	if e == nil {
		return call
	}
	call.Timestamp = e.cfg.clock()
	if e.cfg.usage != nil {
		call = e.cfg.usage.Record(call)
	}
	e.cfg.metrics.AddTokens(model, inputTokens, outputTokens)
	e.cfg.emitter.Emit(emit.Event{
		JobID: scope.jobID,
		Step:  scope.step,
		Stage: scope.stage,
		Msg:   emit.MsgLLMUsage,
		Time:  call.Timestamp,
		Meta: map[string]interface{}{
			"model":         model,
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
			"cost_usd":      call.CostUSD,
		},
	})
	return call
}
