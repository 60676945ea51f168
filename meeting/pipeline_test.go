package meeting

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/meetgraph/graph"
	"github.com/dshills/meetgraph/graph/emit"
	"github.com/dshills/meetgraph/graph/model"
	"github.com/dshills/meetgraph/graph/store"
	"github.com/dshills/meetgraph/graph/tool"
	"github.com/dshills/meetgraph/meeting/stt"
)

var fixedNow = time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	summaryJSON = `{"summary":"The team agreed to launch in March.","key_points":["Launch in March"],"decisions":["Budget approved"]}`
	actionsJSON = "Here you go:\n```json\n" +
		`{"action_items":[` +
		`{"content":"Create a Jira ticket for the login bug","assignee":"Kim","due_date":"2025-06-06","priority":"HIGH"},` +
		`{"content":"Share the slides","assignee":"","due_date":null,"priority":"whenever"}]}` +
		"\n```"
	critiquePassJSON = `{"passed":true,"issues":[],"suggestions":[],"critique":"Accurate."}`
	critiqueFailJSON = `{"passed":false,"issues":["Missing budget figure"],"suggestions":["Add the amount"],"critique":"Incomplete."}`
)

func sampleTranscript() stt.Result {
	return stt.Result{
		Segments: []stt.Segment{
			{Speaker: "Kim", Text: "Let's launch in March.", StartTime: 0, EndTime: 3.5, Confidence: 0.9},
			{Speaker: "Lee", Text: "Budget is approved.", StartTime: 3.5, EndTime: 6, Confidence: 0.95},
		},
		RawText:  "Let's launch in March. Budget is approved.",
		Speakers: []string{"Kim", "Lee"},
		Duration: 6,
	}
}

// scriptedLLM answers each prompt kind with a fixed reply. critique picks
// the reply of the n-th critique call (0-indexed).
type scriptedLLM struct {
	summary  func(n int) (model.ChatOut, error)
	actions  func(n int) (model.ChatOut, error)
	critique func(n int) (model.ChatOut, error)

	mu     sync.Mutex
	counts map[string]int
	user   map[string][]string
}

func reply(text string) func(int) (model.ChatOut, error) {
	return func(int) (model.ChatOut, error) {
		return model.ChatOut{Text: text, Model: "mock-model", Usage: model.Usage{InputTokens: 100, OutputTokens: 20}}, nil
	}
}

func newScriptedLLM(critique func(int) (model.ChatOut, error)) *scriptedLLM {
	return &scriptedLLM{
		summary:  reply(summaryJSON),
		actions:  reply(actionsJSON),
		critique: critique,
		counts:   map[string]int{},
		user:     map[string][]string{},
	}
}

func (l *scriptedLLM) Chat(ctx context.Context, messages []model.Message, _ []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	kind := "summary"
	switch {
	case messages[0].Content == critiqueSystemPrompt:
		kind = "critique"
	case strings.HasPrefix(messages[0].Content, "You extract action items"):
		kind = "actions"
	}

	l.mu.Lock()
	n := l.counts[kind]
	l.counts[kind]++
	l.user[kind] = append(l.user[kind], messages[1].Content)
	l.mu.Unlock()

	switch kind {
	case "critique":
		return l.critique(n)
	case "actions":
		return l.actions(n)
	default:
		return l.summary(n)
	}
}

func (l *scriptedLLM) count(kind string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[kind]
}

func (l *scriptedLLM) prompts(kind string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.user[kind]...)
}

type harness struct {
	engine *graph.Engine
	store  *store.MemStore
	llm    *scriptedLLM
	stt    *stt.MockTranscriber
	sink   *MemorySink
	jira   *tool.MockTool
	events *emit.BufferedEmitter
	usage  *graph.UsageTracker
}

func newHarness(t *testing.T, llm *scriptedLLM) *harness {
	t.Helper()
	h := &harness{
		store:  store.NewMemStore(),
		llm:    llm,
		stt:    &stt.MockTranscriber{Result: sampleTranscript()},
		sink:   NewMemorySink(),
		jira:   &tool.MockTool{ToolName: ToolJiraCreateIssue, Responses: []map[string]interface{}{{"issue_key": "MEET-1"}}},
		events: emit.NewBufferedEmitter(),
		usage:  graph.NewUsageTracker(),
	}
	p := &Pipeline{
		Transcriber: h.stt,
		LLM:         llm,
		ModelName:   "mock-model",
		Sink:        h.sink,
		Tools:       map[string]tool.Tool{ToolJiraCreateIssue: h.jira},
		Logger:      quietLogger(),
		Clock:       fixedClock,
		Sleep:       noSleep,
	}
	engine, err := Build(p, h.store,
		graph.WithSleeper(noSleep),
		graph.WithClock(fixedClock),
		graph.WithLogger(quietLogger()),
		graph.WithEmitter(h.events),
		graph.WithUsageTracker(h.usage),
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	h.engine = engine
	return h
}

func (h *harness) start(t *testing.T, jobID string) graph.State {
	t.Helper()
	state, err := h.engine.Start(context.Background(), jobID, InitialState(Input{
		MeetingID:    "m-1",
		AudioFileURL: "https://example.com/m-1.m4a",
		Title:        "Quarterly planning",
		Date:         "2025-06-02",
	}))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return state
}

func (h *harness) resume(t *testing.T, jobID string, d graph.Decision) graph.State {
	t.Helper()
	state, err := h.engine.Resume(context.Background(), jobID, d)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	return state
}

func (h *harness) pending(t *testing.T, jobID string) *graph.Interrupt {
	t.Helper()
	_, in, err := h.engine.Inspect(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	return in
}

func TestBuildRequiresCollaborators(t *testing.T) {
	if _, err := Build(&Pipeline{LLM: &model.MockChatModel{}}, store.NewMemStore()); err == nil {
		t.Error("expected error without transcriber")
	}
	if _, err := Build(&Pipeline{Transcriber: &stt.MockTranscriber{}}, store.NewMemStore()); err == nil {
		t.Error("expected error without language model")
	}
}

func TestApprovedMeetingCompletes(t *testing.T) {
	h := newHarness(t, newScriptedLLM(reply(critiquePassJSON)))

	state := h.start(t, "job-approve")
	if got := state.Status(); got != graph.StatusPendingReview {
		t.Fatalf("status = %q, want pending_review", got)
	}
	if state.String(KeyFinalSummary) != "The team agreed to launch in March." {
		t.Errorf("final_summary = %q, want draft", state.String(KeyFinalSummary))
	}
	if !state.Bool(KeyRequiresHumanReview) {
		t.Error("requires_human_review should be set while suspended")
	}

	in := h.pending(t, "job-approve")
	if in == nil || in.Stage != StageHumanReview {
		t.Fatalf("pending interrupt = %+v, want human_review", in)
	}
	if in.Payload[KeyDraftSummary] != "The team agreed to launch in March." {
		t.Errorf("payload draft_summary = %v", in.Payload[KeyDraftSummary])
	}

	items, err := actionItems(state, KeyActionItems)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("action items = %d, want 2", len(items))
	}
	if items[0].Priority != PriorityHigh || items[0].ToolCall == nil || items[0].ToolCall.Tool != ToolJiraCreateIssue {
		t.Errorf("first item = %+v", items[0])
	}
	if items[1].Assignee != "unassigned" || items[1].Priority != PriorityMedium || items[1].DueDate != "" || items[1].ToolCall != nil {
		t.Errorf("second item = %+v", items[1])
	}

	state = h.resume(t, "job-approve", graph.Decision{
		graph.DecisionAction:     graph.ActionApprove,
		graph.DecisionFeedback:   "looks good",
		DecisionUpdatedSummary:   "Launch moved to March.",
		DecisionUpdatedKeyPoints: []any{"Launch in March", "Budget approved"},
	})
	if got := state.Status(); got != graph.StatusCompleted {
		t.Fatalf("status = %q, want completed (error: %s)", got, state.String(graph.KeyErrorMessage))
	}
	if state.String(KeyCompletedAt) != fixedNow.Format(time.RFC3339) {
		t.Errorf("completed_at = %q", state.String(KeyCompletedAt))
	}
	if !state.Bool(KeyHumanApproved) {
		t.Error("human_approved should be true")
	}

	m, ok := h.sink.Get("m-1")
	if !ok {
		t.Fatal("minutes not saved")
	}
	if m.Summary != "Launch moved to March." {
		t.Errorf("summary = %q, want edited summary", m.Summary)
	}
	if len(m.KeyPoints) != 2 {
		t.Errorf("key points = %v", m.KeyPoints)
	}
	if m.Feedback != "looks good" {
		t.Errorf("feedback = %q", m.Feedback)
	}
	if len(m.ActionItems) != 2 || m.ActionItems[0].Status != ActionExecuted || m.ActionItems[1].Status != ActionExecuted {
		t.Errorf("action items = %+v", m.ActionItems)
	}
	if len(m.ActionResults) != 2 || m.ActionResults[0].Status != DispatchSuccess || m.ActionResults[1].Status != DispatchSkipped {
		t.Errorf("action results = %+v", m.ActionResults)
	}

	if h.jira.CallCount() != 1 {
		t.Fatalf("jira calls = %d, want 1", h.jira.CallCount())
	}
	key := h.jira.Keys()[0]
	if !strings.HasPrefix(key, "sha256:") || key != m.ActionResults[0].IdempotencyKey {
		t.Errorf("idempotency key = %q, result key = %q", key, m.ActionResults[0].IdempotencyKey)
	}

	usage := llmUsage(state)
	if usage.Calls != 3 || usage.InputTokens != 300 || usage.OutputTokens != 60 {
		t.Errorf("llm_usage = %+v", usage)
	}
	if got := h.usage.JobUsage("job-approve").Calls; got != 3 {
		t.Errorf("tracked calls = %d, want 3", got)
	}
	if got := h.events.HistoryWithFilter("job-approve", emit.HistoryFilter{Msg: emit.MsgActionDispatch}); len(got) != 1 {
		t.Errorf("action_dispatch events = %d, want 1", len(got))
	}

	if _, err := h.engine.Resume(context.Background(), "job-approve", graph.Decision{graph.DecisionAction: graph.ActionApprove}); !errors.Is(err, graph.ErrNotSuspended) {
		t.Errorf("second Resume err = %v, want ErrNotSuspended", err)
	}
}

func TestCritiqueLoopStopsAtCeiling(t *testing.T) {
	llm := newScriptedLLM(reply(critiqueFailJSON))
	h := newHarness(t, llm)

	state := h.start(t, "job-critique")
	if got := state.Status(); got != graph.StatusPendingReview {
		t.Fatalf("status = %q, want pending_review", got)
	}
	if got := state.Int(KeyRetryCount); got != MaxCritiqueRetries {
		t.Errorf("retry_count = %d, want %d", got, MaxCritiqueRetries)
	}
	if got := llm.count("summary"); got != MaxCritiqueRetries {
		t.Errorf("summaries = %d, want %d", got, MaxCritiqueRetries)
	}
	if got := llm.count("critique"); got != MaxCritiqueRetries {
		t.Errorf("critiques = %d, want %d", got, MaxCritiqueRetries)
	}

	prompts := llm.prompts("summary")
	if strings.Contains(prompts[0], "Missing budget figure") {
		t.Error("first summary prompt should not carry critique issues")
	}
	if !strings.Contains(prompts[1], "Missing budget figure") || !strings.Contains(prompts[1], "Add the amount") {
		t.Errorf("retry prompt lacks critique notes:\n%s", prompts[1])
	}
}

func TestCritiquePassAfterOneRetry(t *testing.T) {
	llm := newScriptedLLM(func(n int) (model.ChatOut, error) {
		if n == 0 {
			return model.ChatOut{Text: critiqueFailJSON}, nil
		}
		return model.ChatOut{Text: critiquePassJSON}, nil
	})
	h := newHarness(t, llm)

	state := h.start(t, "job-retry-once")
	if state.Status() != graph.StatusPendingReview {
		t.Fatalf("status = %q", state.Status())
	}
	if state.Int(KeyRetryCount) != 1 || !state.Bool(KeyCritiquePassed) {
		t.Errorf("retry_count = %d passed = %v", state.Int(KeyRetryCount), state.Bool(KeyCritiquePassed))
	}
	if llm.count("summary") != 2 {
		t.Errorf("summaries = %d, want 2", llm.count("summary"))
	}
}

func TestRejectionLoopFailsAtCeiling(t *testing.T) {
	llm := newScriptedLLM(reply(critiquePassJSON))
	h := newHarness(t, llm)
	h.start(t, "job-reject")

	for round := 1; round < MaxReviewRounds; round++ {
		state := h.resume(t, "job-reject", graph.Decision{
			graph.DecisionAction:   graph.ActionReject,
			graph.DecisionFeedback: "mention the budget amount",
		})
		if state.Status() != graph.StatusPendingReview {
			t.Fatalf("round %d: status = %q, want pending_review", round, state.Status())
		}
		if state.Int(KeyReviewCount) != round {
			t.Fatalf("round %d: review_count = %d", round, state.Int(KeyReviewCount))
		}
	}
	if got := llm.count("summary"); got != MaxReviewRounds {
		t.Errorf("summaries = %d, want %d", got, MaxReviewRounds)
	}
	if p := llm.prompts("summary"); !strings.Contains(p[1], "mention the budget amount") {
		t.Errorf("summary after rejection lacks feedback:\n%s", p[1])
	}

	state := h.resume(t, "job-reject", graph.Decision{graph.DecisionAction: graph.ActionReject})
	if state.Status() != graph.StatusFailed {
		t.Fatalf("status = %q, want failed", state.Status())
	}
	if state.Int(KeyReviewCount) != MaxReviewRounds {
		t.Errorf("review_count = %d", state.Int(KeyReviewCount))
	}
	if !strings.Contains(state.String(graph.KeyErrorMessage), "5 review rounds") {
		t.Errorf("error_message = %q", state.String(graph.KeyErrorMessage))
	}
	if in := h.pending(t, "job-reject"); in != nil {
		t.Errorf("failed job still has interrupt %+v", in)
	}
	if h.sink.Saves() != 0 {
		t.Error("rejected minutes must not be saved")
	}
}

func TestInvalidDecisionSuspendsAgain(t *testing.T) {
	h := newHarness(t, newScriptedLLM(reply(critiquePassJSON)))
	h.start(t, "job-invalid")

	tests := []struct {
		name     string
		decision graph.Decision
		want     string
	}{
		{"unknown action", graph.Decision{graph.DecisionAction: "maybe"}, `unknown review action "maybe"`},
		{"bad edit", graph.Decision{graph.DecisionAction: graph.ActionApprove, DecisionUpdatedKeyPoints: 42.0}, DecisionUpdatedKeyPoints},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := h.resume(t, "job-invalid", tt.decision)
			if state.Status() != graph.StatusPendingReview {
				t.Fatalf("status = %q, want pending_review", state.Status())
			}
			in := h.pending(t, "job-invalid")
			if in == nil {
				t.Fatal("expected a new interrupt")
			}
			msg, _ := in.Payload["error"].(string)
			if !strings.Contains(msg, tt.want) {
				t.Errorf("payload error = %q, want %q", msg, tt.want)
			}
		})
	}

	state := h.resume(t, "job-invalid", graph.Decision{graph.DecisionAction: graph.ActionApprove})
	if state.Status() != graph.StatusCompleted {
		t.Fatalf("status = %q, want completed", state.Status())
	}
}

func TestCritiqueFailureDegradesToPass(t *testing.T) {
	llm := newScriptedLLM(func(int) (model.ChatOut, error) {
		return model.ChatOut{}, &model.APIError{Provider: "mock", StatusCode: 503, Message: "overloaded"}
	})
	h := newHarness(t, llm)

	state := h.start(t, "job-degrade")
	if state.Status() != graph.StatusPendingReview {
		t.Fatalf("status = %q, want pending_review", state.Status())
	}
	if !state.Bool(KeyCritiquePassed) || !state.Bool(KeyCritiqueDegraded) {
		t.Errorf("passed = %v degraded = %v", state.Bool(KeyCritiquePassed), state.Bool(KeyCritiqueDegraded))
	}
	if state.Int(KeyRetryCount) != 0 {
		t.Errorf("retry_count = %d, want 0", state.Int(KeyRetryCount))
	}
	want := graph.DefaultPolicies()[graph.PolicyLLM].MaxRetries + 1
	if got := llm.count("critique"); got != want {
		t.Errorf("critique calls = %d, want %d", got, want)
	}
}

func TestCritiqueRetriesTransientFailure(t *testing.T) {
	pass := reply(critiquePassJSON)
	llm := newScriptedLLM(func(n int) (model.ChatOut, error) {
		if n == 0 {
			return model.ChatOut{}, &model.APIError{Provider: "mock", StatusCode: 503, Message: "overloaded"}
		}
		return pass(n)
	})
	h := newHarness(t, llm)

	state := h.start(t, "job-critique-retry")
	if state.Status() != graph.StatusPendingReview {
		t.Fatalf("status = %q, want pending_review", state.Status())
	}
	if !state.Bool(KeyCritiquePassed) || state.Bool(KeyCritiqueDegraded) {
		t.Errorf("passed = %v degraded = %v, want a real pass", state.Bool(KeyCritiquePassed), state.Bool(KeyCritiqueDegraded))
	}
	if state.String(KeyCritique) != "Accurate." {
		t.Errorf("critique = %q", state.String(KeyCritique))
	}
	if got := llm.count("critique"); got != 2 {
		t.Errorf("critique calls = %d, want 2", got)
	}
}

func TestCritiqueDoesNotDegradeCancellation(t *testing.T) {
	p := &Pipeline{LLM: newScriptedLLM(reply(critiquePassJSON)), Logger: quietLogger()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	delta, err := p.critique(ctx, InitialState(Input{MeetingID: "m"}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if delta != nil {
		t.Errorf("delta = %v, want nil", delta)
	}
}

func TestMalformedReplyFailsWithValidationCategory(t *testing.T) {
	llm := newScriptedLLM(reply(critiquePassJSON))
	llm.summary = reply("I could not produce JSON today.")
	h := newHarness(t, llm)

	state := h.start(t, "job-malformed")
	if state.Status() != graph.StatusFailed {
		t.Fatalf("status = %q, want failed", state.Status())
	}
	if got := state.String(graph.KeyErrorCategory); got != string(graph.CategoryValidation) {
		t.Errorf("error_category = %q, want validation", got)
	}
	want := graph.DefaultPolicies()[graph.PolicyLLM].MaxRetries + 1
	if got := llm.count("summary"); got != want {
		t.Errorf("summary attempts = %d, want %d", got, want)
	}
}

func TestTranscribeFailures(t *testing.T) {
	tests := []struct {
		name     string
		result   stt.Result
		errs     []error
		status   graph.Status
		category string
		calls    int
	}{
		{
			name:     "rejected credentials",
			result:   sampleTranscript(),
			errs:     []error{&stt.Error{StatusCode: 401, Message: "bad key"}},
			status:   graph.StatusFailed,
			category: string(graph.CategoryAuth),
			calls:    1,
		},
		{
			name:     "no speech",
			result:   stt.Result{},
			status:   graph.StatusFailed,
			category: string(graph.CategoryValidation),
			calls:    1,
		},
		{
			name:   "rate limited then ok",
			result: sampleTranscript(),
			errs:   []error{&stt.Error{StatusCode: 429, RetryAfter: time.Second}},
			status: graph.StatusPendingReview,
			calls:  2,
		},
		{
			name:     "service down",
			result:   sampleTranscript(),
			errs:     []error{&stt.Error{StatusCode: 503}, &stt.Error{StatusCode: 503}, &stt.Error{StatusCode: 503}, &stt.Error{StatusCode: 503}},
			status:   graph.StatusFailed,
			category: string(graph.CategoryExternalAPI),
			calls:    4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, newScriptedLLM(reply(critiquePassJSON)))
			h.stt.Result = tt.result
			h.stt.Errs = tt.errs

			state := h.start(t, "job-stt")
			if state.Status() != tt.status {
				t.Fatalf("status = %q, want %q (error: %s)", state.Status(), tt.status, state.String(graph.KeyErrorMessage))
			}
			if tt.category != "" && state.String(graph.KeyErrorCategory) != tt.category {
				t.Errorf("error_category = %q, want %q", state.String(graph.KeyErrorCategory), tt.category)
			}
			if got := len(h.stt.Calls()); got != tt.calls {
				t.Errorf("transcriber calls = %d, want %d", got, tt.calls)
			}
			if tt.status == graph.StatusFailed && h.llm.count("summary") != 0 {
				t.Error("summarize must not run after a failed transcription")
			}
		})
	}
}

// cancellingTool cancels the running job on its first call, standing in for
// a process that dies in the middle of dispatch.
type cancellingTool struct {
	tool.MockTool
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancellingTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	cancelled := false
	c.once.Do(func() {
		c.cancel()
		cancelled = true
	})
	out, err := c.MockTool.Call(context.Background(), input)
	if cancelled {
		return nil, context.Canceled
	}
	return out, err
}

func TestRecoverAfterCrashDuringSave(t *testing.T) {
	h := newHarness(t, newScriptedLLM(reply(critiquePassJSON)))
	h.start(t, "job-crash")

	ctx, cancel := context.WithCancel(context.Background())
	jira := &cancellingTool{MockTool: tool.MockTool{ToolName: ToolJiraCreateIssue}, cancel: cancel}
	p := &Pipeline{
		Transcriber: h.stt,
		LLM:         h.llm,
		Sink:        h.sink,
		Tools:       map[string]tool.Tool{ToolJiraCreateIssue: jira},
		Logger:      quietLogger(),
		Clock:       fixedClock,
		Sleep:       noSleep,
	}
	engine, err := Build(p, h.store, graph.WithSleeper(noSleep), graph.WithClock(fixedClock), graph.WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := engine.Resume(ctx, "job-crash", graph.Decision{graph.DecisionAction: graph.ActionApprove}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Resume err = %v, want context.Canceled", err)
	}
	info, err := engine.Info(context.Background(), "job-crash")
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != graph.StatusApproved || info.Stage != StageSave || info.Suspended {
		t.Fatalf("checkpoint after crash = %+v, want approved at save", info)
	}
	if h.sink.Saves() != 0 {
		t.Fatal("minutes saved before the crash")
	}

	state, err := engine.Recover(context.Background(), "job-crash")
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if state.Status() != graph.StatusCompleted {
		t.Fatalf("status = %q, want completed", state.Status())
	}
	keys := jira.Keys()
	if len(keys) != 2 || keys[0] != keys[1] {
		t.Errorf("dispatch keys = %v, want the same key twice", keys)
	}
	if h.sink.Saves() != 1 {
		t.Errorf("saves = %d, want 1", h.sink.Saves())
	}
}

func TestCancelledJobStopsBeforeNextStage(t *testing.T) {
	h := newHarness(t, newScriptedLLM(reply(critiquePassJSON)))
	h.start(t, "job-cancel")

	if err := h.engine.Cancel(context.Background(), "job-cancel", "meeting withdrawn"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := h.engine.Resume(context.Background(), "job-cancel", graph.Decision{graph.DecisionAction: graph.ActionApprove}); err == nil {
		t.Error("Resume of a cancelled job should fail")
	}
	if h.jira.CallCount() != 0 || h.sink.Saves() != 0 {
		t.Error("cancelled job must not dispatch or save")
	}
}

func TestNewJobID(t *testing.T) {
	a, err := NewJobID()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewJobID()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(a, "job_") {
		t.Errorf("id %q lacks job_ prefix", a)
	}
	if a == b {
		t.Error("ids should be unique")
	}
}
