package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dshills/meetgraph/graph/emit"
)

// recordingSleeper records requested backoff delays without waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func (r *recordingSleeper) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

// flakyStage fails its first n calls with err and then succeeds.
func flakyStage(name string, n int, err error, calls *int) Stage {
	return Stage{
		Name: name,
		Run: func(ctx context.Context, s State) (Delta, error) {
			*calls++
			if *calls <= n {
				return nil, err
			}
			return Delta{"done": true}, nil
		},
	}
}

// TestStageRunner_RetryBound verifies a stage failing n times with a
// retryable error is attempted exactly min(maxRetries, n)+1 times.
func TestStageRunner_RetryBound(t *testing.T) {
	for maxRetries := 0; maxRetries <= 4; maxRetries++ {
		for n := 0; n <= 6; n++ {
			policy := RetryPolicy{MaxRetries: maxRetries, InitialDelay: time.Millisecond, MaxDelay: time.Second, BackoffBase: 2}
			sleeper := &recordingSleeper{}
			runner := &StageRunner{Sleep: sleeper.Sleep}

			calls := 0
			stage := flakyStage("llm", n, ExternalAPIError("503", nil), &calls)
			delta, err := runner.Run(context.Background(), stage, State{}, policy)

			want := n + 1
			if n > maxRetries {
				want = maxRetries + 1
			}
			if calls != want {
				t.Errorf("maxRetries=%d n=%d: %d attempts, want %d", maxRetries, n, calls, want)
			}
			if len(sleeper.Delays()) != want-1 {
				t.Errorf("maxRetries=%d n=%d: %d sleeps, want %d", maxRetries, n, len(sleeper.Delays()), want-1)
			}

			if n <= maxRetries {
				if err != nil || delta["done"] != true {
					t.Errorf("maxRetries=%d n=%d: expected success, got %v %v", maxRetries, n, delta, err)
				}
				continue
			}
			var mre *MaxRetriesExceededError
			if !errors.As(err, &mre) {
				t.Fatalf("maxRetries=%d n=%d: expected MaxRetriesExceededError, got %v", maxRetries, n, err)
			}
			if mre.Attempts != want || mre.Stage != "llm" || mre.Last.Category != CategoryExternalAPI {
				t.Errorf("unexpected exhaustion error: %+v", mre)
			}
		}
	}
}

func TestStageRunner_NonRecoverableNotRetried(t *testing.T) {
	for _, stageErr := range []*StageError{
		ValidationError("empty transcript", nil),
		AuthError("bad key", nil),
		AudioError("unreadable", nil),
	} {
		sleeper := &recordingSleeper{}
		runner := &StageRunner{Sleep: sleeper.Sleep}
		calls := 0
		_, err := runner.Run(context.Background(), flakyStage("stt", 10, stageErr, &calls), State{}, DefaultPolicies().For(PolicySTT))

		if calls != 1 {
			t.Errorf("%s: %d attempts, want 1", stageErr.Message, calls)
		}
		var se *StageError
		if !errors.As(err, &se) || se.Category != stageErr.Category || se.Stage != "stt" {
			t.Errorf("%s: got %v", stageErr.Message, err)
		}
		if errors.Is(err, ErrMaxRetriesExceeded) {
			t.Errorf("%s: non-recoverable error reported as exhaustion", stageErr.Message)
		}
	}
}

func TestStageRunner_UnclassifiedErrorsRetried(t *testing.T) {
	sleeper := &recordingSleeper{}
	runner := &StageRunner{Sleep: sleeper.Sleep}
	calls := 0
	policy := RetryPolicy{MaxRetries: 2, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffBase: 2}

	_, err := runner.Run(context.Background(), flakyStage("x", 2, errors.New("plain"), &calls), State{}, policy)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	got := sleeper.Delays()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("delays = %v, want %v", got, want)
	}
}

func TestStageRunner_SuggestedDelay(t *testing.T) {
	sleeper := &recordingSleeper{}
	runner := &StageRunner{Sleep: sleeper.Sleep}
	calls := 0
	policy := RetryPolicy{MaxRetries: 1, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffBase: 2}

	_, _ = runner.Run(context.Background(), flakyStage("llm", 1, RateLimitError("429", 20*time.Second, nil), &calls), State{}, policy)
	if got := sleeper.Delays(); len(got) != 1 || got[0] != 20*time.Second {
		t.Errorf("delays = %v, want [20s]", got)
	}
}

func TestStageRunner_SuspendNotRetried(t *testing.T) {
	runner := &StageRunner{Sleep: (&recordingSleeper{}).Sleep}
	calls := 0
	stage := Stage{
		Name: "review",
		Run: func(ctx context.Context, s State) (Delta, error) {
			calls++
			_, err := Suspend(ctx, map[string]any{"q": "ok?"})
			return Delta{"status": "pending_review"}, err
		},
	}

	delta, err := runner.Run(context.Background(), stage, State{}, DefaultPolicies().For(PolicyDefault))
	var se *SuspendError
	if !errors.As(err, &se) {
		t.Fatalf("expected SuspendError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("suspending stage ran %d times", calls)
	}
	if delta["status"] != "pending_review" || se.Payload["q"] != "ok?" {
		t.Errorf("delta %v payload %v", delta, se.Payload)
	}
}

func TestStageRunner_AttemptTimeout(t *testing.T) {
	runner := &StageRunner{Sleep: (&recordingSleeper{}).Sleep}
	stage := Stage{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Run: func(ctx context.Context, s State) (Delta, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	_, err := runner.Run(context.Background(), stage, State{}, RetryPolicy{MaxRetries: 1, BackoffBase: 2})
	var mre *MaxRetriesExceededError
	if !errors.As(err, &mre) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if mre.Last.Category != CategoryTimeout || mre.Attempts != 2 {
		t.Errorf("unexpected error: %+v", mre.Last)
	}
}

func TestStageRunner_PanicBecomesError(t *testing.T) {
	runner := &StageRunner{}
	stage := Stage{
		Name: "panicky",
		Run: func(ctx context.Context, s State) (Delta, error) {
			panic("nil map")
		},
	}
	_, err := runner.Run(context.Background(), stage, State{}, RetryPolicy{BackoffBase: 2})
	if err == nil {
		t.Fatal("expected error from panicking stage")
	}
	if se := Classify(err); se.Category != CategoryProcessing {
		t.Errorf("category = %s", se.Category)
	}
}

func TestStageRunner_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &StageRunner{
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}
	calls := 0
	_, err := runner.Run(ctx, flakyStage("x", 5, NetworkError("down", nil), &calls), State{}, DefaultPolicies().For(PolicyDefault))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("attempts after cancel = %d", calls)
	}
}

func TestStageRunner_EmitsRetryEvents(t *testing.T) {
	buf := emit.NewBufferedEmitter()
	runner := &StageRunner{Sleep: (&recordingSleeper{}).Sleep, Emitter: buf}
	ctx := withScope(context.Background(), jobScope{jobID: "job-r", stage: "x", step: 3})
	calls := 0

	_, err := runner.Run(ctx, flakyStage("x", 2, NetworkError("down", nil), &calls), State{}, DefaultPolicies().For(PolicyDefault))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := buf.HistoryWithFilter("job-r", emit.HistoryFilter{Msg: emit.MsgStageRetry})
	if len(events) != 2 {
		t.Fatalf("got %d retry events, want 2", len(events))
	}
	if events[0].Step != 3 || events[0].Meta["category"] != "network" || events[1].Meta["attempt"] != 2 {
		t.Errorf("unexpected events: %+v", events)
	}
}
