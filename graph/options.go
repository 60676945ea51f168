package graph

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/dshills/meetgraph/graph/emit"
)

// DefaultMaxSteps bounds the number of stage executions per job when no
// WithMaxSteps option is given.
const DefaultMaxSteps = 100

// Sleeper waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when interrupted.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine, err := graph.New(st,
//	    graph.WithMaxSteps(50),
//	    graph.WithLogger(logger),
//	    graph.WithEmitter(emit.NewLogEmitter(logger)),
//	    graph.WithPolicy(graph.PolicyLLM, graph.RetryPolicy{MaxRetries: 5, ...}),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	maxSteps       int
	logger         *slog.Logger
	emitter        emit.Emitter
	metrics        *PrometheusMetrics
	usage          *UsageTracker
	policies       Policies
	defaultTimeout time.Duration
	clock          func() time.Time
	sleep          Sleeper
	rng            *rand.Rand
}

func defaultConfig() engineConfig {
	return engineConfig{
		maxSteps: DefaultMaxSteps,
		logger:   slog.Default(),
		emitter:  emit.NewNullEmitter(),
		policies: DefaultPolicies(),
		clock:    time.Now,
		sleep:    sleepContext,
	}
}

// WithMaxSteps limits the number of stage executions per job. A job that
// exceeds it fails with a Resource error, which stops routing loops whose
// exit condition is missing.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n <= 0 {
			return &EngineError{Message: "max steps must be positive", Code: "INVALID_OPTION"}
		}
		cfg.maxSteps = n
		return nil
	}
}

// WithLogger sets the logger used for engine diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		if logger != nil {
			cfg.logger = logger
		}
		return nil
	}
}

// WithEmitter sets the receiver of engine events. Use emit.NewMultiEmitter
// to fan out to several.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		if e != nil {
			cfg.emitter = e
		}
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithUsageTracker records language model token usage reported by stages
// through RecordUsage.
func WithUsageTracker(t *UsageTracker) Option {
	return func(cfg *engineConfig) error {
		cfg.usage = t
		return nil
	}
}

// WithPolicies replaces the retry policy classes. Classes missing from ps
// fall back to PolicyDefault.
func WithPolicies(ps Policies) Option {
	return func(cfg *engineConfig) error {
		if err := ps.Validate(); err != nil {
			return &EngineError{Message: err.Error(), Code: "INVALID_POLICY", Cause: err}
		}
		cfg.policies = make(Policies, len(ps))
		for class, p := range ps {
			cfg.policies[class] = p
		}
		return nil
	}
}

// WithPolicy sets or overrides a single retry policy class.
func WithPolicy(class string, p RetryPolicy) Option {
	return func(cfg *engineConfig) error {
		if err := p.Validate(); err != nil {
			return &EngineError{Message: "policy " + class + ": " + err.Error(), Code: "INVALID_POLICY", Cause: err}
		}
		next := make(Policies, len(cfg.policies)+1)
		for k, v := range cfg.policies {
			next[k] = v
		}
		next[class] = p
		cfg.policies = next
		return nil
	}
}

// WithDefaultStageTimeout bounds each attempt of stages that set no Timeout
// of their own. Zero means unlimited.
func WithDefaultStageTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return &EngineError{Message: "stage timeout must not be negative", Code: "INVALID_OPTION"}
		}
		cfg.defaultTimeout = d
		return nil
	}
}

// WithClock replaces time.Now for timestamps written into state and
// checkpoints.
func WithClock(now func() time.Time) Option {
	return func(cfg *engineConfig) error {
		if now != nil {
			cfg.clock = now
		}
		return nil
	}
}

// WithSleeper replaces the backoff sleep between retry attempts. Tests use
// it to record delays without waiting.
func WithSleeper(s Sleeper) Option {
	return func(cfg *engineConfig) error {
		if s != nil {
			cfg.sleep = s
		}
		return nil
	}
}

// WithRandSeed makes retry jitter reproducible.
func WithRandSeed(seed int64) Option {
	return func(cfg *engineConfig) error {
		cfg.rng = rand.New(rand.NewSource(seed)) // #nosec G404 -- jitter for retry timing, not security
		return nil
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
