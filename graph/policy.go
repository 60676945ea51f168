package graph

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Retry policy classes used by stages.
const (
	PolicySTT     = "stt"
	PolicyLLM     = "llm"
	PolicyMCP     = "mcp"
	PolicyDefault = "default"
)

// RetryPolicy configures how a failed stage attempt is retried.
//
// A RetryPolicy is immutable and shared read-only across concurrently running
// jobs. The delay before retry n (0-indexed) is
//
//	min(MaxDelay, InitialDelay * BackoffBase^n)
//
// plus, when Jitter is set, a uniform random amount in [0, delay/2] so that
// jobs hitting the same failing service do not retry in lockstep.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero means a stage fails on its first error.
	MaxRetries int `yaml:"max_retries"`

	InitialDelay time.Duration `yaml:"initial_delay"`

	MaxDelay time.Duration `yaml:"max_delay"`

	// BackoffBase is the exponential growth factor, typically 2.
	BackoffBase float64 `yaml:"backoff_base"`

	Jitter bool `yaml:"jitter"`
}

// ShouldRetry reports whether another attempt is allowed after attempt
// retries have already been used.
func (p RetryPolicy) ShouldRetry(err *StageError, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.MaxRetries {
		return false
	}
	if !err.Recoverable {
		return false
	}
	if err.Severity == SeverityCritical {
		return false
	}
	return true
}

// DelayFor returns how long to wait before retry attempt. A positive
// SuggestedDelay on err replaces the exponential base. rng supplies jitter;
// nil uses the shared math/rand source.
func (p RetryPolicy) DelayFor(attempt int, err *StageError, rng *rand.Rand) time.Duration {
	var base time.Duration
	if err != nil && err.SuggestedDelay > 0 {
		base = err.SuggestedDelay
	} else {
		base = p.backoff(attempt)
	}
	if !p.Jitter || base <= 0 {
		return base
	}
	var f float64
	if rng != nil {
		f = rng.Float64()
	} else {
		f = rand.Float64() // #nosec G404 -- jitter for retry timing, not security
	}
	return base + time.Duration(f*0.5*float64(base))
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	growth := math.Pow(p.BackoffBase, float64(attempt))
	d := float64(p.InitialDelay) * growth
	if p.MaxDelay > 0 && (d > float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d)) {
		return p.MaxDelay
	}
	if d >= math.MaxInt64 || math.IsInf(d, 0) || math.IsNaN(d) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Validate checks the policy for impossible settings.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries %d is negative", ErrInvalidRetryPolicy, p.MaxRetries)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidRetryPolicy)
	}
	if p.BackoffBase < 1 {
		return fmt.Errorf("%w: backoff base %v must be >= 1", ErrInvalidRetryPolicy, p.BackoffBase)
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.InitialDelay {
		return fmt.Errorf("%w: max delay %s below initial delay %s", ErrInvalidRetryPolicy, p.MaxDelay, p.InitialDelay)
	}
	return nil
}

// ShouldRetry is the function form of RetryPolicy.ShouldRetry.
func ShouldRetry(err *StageError, attempt int, cfg RetryPolicy) bool {
	return cfg.ShouldRetry(err, attempt)
}

// DelayFor is the function form of RetryPolicy.DelayFor using the shared
// random source.
func DelayFor(attempt int, cfg RetryPolicy, err *StageError) time.Duration {
	return cfg.DelayFor(attempt, err, nil)
}

// Policies maps a stage class to its retry policy.
type Policies map[string]RetryPolicy

// DefaultPolicies returns the built-in policy classes.
func DefaultPolicies() Policies {
	return Policies{
		PolicySTT: {
			MaxRetries:   3,
			InitialDelay: 5 * time.Second,
			MaxDelay:     120 * time.Second,
			BackoffBase:  2,
			Jitter:       true,
		},
		PolicyLLM: {
			MaxRetries:   3,
			InitialDelay: 2 * time.Second,
			MaxDelay:     60 * time.Second,
			BackoffBase:  2,
			Jitter:       true,
		},
		PolicyMCP: {
			MaxRetries:   2,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			BackoffBase:  2,
			Jitter:       true,
		},
		PolicyDefault: {
			MaxRetries:   3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     60 * time.Second,
			BackoffBase:  2,
			Jitter:       true,
		},
	}
}

// For returns the policy for class, falling back to the default class and
// then to a policy that never retries.
func (ps Policies) For(class string) RetryPolicy {
	if p, ok := ps[class]; ok {
		return p
	}
	if p, ok := ps[PolicyDefault]; ok {
		return p
	}
	return RetryPolicy{BackoffBase: 2}
}

// Validate checks every policy in the set.
func (ps Policies) Validate() error {
	for class, p := range ps {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("policy %q: %w", class, err)
		}
	}
	return nil
}
