// Package breaker implements a circuit breaker for outbound API calls.
//
// A breaker tracks failures per service and trips open when a service looks
// unhealthy, failing fast instead of piling more load on it. After a cooldown
// it admits trial calls (half-open) and closes again once enough succeed.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the current position of a breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// minRateSample is the minimum number of in-window calls before the sliding
// error rate is allowed to trip the breaker.
const minRateSample = 5

// ErrOpen is returned (wrapped in *OpenError) when a call is rejected because
// the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

// OpenError reports a rejected call and how long until the next trial call
// will be admitted.
type OpenError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("service %s unavailable, retry in %.0fs", e.Service, e.RetryAfter.Seconds())
}

func (e *OpenError) Unwrap() error { return ErrOpen }

// Config tunes a single breaker.
type Config struct {
	// FailureThreshold is the consecutive-ish failure count that trips the
	// breaker open. Successes in closed state decrement the count rather
	// than resetting it, so intermittent failures still accumulate.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes needed to close.
	SuccessThreshold int
	// Timeout is how long the breaker stays open before admitting a trial.
	Timeout time.Duration
	// MaxFailuresPerWindow gates the error-rate trip: the rate only opens
	// the breaker once at least this many failures sit in the window.
	MaxFailuresPerWindow int
	// Window is the sliding window used for rate and latency stats.
	Window time.Duration
	// SlowCallThreshold marks successful calls slower than this as failures.
	SlowCallThreshold time.Duration
	// ErrorRateThreshold is the in-window failure ratio that trips the
	// breaker, in [0, 1].
	ErrorRateThreshold float64
}

// DefaultConfig returns the baseline tuning used when a service has no
// dedicated configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:     5,
		SuccessThreshold:     3,
		Timeout:              60 * time.Second,
		MaxFailuresPerWindow: 10,
		Window:               300 * time.Second,
		SlowCallThreshold:    5000 * time.Millisecond,
		ErrorRateThreshold:   0.5,
	}
}

// Stats is a point-in-time snapshot of a breaker, shaped for the health API.
type Stats struct {
	Service           string     `json:"service_name"`
	State             State      `json:"state"`
	TotalCalls        int64      `json:"total_calls"`
	TotalFailures     int64      `json:"total_failures"`
	TotalSuccesses    int64      `json:"total_successes"`
	FailureCount      int        `json:"failure_count"`
	SuccessCount      int        `json:"success_count"`
	RecentCalls       int        `json:"recent_calls"`
	RecentFailures    int        `json:"recent_failures"`
	RecentSuccesses   int        `json:"recent_successes"`
	ErrorRate         float64    `json:"error_rate"`
	AvgResponseTimeMS float64    `json:"avg_response_time_ms"`
	LastFailureTime   *time.Time `json:"last_failure_time,omitempty"`
	LastSuccessTime   *time.Time `json:"last_success_time,omitempty"`
	TimeUntilRetry    *float64   `json:"time_until_retry,omitempty"`
}

type call struct {
	at       time.Time
	success  bool
	duration time.Duration
}

// CircuitBreaker guards calls to one upstream service. Safe for concurrent
// use; the guarded operation itself runs outside the breaker lock.
type CircuitBreaker struct {
	service string
	cfg     Config
	logger  *slog.Logger

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	lastFailure  *time.Time
	lastSuccess  *time.Time

	totalCalls     int64
	totalFailures  int64
	totalSuccesses int64
	history        []call

	now func() time.Time
}

// New builds a breaker for the named service.
func New(service string, cfg Config, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		service: service,
		cfg:     cfg,
		logger:  logger,
		state:   StateClosed,
		now:     time.Now,
	}
}

// Service returns the upstream service name this breaker guards.
func (b *CircuitBreaker) Service() string { return b.service }

// State returns the current state.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call runs op through the breaker. When the breaker is open the call is
// rejected with an *OpenError before op runs. A successful op that exceeds
// SlowCallThreshold is recorded as a failure but its result is still
// returned to the caller.
func (b *CircuitBreaker) Call(ctx context.Context, op func(context.Context) error) error {
	if err := b.admit(ctx); err != nil {
		return err
	}

	start := b.now()
	err := op(ctx)
	elapsed := b.now().Sub(start)

	b.record(ctx, err, elapsed)
	return err
}

// admit decides whether a call may proceed, moving the breaker between
// states as timeouts and the sliding error rate dictate.
func (b *CircuitBreaker) admit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.purge(now)

	if b.state == StateClosed {
		b.checkErrorRate(ctx)
	}

	if b.state == StateOpen {
		if b.lastFailure != nil && now.Sub(*b.lastFailure) >= b.cfg.Timeout {
			b.transition(ctx, StateHalfOpen)
			b.successCount = 0
			return nil
		}
		retry := b.cfg.Timeout
		if b.lastFailure != nil {
			retry = b.cfg.Timeout - now.Sub(*b.lastFailure)
		}
		if retry < 0 {
			retry = 0
		}
		return &OpenError{Service: b.service, RetryAfter: retry}
	}
	return nil
}

func (b *CircuitBreaker) record(ctx context.Context, err error, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch {
	case err != nil:
		b.recordFailure(ctx, now, elapsed)
	case elapsed > b.cfg.SlowCallThreshold:
		b.logger.WarnContext(ctx, "slow call recorded as failure", "service", b.service, "duration_ms", elapsed.Milliseconds(), "threshold_ms", b.cfg.SlowCallThreshold.Milliseconds())
		b.recordFailure(ctx, now, elapsed)
	default:
		b.recordSuccess(ctx, now, elapsed)
	}
}

func (b *CircuitBreaker) recordSuccess(ctx context.Context, now time.Time, elapsed time.Duration) {
	b.totalCalls++
	b.totalSuccesses++
	b.lastSuccess = &now
	b.history = append(b.history, call{at: now, success: true, duration: elapsed})

	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.transition(ctx, StateClosed)
			b.failureCount = 0
		}
	case StateClosed:
		// Decrement instead of reset so flapping services still trip.
		if b.failureCount > 0 {
			b.failureCount--
		}
	}
}

func (b *CircuitBreaker) recordFailure(ctx context.Context, now time.Time, elapsed time.Duration) {
	b.totalCalls++
	b.totalFailures++
	b.failureCount++
	b.lastFailure = &now
	b.history = append(b.history, call{at: now, success: false, duration: elapsed})

	if (b.state == StateClosed || b.state == StateHalfOpen) && b.failureCount >= b.cfg.FailureThreshold {
		b.transition(ctx, StateOpen)
		b.successCount = 0
	}
}

// checkErrorRate trips the breaker from closed to open when the in-window
// failure ratio crosses the threshold. It needs a minimum sample so a single
// early failure cannot register as a 100% error rate.
func (b *CircuitBreaker) checkErrorRate(ctx context.Context) {
	if len(b.history) < minRateSample {
		return
	}
	failures := 0
	for _, c := range b.history {
		if !c.success {
			failures++
		}
	}
	rate := float64(failures) / float64(len(b.history))
	if rate >= b.cfg.ErrorRateThreshold && failures >= b.cfg.MaxFailuresPerWindow {
		b.logger.WarnContext(ctx, "error rate tripped circuit breaker", "service", b.service, "error_rate", rate, "recent_failures", failures)
		b.transition(ctx, StateOpen)
		b.failureCount = failures
	}
}

// purge drops window-expired entries. Caller holds the lock.
func (b *CircuitBreaker) purge(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.history) && b.history[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.history = append(b.history[:0:0], b.history[i:]...)
	}
}

func (b *CircuitBreaker) transition(ctx context.Context, to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to == StateOpen {
		b.logger.WarnContext(ctx, "circuit breaker opened", "service", b.service, "from", from, "failure_count", b.failureCount)
		return
	}
	b.logger.InfoContext(ctx, "circuit breaker state changed", "service", b.service, "from", from, "to", to)
}

// Stats snapshots the breaker for health reporting. TimeUntilRetry is only
// populated while the breaker is open.
func (b *CircuitBreaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.purge(now)

	var failures, successes int
	var total time.Duration
	for _, c := range b.history {
		if c.success {
			successes++
		} else {
			failures++
		}
		total += c.duration
	}

	var rate, avgMS float64
	if n := len(b.history); n > 0 {
		rate = float64(failures) / float64(n)
		avgMS = float64(total) / float64(time.Millisecond) / float64(n)
	}

	s := Stats{
		Service:           b.service,
		State:             b.state,
		TotalCalls:        b.totalCalls,
		TotalFailures:     b.totalFailures,
		TotalSuccesses:    b.totalSuccesses,
		FailureCount:      b.failureCount,
		SuccessCount:      b.successCount,
		RecentCalls:       len(b.history),
		RecentFailures:    failures,
		RecentSuccesses:   successes,
		ErrorRate:         rate,
		AvgResponseTimeMS: avgMS,
		LastFailureTime:   b.lastFailure,
		LastSuccessTime:   b.lastSuccess,
	}
	if b.state == StateOpen && b.lastFailure != nil {
		remaining := b.cfg.Timeout - now.Sub(*b.lastFailure)
		if remaining < 0 {
			remaining = 0
		}
		secs := remaining.Seconds()
		s.TimeUntilRetry = &secs
	}
	return s
}

// Reset returns the breaker to closed and clears the window. Lifetime totals
// are kept.
func (b *CircuitBreaker) Reset(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transition(ctx, StateClosed)
	b.failureCount = 0
	b.successCount = 0
	b.history = nil
	b.logger.InfoContext(ctx, "circuit breaker reset", "service", b.service)
}

// ForceOpen trips the breaker manually, for incident response or tests.
func (b *CircuitBreaker) ForceOpen(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.lastFailure = &now
	b.transition(ctx, StateOpen)
}
