package sandbox

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"datalens/internal/logging"
)

// ErrUnavailable is returned when a breaker short-circuits a call without
// touching the underlying subsystem. Callers map it to SERVICE_UNAVAILABLE.
var ErrUnavailable = errors.New("service unavailable: circuit breaker open")

// softError marks failures that must not count toward tripping a breaker
// (rate limits, auth, bad requests) while still propagating to the caller.
type softError struct{ err error }

func (s softError) Error() string { return s.err.Error() }
func (s softError) Unwrap() error { return s.err }

// Soft wraps err as a soft failure.
func Soft(err error) error {
	if err == nil {
		return nil
	}
	return softError{err: err}
}

// IsSoft reports whether err is marked soft.
func IsSoft(err error) bool {
	var s softError
	return errors.As(err, &s)
}

// softPass smuggles a soft failure through gobreaker as a success.
type softPass struct {
	value any
	err   error
}

// Breaker counts consecutive hard failures; after failMax it opens for
// resetTimeout, then half-opens for a single probe.
type Breaker struct {
	name  string
	cb    *gobreaker.CircuitBreaker
	audit *logging.AuditLogger
}

// NewBreaker builds a breaker. failMax<=0 defaults to 5; resetTimeout<=0
// defaults to 60s.
func NewBreaker(name string, failMax uint32, resetTimeout time.Duration, audit *logging.AuditLogger) *Breaker {
	if failMax == 0 {
		failMax = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	b := &Breaker{name: name, audit: audit}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // one probe in half-open
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failMax
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Get(logging.CategorySandbox).Warnw("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
			b.audit.LogEvent(logging.AuditBreakerTransition, map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}, "", "")
		},
	})
	return b
}

// Do runs fn through the breaker. While open, it returns ErrUnavailable
// without invoking fn. Soft failures propagate without counting.
func (b *Breaker) Do(fn func() (any, error)) (any, error) {
	res, err := b.cb.Execute(func() (any, error) {
		v, ferr := fn()
		if ferr != nil && IsSoft(ferr) {
			return softPass{value: v, err: ferr}, nil
		}
		return v, ferr
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w (%s)", ErrUnavailable, b.name)
		}
		return nil, err
	}
	if sp, ok := res.(softPass); ok {
		return sp.value, sp.err
	}
	return res, nil
}

// State returns the current breaker state string, for diagnostics.
func (b *Breaker) State() string { return b.cb.State().String() }

// Breakers bundles the three process-wide breakers.
type Breakers struct {
	LLM    *Breaker
	Vector *Breaker
	DB     *Breaker
}

// BreakerConfig tunes one breaker.
type BreakerConfig struct {
	FailMax      uint32        `yaml:"fail_max" json:"fail_max"`
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
}

// NewBreakers builds the standard trio: LLM (60s reset) and faster recovery
// for the vector and database planes (30s).
func NewBreakers(audit *logging.AuditLogger) *Breakers {
	return &Breakers{
		LLM:    NewBreaker("LLM_BREAKER", 5, 60*time.Second, audit),
		Vector: NewBreaker("VECTOR_BREAKER", 5, 30*time.Second, audit),
		DB:     NewBreaker("DB_BREAKER", 5, 30*time.Second, audit),
	}
}
