// Package retry wraps a fetch-and-parse attempt with bounded, jittered retries.
package retry

import (
	"crypto/rand"
	"math/big"
	"time"
)

// Policy decides whether and when another attempt happens.
type Policy interface {
	// ShouldRetry reports whether a failed attempt (0-based) may be retried.
	ShouldRetry(err error, attempt int) bool
	// Delay is the wait before attempt (0-based), including the first one.
	Delay(attempt int) time.Duration
}

// Config parameterizes JitterBackoffPolicy.
type Config struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	JitterMin   time.Duration `mapstructure:"jitter_min"`
	JitterMax   time.Duration `mapstructure:"jitter_max"`
	BackoffStep time.Duration `mapstructure:"backoff_step"`
}

// DefaultConfig matches the origin's tolerance: two retries, 0.5-1.5s jitter
// before every attempt, and a 2s linear step per retry.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  2,
		JitterMin:   500 * time.Millisecond,
		JitterMax:   1500 * time.Millisecond,
		BackoffStep: 2 * time.Second,
	}
}

// JitterBackoffPolicy waits a random jitter before every attempt and adds
// attempt*BackoffStep before retries.
type JitterBackoffPolicy struct {
	maxRetries int
	jitterMin  time.Duration
	jitterMax  time.Duration
	step       time.Duration
}

// NewJitterBackoffPolicy builds a policy, clamping negative values to zero.
func NewJitterBackoffPolicy(cfg Config) *JitterBackoffPolicy {
	p := &JitterBackoffPolicy{
		maxRetries: max(cfg.MaxRetries, 0),
		jitterMin:  max(cfg.JitterMin, 0),
		jitterMax:  max(cfg.JitterMax, 0),
		step:       max(cfg.BackoffStep, 0),
	}
	if p.jitterMax < p.jitterMin {
		p.jitterMax = p.jitterMin
	}
	return p
}

// MaxRetries returns the retry budget on top of the first attempt.
func (p *JitterBackoffPolicy) MaxRetries() int {
	return p.maxRetries
}

// ShouldRetry allows another attempt while the budget lasts.
func (p *JitterBackoffPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	return attempt < p.maxRetries
}

// Delay returns jitter plus the linear backoff for retries.
func (p *JitterBackoffPolicy) Delay(attempt int) time.Duration {
	delay := p.jitterMin + p.randomJitter(p.jitterMax-p.jitterMin)
	if attempt > 0 {
		delay += time.Duration(attempt) * p.step
	}
	return delay
}

func (p *JitterBackoffPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit) + 1)
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
