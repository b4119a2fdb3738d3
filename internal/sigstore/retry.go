package sigstore

import (
	"time"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/config"
	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy waits min(attempt*RetryDelay, MaxDelay) between attempts and
// stops after MaxRetries retries.
type RetryPolicy struct {
	RetryDelay time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// PolicyFromConfig builds the retry policy from the redis section
func PolicyFromConfig(cfg *config.RedisConfig) RetryPolicy {
	return RetryPolicy{
		RetryDelay: config.Duration(cfg.RetryDelay, 5*time.Second),
		MaxDelay:   config.Duration(cfg.MaxDelay, 30*time.Second),
		MaxRetries: cfg.MaxRetries,
	}
}

// New returns a fresh backoff schedule for one command
func (p RetryPolicy) New() backoff.BackOff {
	return &linearBackOff{policy: p}
}

type linearBackOff struct {
	policy  RetryPolicy
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt > b.policy.MaxRetries {
		return backoff.Stop
	}
	delay := time.Duration(b.attempt) * b.policy.RetryDelay
	if delay > b.policy.MaxDelay {
		delay = b.policy.MaxDelay
	}
	return delay
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}
