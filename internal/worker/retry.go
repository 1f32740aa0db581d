package worker

import (
	"time"

	"notifier/config"
)

// RetryPolicy bounds the per-message retry chain. With the defaults
// (4 attempts, 1000ms initial delay, multiplier 5) a message is retried after
// 1s, 5s and 25s before being dead-lettered.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   int
}

func PolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay(),
		Multiplier:   cfg.Multiplier,
	}
}

// Delay returns the backoff before the retry that follows retryCount prior
// retries: InitialDelay × Multiplier^retryCount.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	d := p.InitialDelay
	for i := 0; i < retryCount; i++ {
		d *= time.Duration(p.Multiplier)
	}
	return d
}
