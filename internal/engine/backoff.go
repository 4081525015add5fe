package engine

import (
	"time"

	"quotefeed/pkg/utils"
)

// ReconnectPolicy configures reconnect backoff.
type ReconnectPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Cooldown     time.Duration
}

// Backoff tracks consecutive reconnect attempts.
type Backoff struct {
	policy   ReconnectPolicy
	attempts int
}

// NewBackoff creates a Backoff for policy.
func NewBackoff(policy ReconnectPolicy) *Backoff {
	return &Backoff{policy: policy}
}

// Next records a failed attempt and returns how long to wait before the next
// one. Once attempts exceed the maximum it returns the cooldown with
// cooldown=true; the caller resets the counter after waiting it out.
func (b *Backoff) Next() (delay time.Duration, cooldown bool) {
	b.attempts++
	if b.attempts > b.policy.MaxAttempts {
		return b.policy.Cooldown, true
	}
	return utils.CalculateBackoff(b.attempts-1, b.policy.InitialDelay, b.policy.MaxDelay, 2.0), false
}

// Reset clears the attempt counter.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the number of consecutive failed attempts.
func (b *Backoff) Attempts() int {
	return b.attempts
}
