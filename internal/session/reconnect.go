package session

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ReconnectPolicy decides when a session that lost its connection
// unexpectedly tries again. The Manager calls it with its lock held, so
// implementations need no synchronisation of their own.
type ReconnectPolicy interface {
	// Next returns the delay before the next attempt, or false to give up.
	Next() (time.Duration, bool)

	// Reset is called after every accepted connect.
	Reset()
}

// Immediate returns the default policy: reconnect at once after every
// unexpected disconnect, without limit.
//
// Against an unreachable broker this retries as fast as the protocol engine
// reports failures; use Backoff where that matters.
func Immediate() ReconnectPolicy {
	return immediatePolicy{}
}

type immediatePolicy struct{}

func (immediatePolicy) Next() (time.Duration, bool) { return 0, true }
func (immediatePolicy) Reset()                      {}

// Default jitter and growth for Backoff.
const (
	backoffRandomization = 0.2
	backoffMultiplier    = 2.0
)

// Backoff returns an exponential policy with jitter starting at initial and
// capped at maxDelay. After maxAttempts consecutive attempts without an
// accepted connect it gives up; zero means unlimited.
func Backoff(initial, maxDelay time.Duration, maxAttempts int) ReconnectPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxDelay
	b.RandomizationFactor = backoffRandomization
	b.Multiplier = backoffMultiplier
	b.Reset()

	return &backoffPolicy{b: b, maxAttempts: maxAttempts}
}

type backoffPolicy struct {
	b           *backoff.ExponentialBackOff
	maxAttempts int
	attempts    int
}

func (p *backoffPolicy) Next() (time.Duration, bool) {
	if p.maxAttempts > 0 && p.attempts >= p.maxAttempts {
		return 0, false
	}
	p.attempts++

	d := p.b.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}

func (p *backoffPolicy) Reset() {
	p.attempts = 0
	p.b.Reset()
}
