package poller

import (
	"math/rand/v2"
	"time"
)

// Backoff defaults.
const (
	DefaultInitialInterval = 10 * time.Second
	DefaultMultiplier      = 1.5
	DefaultMaxInterval     = 120 * time.Second
	DefaultJitter          = 0.2
	DefaultTimeout         = 600 * time.Second
	DefaultMaxPolls        = 30
)

// Options controls the poll loop.
type Options struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	Jitter          float64 // fraction; 0.2 means ±20%
	Timeout         time.Duration
	MaxPolls        int
}

// DefaultOptions returns the standard backoff: 10s growing x1.5 to 120s,
// ±20% jitter, 600s or 30 polls.
func DefaultOptions() Options {
	return Options{
		InitialInterval: DefaultInitialInterval,
		Multiplier:      DefaultMultiplier,
		MaxInterval:     DefaultMaxInterval,
		Jitter:          DefaultJitter,
		Timeout:         DefaultTimeout,
		MaxPolls:        DefaultMaxPolls,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.InitialInterval <= 0 {
		o.InitialInterval = d.InitialInterval
	}
	if o.Multiplier < 1 {
		o.Multiplier = d.Multiplier
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = d.MaxInterval
	}
	if o.Jitter < 0 || o.Jitter >= 1 {
		o.Jitter = d.Jitter
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.MaxPolls <= 0 {
		o.MaxPolls = d.MaxPolls
	}
	return o
}

// NextInterval returns the interval after cur under the default backoff.
func NextInterval(cur time.Duration) time.Duration {
	return DefaultOptions().NextInterval(cur)
}

// NextInterval returns min(cur * Multiplier, MaxInterval).
func (o Options) NextInterval(cur time.Duration) time.Duration {
	next := time.Duration(float64(cur) * o.Multiplier)
	if next > o.MaxInterval || next < cur {
		return o.MaxInterval
	}
	return next
}

// Jittered scales d by 1 + Jitter*(2r-1) for r in [0,1).
func (o Options) Jittered(d time.Duration, r float64) time.Duration {
	return time.Duration(float64(d) * (1 + o.Jitter*(2*r-1)))
}

// RandomJitter is the production jitter source.
func RandomJitter() float64 { return rand.Float64() }
