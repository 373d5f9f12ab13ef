package pool

import "time"

const (
	DefaultTargetIdle     = 1
	DefaultMaxOutstanding = 4
	DefaultTTL            = 8 * time.Second
	DefaultRetryInterval  = time.Second
)

type Options struct {
	// TargetIdle is the number of warm default-voice connections the pool
	// tries to keep ready.
	TargetIdle int
	// MaxOutstanding caps concurrently leased default-voice connections.
	// Acquire blocks while the cap is reached.
	MaxOutstanding int
	// TTL is how long an idle connection is kept before it is replaced. The
	// provider drops sockets that stay silent for too long.
	TTL time.Duration
	// RetryInterval is the first backoff step after a failed refill.
	RetryInterval time.Duration
}

type Option func(*Options)

func WithTargetIdle(n int) Option {
	return func(o *Options) { o.TargetIdle = max(n, 0) }
}

func WithMaxOutstanding(n int) Option {
	return func(o *Options) { o.MaxOutstanding = max(n, 1) }
}

func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		if ttl > 0 {
			o.TTL = ttl
		}
	}
}

func WithRetryInterval(interval time.Duration) Option {
	return func(o *Options) {
		if interval > 0 {
			o.RetryInterval = interval
		}
	}
}
