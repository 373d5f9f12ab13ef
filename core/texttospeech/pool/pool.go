// Package pool keeps pre-dialed synthesis connections for the default voice
// so a response does not pay the connection setup on its critical path.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NickTikhonov/shuo/core/texttospeech"
	"github.com/NickTikhonov/shuo/internal/metrics"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
)

var ErrClosed = errors.New("synthesis pool closed")

// Source tells where a leased connection came from.
type Source string

const (
	SourceWarm     Source = "warm"
	SourceCold     Source = "cold"
	SourceUnpooled Source = "unpooled"
)

// Disposition is what Release did with a connection.
type Disposition int

const (
	// ReleasedIdle means the connection went back to the idle set.
	ReleasedIdle Disposition = iota
	// ReleasedDiscarded means the connection was closed.
	ReleasedDiscarded
	// ReleasedAlready means the lease had been released before.
	ReleasedAlready
)

type entry struct {
	conn      texttospeech.SpeechConnection
	createdAt time.Time
}

type Pool struct {
	dialer       texttospeech.SpeechDialer
	defaultVoice texttospeech.VoiceConfig
	fingerprint  string
	options      Options

	mu     sync.Mutex
	idle   []entry
	leased int
	closed bool

	slots *semaphore.Weighted
	wake  chan struct{}

	stop context.CancelFunc
	done chan struct{}
}

// New starts a pool for defaultVoice and begins filling it in the
// background. Close must be called to stop the fill loop.
func New(ctx context.Context, dialer texttospeech.SpeechDialer, defaultVoice texttospeech.VoiceConfig, opts ...Option) *Pool {
	options := Options{
		TargetIdle:     DefaultTargetIdle,
		MaxOutstanding: DefaultMaxOutstanding,
		TTL:            DefaultTTL,
		RetryInterval:  DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &Pool{
		dialer:       dialer,
		defaultVoice: defaultVoice,
		fingerprint:  defaultVoice.Fingerprint(),
		options:      options,
		slots:        semaphore.NewWeighted(int64(options.MaxOutstanding)),
		wake:         make(chan struct{}, 1),
		stop:         cancel,
		done:         make(chan struct{}),
	}
	go p.fillLoop(ctx)
	return p
}

// Lease is exclusive use of one connection until it is released.
type Lease struct {
	conn      texttospeech.SpeechConnection
	source    Source
	createdAt time.Time
	released  atomic.Bool
}

func (l *Lease) Conn() texttospeech.SpeechConnection { return l.conn }
func (l *Lease) Source() Source                      { return l.source }

// Acquire leases a connection for voice. Default-voice requests take an idle
// connection when one is ready and dial synchronously otherwise; any other
// voice gets a fresh connection that never enters the pool.
func (p *Pool) Acquire(ctx context.Context, voice texttospeech.VoiceConfig) (*Lease, error) {
	ctx, span := tracer.Start(ctx, "acquire synthesis connection")
	defer span.End()

	if voice.Fingerprint() != p.fingerprint {
		conn, err := p.dialer.Dial(ctx, voice)
		if err != nil {
			err = fmt.Errorf("failed to dial unpooled connection: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		span.SetAttributes(attribute.String("pool.source", string(SourceUnpooled)))
		metrics.TTSPoolAcquires.WithLabelValues(string(SourceUnpooled)).Inc()
		return &Lease{conn: conn, source: SourceUnpooled, createdAt: time.Now()}, nil
	}

	if err := p.slots.Acquire(ctx, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var stale []texttospeech.SpeechConnection
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.slots.Release(1)
		return nil, ErrClosed
	}
	p.leased++
	var warm *entry
	for len(p.idle) > 0 {
		last := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.expired(last) {
			stale = append(stale, last.conn)
			continue
		}
		warm = &last
		break
	}
	idle := len(p.idle)
	p.mu.Unlock()

	closeAll(stale)
	metrics.TTSPoolIdle.Set(float64(idle))
	p.signal()

	if warm != nil {
		span.SetAttributes(attribute.String("pool.source", string(SourceWarm)))
		metrics.TTSPoolAcquires.WithLabelValues(string(SourceWarm)).Inc()
		return &Lease{conn: warm.conn, source: SourceWarm, createdAt: warm.createdAt}, nil
	}

	conn, err := p.dialer.Dial(ctx, voice)
	if err != nil {
		p.mu.Lock()
		p.leased--
		p.mu.Unlock()
		p.slots.Release(1)

		err = fmt.Errorf("failed to dial connection: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("pool.source", string(SourceCold)))
	metrics.TTSPoolAcquires.WithLabelValues(string(SourceCold)).Inc()
	logger.Debug("synthesis pool empty, dialed a fresh connection")
	return &Lease{conn: conn, source: SourceCold, createdAt: time.Now()}, nil
}

// Release ends the lease. A healthy default-voice connection goes back to
// idle while the idle set is below target; everything else is closed.
func (p *Pool) Release(lease *Lease) Disposition {
	if lease == nil || !lease.released.CompareAndSwap(false, true) {
		return ReleasedAlready
	}

	if lease.source == SourceUnpooled {
		_ = lease.conn.Close()
		return ReleasedDiscarded
	}

	healthy := lease.conn.Healthy() && time.Since(lease.createdAt) < p.options.TTL
	p.mu.Lock()
	p.leased--
	keep := healthy && !p.closed && len(p.idle) < p.options.TargetIdle
	if keep {
		p.idle = append(p.idle, entry{conn: lease.conn, createdAt: lease.createdAt})
	}
	idle := len(p.idle)
	p.mu.Unlock()
	p.slots.Release(1)

	metrics.TTSPoolIdle.Set(float64(idle))
	if keep {
		return ReleasedIdle
	}

	_ = lease.conn.Close()
	p.signal()
	return ReleasedDiscarded
}

type Stats struct {
	Idle   int
	Leased int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Idle: len(p.idle), Leased: p.leased}
}

// Close stops the fill loop and closes idle connections. Leases still out
// are closed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	p.stop()
	<-p.done

	conns := make([]texttospeech.SpeechConnection, 0, len(idle))
	for _, e := range idle {
		conns = append(conns, e.conn)
	}
	closeAll(conns)
	metrics.TTSPoolIdle.Set(0)
	return nil
}

func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) expired(e entry) bool {
	return time.Since(e.createdAt) >= p.options.TTL || !e.conn.Healthy()
}

func (p *Pool) fillLoop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(max(p.options.TTL/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		p.evictStale()
		p.fill(ctx)

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

func (p *Pool) evictStale() {
	var stale []texttospeech.SpeechConnection
	p.mu.Lock()
	fresh := p.idle[:0]
	for _, e := range p.idle {
		if p.expired(e) {
			stale = append(stale, e.conn)
			continue
		}
		fresh = append(fresh, e)
	}
	p.idle = fresh
	idle := len(p.idle)
	p.mu.Unlock()

	if len(stale) > 0 {
		logger.Debug("evicted stale synthesis connections", "count", len(stale))
		closeAll(stale)
		metrics.TTSPoolIdle.Set(float64(idle))
	}
}

// fill dials until the idle set reaches target. The mutex is never held
// while dialing.
func (p *Pool) fill(ctx context.Context) {
	for {
		p.mu.Lock()
		needed := !p.closed && len(p.idle) < p.options.TargetIdle
		p.mu.Unlock()
		if !needed {
			return
		}

		retry := backoff.NewExponentialBackOff()
		retry.InitialInterval = p.options.RetryInterval
		retry.MaxInterval = 10 * p.options.RetryInterval
		conn, err := backoff.Retry(ctx, func() (texttospeech.SpeechConnection, error) {
			return p.dialer.Dial(ctx, p.defaultVoice)
		},
			backoff.WithBackOff(retry),
			backoff.WithNotify(func(err error, next time.Duration) {
				logger.Warn("failed to refill synthesis pool", "error", err, "retry_in", next)
			}),
		)
		if err != nil {
			return
		}

		p.mu.Lock()
		keep := !p.closed && len(p.idle) < p.options.TargetIdle
		if keep {
			p.idle = append(p.idle, entry{conn: conn, createdAt: time.Now()})
		}
		idle := len(p.idle)
		p.mu.Unlock()

		if !keep {
			_ = conn.Close()
			return
		}
		metrics.TTSPoolIdle.Set(float64(idle))
	}
}

func closeAll(conns []texttospeech.SpeechConnection) {
	for _, conn := range conns {
		_ = conn.Close()
	}
}
