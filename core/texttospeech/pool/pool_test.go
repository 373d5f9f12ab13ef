package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NickTikhonov/shuo/core/texttospeech"
)

type stubConn struct {
	id      int
	healthy atomic.Bool
	closed  atomic.Bool
}

func (c *stubConn) SendText(context.Context, string) error { return nil }
func (c *stubConn) Finish(context.Context) error           { return nil }
func (c *stubConn) Receive(ctx context.Context) (texttospeech.SpeechChunk, error) {
	<-ctx.Done()
	return texttospeech.SpeechChunk{}, ctx.Err()
}
func (c *stubConn) Healthy() bool { return c.healthy.Load() && !c.closed.Load() }
func (c *stubConn) Close() error  { c.closed.Store(true); return nil }

type stubDialer struct {
	mu     sync.Mutex
	conns  []*stubConn
	voices []texttospeech.VoiceConfig

	// gate, when set, blocks every dial after the first `free` ones until
	// it is closed.
	gate  chan struct{}
	free  int
	fails atomic.Int32
}

func (d *stubDialer) Dial(ctx context.Context, voice texttospeech.VoiceConfig) (texttospeech.SpeechConnection, error) {
	if d.fails.Load() > 0 {
		d.fails.Add(-1)
		return nil, errors.New("dial failed")
	}

	d.mu.Lock()
	n := len(d.conns)
	gate := d.gate
	d.mu.Unlock()
	if gate != nil && n >= d.free {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	conn := &stubConn{id: len(d.conns)}
	conn.healthy.Store(true)
	d.conns = append(d.conns, conn)
	d.voices = append(d.voices, voice)
	return conn, nil
}

func (d *stubDialer) dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *stubDialer) closedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	closed := 0
	for _, conn := range d.conns {
		if conn.closed.Load() {
			closed++
		}
	}
	return closed
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPoolFillsToTarget(t *testing.T) {
	dialer := &stubDialer{}
	p := New(context.Background(), dialer, texttospeech.DefaultVoiceConfig(), WithTargetIdle(2))
	defer p.Close()

	waitFor(t, "two idle connections", func() bool { return p.Stats().Idle == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := dialer.dialed(); got != 2 {
		t.Fatalf("expected exactly 2 dials, got %d", got)
	}
}

func TestConcurrentAcquireLeasesIdleThenDialsFresh(t *testing.T) {
	dialer := &stubDialer{free: 2}
	p := New(context.Background(), dialer, texttospeech.DefaultVoiceConfig(),
		WithTargetIdle(2), WithMaxOutstanding(4))
	defer p.Close()
	waitFor(t, "two idle connections", func() bool { return p.Stats().Idle == 2 })

	// Hold back refills and cold dials so the warm leases are observable.
	dialer.mu.Lock()
	dialer.gate = make(chan struct{})
	dialer.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	leases := make(chan *Lease, 3)
	for range 3 {
		go func() {
			lease, err := p.Acquire(ctx, texttospeech.DefaultVoiceConfig())
			if err != nil {
				t.Errorf("acquire failed: %v", err)
			}
			leases <- lease
		}()
	}

	var got []*Lease
	for range 2 {
		got = append(got, <-leases)
	}
	for _, lease := range got {
		if lease.Source() != SourceWarm {
			t.Fatalf("expected first two leases to be warm, got %q", lease.Source())
		}
	}

	close(dialer.gate)
	third := <-leases
	if third.Source() != SourceCold {
		t.Fatalf("expected third lease to be dialed fresh, got %q", third.Source())
	}
	got = append(got, third)

	seen := map[texttospeech.SpeechConnection]bool{}
	for _, lease := range got {
		if seen[lease.Conn()] {
			t.Fatalf("connection leased twice")
		}
		seen[lease.Conn()] = true
	}

	for _, lease := range got {
		p.Release(lease)
	}
	waitFor(t, "idle back at target", func() bool {
		stats := p.Stats()
		return stats.Idle == 2 && stats.Leased == 0
	})
}

func TestAcquireBlocksAtMaxOutstanding(t *testing.T) {
	dialer := &stubDialer{}
	p := New(context.Background(), dialer, texttospeech.DefaultVoiceConfig(),
		WithTargetIdle(0), WithMaxOutstanding(2))
	defer p.Close()

	first, err := p.Acquire(context.Background(), texttospeech.DefaultVoiceConfig())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if _, err := p.Acquire(context.Background(), texttospeech.DefaultVoiceConfig()); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx, texttospeech.DefaultVoiceConfig()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected acquire over the cap to wait for the deadline, got %v", err)
	}
	if leased := p.Stats().Leased; leased != 2 {
		t.Fatalf("expected 2 leased connections, got %d", leased)
	}

	p.Release(first)
	third, err := p.Acquire(context.Background(), texttospeech.DefaultVoiceConfig())
	if err != nil {
		t.Fatalf("expected acquire to succeed after release, got %v", err)
	}
	p.Release(third)
}

func TestReleaseDispositions(t *testing.T) {
	testCases := []struct {
		name     string
		healthy  bool
		expected Disposition
	}{
		{name: "healthy returns to idle", healthy: true, expected: ReleasedIdle},
		{name: "unhealthy is discarded", healthy: false, expected: ReleasedDiscarded},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			dialer := &stubDialer{}
			p := New(context.Background(), dialer, texttospeech.DefaultVoiceConfig(), WithTargetIdle(1))
			defer p.Close()
			waitFor(t, "one idle connection", func() bool { return p.Stats().Idle == 1 })

			lease, err := p.Acquire(context.Background(), texttospeech.DefaultVoiceConfig())
			if err != nil {
				t.Fatalf("acquire failed: %v", err)
			}
			// Let the refill triggered by the acquire settle first.
			waitFor(t, "refill", func() bool { return p.Stats().Idle == 1 })
			p.mu.Lock()
			p.idle = nil
			p.mu.Unlock()

			conn := lease.Conn().(*stubConn)
			conn.healthy.Store(testCase.healthy)

			if got := p.Release(lease); got != testCase.expected {
				t.Fatalf("expected disposition %v, got %v", testCase.expected, got)
			}
			if got := p.Release(lease); got != ReleasedAlready {
				t.Fatalf("expected second release to be a no-op, got %v", got)
			}
			if closed := conn.closed.Load(); closed != (testCase.expected == ReleasedDiscarded) {
				t.Fatalf("expected closed=%v, got %v", testCase.expected == ReleasedDiscarded, closed)
			}
		})
	}
}

func TestReleaseOverTargetIsEvicted(t *testing.T) {
	dialer := &stubDialer{}
	p := New(context.Background(), dialer, texttospeech.DefaultVoiceConfig(), WithTargetIdle(1))
	defer p.Close()
	waitFor(t, "one idle connection", func() bool { return p.Stats().Idle == 1 })

	lease, err := p.Acquire(context.Background(), texttospeech.DefaultVoiceConfig())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	waitFor(t, "refill", func() bool { return p.Stats().Idle == 1 })

	if got := p.Release(lease); got != ReleasedDiscarded {
		t.Fatalf("expected release over target to discard, got %v", got)
	}
	if idle := p.Stats().Idle; idle != 1 {
		t.Fatalf("expected idle to stay at target, got %d", idle)
	}
}

func TestNonDefaultVoiceBypassesPool(t *testing.T) {
	dialer := &stubDialer{}
	p := New(context.Background(), dialer, texttospeech.DefaultVoiceConfig(), WithTargetIdle(1))
	defer p.Close()
	waitFor(t, "one idle connection", func() bool { return p.Stats().Idle == 1 })

	voice := texttospeech.DefaultVoiceConfig()
	voice.VoiceID = "custom"
	lease, err := p.Acquire(context.Background(), voice)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if lease.Source() != SourceUnpooled {
		t.Fatalf("expected unpooled lease, got %q", lease.Source())
	}
	if stats := p.Stats(); stats.Idle != 1 || stats.Leased != 0 {
		t.Fatalf("expected pool untouched, got %+v", stats)
	}

	dialer.mu.Lock()
	lastVoice := dialer.voices[len(dialer.voices)-1]
	dialer.mu.Unlock()
	if lastVoice.VoiceID != "custom" {
		t.Fatalf("expected dial with requested voice, got %q", lastVoice.VoiceID)
	}

	if got := p.Release(lease); got != ReleasedDiscarded {
		t.Fatalf("expected unpooled connection to be discarded, got %v", got)
	}
}

func TestStaleIdleConnectionsAreReplaced(t *testing.T) {
	dialer := &stubDialer{}
	p := New(context.Background(), dialer, texttospeech.DefaultVoiceConfig(),
		WithTargetIdle(1), WithTTL(40*time.Millisecond))
	defer p.Close()

	waitFor(t, "replacement after ttl", func() bool { return dialer.dialed() >= 3 })
	if closed := dialer.closedCount(); closed < 2 {
		t.Fatalf("expected stale connections to be closed, got %d closed", closed)
	}
}

func TestRefillRetriesAfterDialFailure(t *testing.T) {
	dialer := &stubDialer{}
	dialer.fails.Store(2)
	p := New(context.Background(), dialer, texttospeech.DefaultVoiceConfig(),
		WithTargetIdle(1), WithRetryInterval(5*time.Millisecond))
	defer p.Close()

	waitFor(t, "idle connection after retries", func() bool { return p.Stats().Idle == 1 })
}

func TestClosedPoolRejectsAcquire(t *testing.T) {
	dialer := &stubDialer{}
	p := New(context.Background(), dialer, texttospeech.DefaultVoiceConfig(), WithTargetIdle(1))
	waitFor(t, "one idle connection", func() bool { return p.Stats().Idle == 1 })

	if err := p.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if _, err := p.Acquire(context.Background(), texttospeech.DefaultVoiceConfig()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if closed := dialer.closedCount(); closed != dialer.dialed() {
		t.Fatalf("expected every idle connection closed, %d of %d", closed, dialer.dialed())
	}
}
