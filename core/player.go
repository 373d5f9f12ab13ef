package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NickTikhonov/shuo/core/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var errPlayerHalted = errors.New("player halted")

// player re-frames synthesized audio into fixed frames and sends them to the
// transport at playback speed, so the transport never holds more than a
// frame of audio that a barge-in would have to clear.
type player struct {
	transport Transport
	frameSize int
	interval  time.Duration

	mu      sync.Mutex
	pending []byte
	closed  bool
	updated chan struct{}

	// sendMu orders frame sends against halt.
	sendMu sync.Mutex
	halted bool
}

func newPlayer(transport Transport, interval time.Duration) *player {
	frameSize := transport.EncodingInfo().BytesFor(audio.FrameDuration)
	if frameSize <= 0 {
		frameSize = audio.GetDefaultEncodingInfo().BytesFor(audio.FrameDuration)
	}
	return &player{
		transport: transport,
		frameSize: frameSize,
		interval:  interval,
		updated:   make(chan struct{}, 1),
	}
}

// Write queues audio for playback.
func (p *player) Write(audio []byte) {
	if len(audio) == 0 {
		return
	}
	p.mu.Lock()
	p.pending = append(p.pending, audio...)
	p.mu.Unlock()
	p.signal()
}

// CloseInput marks that no more audio will be written. Run returns once the
// queue is drained.
func (p *player) CloseInput() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.signal()
}

// halt stops playback for good. A frame already being sent finishes before
// halt returns, and no frame is sent after it.
func (p *player) halt() {
	p.sendMu.Lock()
	p.halted = true
	p.sendMu.Unlock()
	p.signal()
}

// Run sends queued frames until the input is closed and drained or ctx is
// done.
func (p *player) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "play synthesized audio")
	defer span.End()

	var (
		frames int
		next   time.Time
		timer  *time.Timer
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		span.SetAttributes(attribute.Int("player.frames", frames))
	}()

	for {
		frame, done := p.nextFrame()
		if done {
			return nil
		}
		if frame == nil {
			select {
			case <-p.updated:
				if p.isHalted() {
					return errPlayerHalted
				}
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if p.interval > 0 {
			now := time.Now()
			if next.Before(now) {
				next = now
			} else {
				if timer == nil {
					timer = time.NewTimer(next.Sub(now))
				} else {
					timer.Reset(next.Sub(now))
				}
				select {
				case <-timer.C:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			next = next.Add(p.interval)
		}

		if err := p.send(ctx, frame); err != nil {
			if errors.Is(err, errPlayerHalted) || ctx.Err() != nil {
				return err
			}
			err = fmt.Errorf("failed to send audio frame: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		frames++
	}
}

func (p *player) isHalted() bool {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.halted
}

func (p *player) send(ctx context.Context, frame []byte) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if p.halted {
		return errPlayerHalted
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.transport.SendAudio(frame)
}

// nextFrame pops one frame. A short final frame is returned once the input
// is closed. done is set when nothing is left to play.
func (p *player) nextFrame() (frame []byte, done bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case len(p.pending) >= p.frameSize:
		frame = p.pending[:p.frameSize:p.frameSize]
		p.pending = p.pending[p.frameSize:]
		return frame, false
	case p.closed && len(p.pending) > 0:
		frame = p.pending
		p.pending = nil
		return frame, false
	case p.closed:
		return nil, true
	}
	return nil, false
}

func (p *player) signal() {
	select {
	case p.updated <- struct{}{}:
	default:
	}
}
