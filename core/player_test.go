package orchestration

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPlayerReframesAudio(t *testing.T) {
	transport := &transportStub{}
	p := newPlayer(transport, 0)

	p.Write(make([]byte, 100))
	p.Write(make([]byte, 300))
	p.CloseInput()

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	audioBytes, _, _ := transport.counts()
	if audioBytes != 400 {
		t.Fatalf("expected 400 bytes, got %d", audioBytes)
	}
	if frames := transport.frameCount(); frames != 3 {
		t.Fatalf("expected two full frames and a short one, got %d frames", frames)
	}
}

func TestPlayerPacesFrames(t *testing.T) {
	transport := &transportStub{}
	interval := 10 * time.Millisecond
	p := newPlayer(transport, interval)

	p.Write(make([]byte, 160*5))
	p.CloseInput()

	start := time.Now()
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 4*interval {
		t.Fatalf("expected 5 frames to take at least %s, took %s", 4*interval, elapsed)
	}
}

func TestPlayerWaitsForAudioUntilClosed(t *testing.T) {
	transport := &transportStub{}
	p := newPlayer(transport, 0)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	p.Write(make([]byte, 160))
	waitFor(t, "first frame", func() bool { return transport.frameCount() == 1 })

	select {
	case <-done:
		t.Fatal("expected player to keep waiting for audio")
	case <-time.After(20 * time.Millisecond):
	}

	p.CloseInput()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("player did not finish after input closed")
	}
}

func TestPlayerStopsOnCancel(t *testing.T) {
	transport := &transportStub{}
	p := newPlayer(transport, time.Hour)
	p.Write(make([]byte, 160*3))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitFor(t, "first frame", func() bool { return transport.frameCount() == 1 })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected %v, got %v", context.Canceled, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("player did not stop after cancel")
	}
	if frames := transport.frameCount(); frames != 1 {
		t.Fatalf("expected no frames after cancel, got %d", frames)
	}
}

// blockingTransport holds each SendAudio until release is closed.
type blockingTransport struct {
	transportStub
	sending chan struct{}
	release chan struct{}
}

func (b *blockingTransport) SendAudio(audio []byte) error {
	b.sending <- struct{}{}
	<-b.release
	return b.transportStub.SendAudio(audio)
}

func TestPlayerHaltWaitsForInFlightFrame(t *testing.T) {
	transport := &blockingTransport{sending: make(chan struct{}, 4), release: make(chan struct{})}
	p := newPlayer(transport, 0)
	p.Write(make([]byte, 160*3))

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case <-transport.sending:
	case <-time.After(2 * time.Second):
		t.Fatal("first frame was never sent")
	}

	halted := make(chan struct{})
	go func() {
		p.halt()
		close(halted)
	}()

	select {
	case <-halted:
		t.Fatal("expected halt to wait for the frame being sent")
	case <-time.After(20 * time.Millisecond):
	}

	close(transport.release)
	select {
	case <-halted:
	case <-time.After(2 * time.Second):
		t.Fatal("halt did not return after the frame was sent")
	}
	sentBeforeHalt := transport.frameCount()

	select {
	case err := <-done:
		if !errors.Is(err, errPlayerHalted) {
			t.Fatalf("expected %v, got %v", errPlayerHalted, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("player did not stop after halt")
	}
	if frames := transport.frameCount(); frames != sentBeforeHalt {
		t.Fatalf("expected no frames after halt, got %d more", frames-sentBeforeHalt)
	}
}
