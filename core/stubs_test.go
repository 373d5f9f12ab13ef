package orchestration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NickTikhonov/shuo/core/audio"
	"github.com/NickTikhonov/shuo/core/llms"
	"github.com/NickTikhonov/shuo/core/speechtotext"
	"github.com/NickTikhonov/shuo/core/texttospeech"
	"github.com/NickTikhonov/shuo/core/texttospeech/pool"
)

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type transportStub struct {
	mu      sync.Mutex
	audio   []byte
	frames  int
	clears  int
	stopped int
}

func (s *transportStub) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

func (s *transportStub) SendAudio(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, audio...)
	s.frames++
	return nil
}

func (s *transportStub) ClearBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
}

func (s *transportStub) StopStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *transportStub) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *transportStub) counts() (audioBytes, clears, stopped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audio), s.clears, s.stopped
}

type contentChunk string

func (c contentChunk) FinishReason() *string { return nil }
func (c contentChunk) Content() string       { return string(c) }

// generatorStub streams chunks, then fails with err, blocks until
// cancelled when hang is set, or blocks on stuck ignoring cancellation.
type generatorStub struct {
	chunks []string
	err    error
	hang   bool
	stuck  chan struct{}

	mu      sync.Mutex
	prompts [][]llms.Turn
	started chan struct{}
}

func newGeneratorStub(chunks ...string) *generatorStub {
	return &generatorStub{chunks: chunks, started: make(chan struct{}, 16)}
}

func (g *generatorStub) PromptWithStream(_ context.Context, _ *string, opts ...llms.StreamingPromptOption) llms.Stream {
	options := llms.ApplyStreamingOptions(llms.StreamingPromptOptions{}, opts...)
	g.mu.Lock()
	g.prompts = append(g.prompts, options.Turns)
	g.mu.Unlock()
	return streamStub{generator: g}
}

func (g *generatorStub) lastPrompt() []llms.Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return nil
	}
	return g.prompts[len(g.prompts)-1]
}

type streamStub struct {
	generator *generatorStub
}

func (s streamStub) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	chunks, err, hang, stuck := s.generator.chunks, s.generator.err, s.generator.hang, s.generator.stuck
	return func(yield func(llms.StreamChunk, error) bool) {
		for _, chunk := range chunks {
			if !yield(contentChunk(chunk), nil) {
				return
			}
		}
		select {
		case s.generator.started <- struct{}{}:
		default:
		}
		if err != nil {
			yield(nil, err)
			return
		}
		if stuck != nil {
			<-stuck
			return
		}
		if hang {
			<-ctx.Done()
			yield(nil, ctx.Err())
		}
	}
}

// speechConnStub answers every text with bytesPerText bytes of audio once
// Finish is called.
type speechConnStub struct {
	bytesPerText int
	sendErr      error

	mu     sync.Mutex
	texts  []string
	used   bool
	closed bool
	audio  chan texttospeech.SpeechChunk
}

func newSpeechConnStub(bytesPerText int) *speechConnStub {
	return &speechConnStub{bytesPerText: bytesPerText, audio: make(chan texttospeech.SpeechChunk, 64)}
}

func (c *speechConnStub) SendText(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.used = true
	c.texts = append(c.texts, text)
	return nil
}

func (c *speechConnStub) Finish(context.Context) error {
	c.mu.Lock()
	count := len(c.texts)
	c.mu.Unlock()
	for range count {
		c.audio <- texttospeech.SpeechChunk{Audio: make([]byte, c.bytesPerText)}
	}
	c.audio <- texttospeech.SpeechChunk{Final: true}
	return nil
}

func (c *speechConnStub) Receive(ctx context.Context) (texttospeech.SpeechChunk, error) {
	select {
	case chunk := <-c.audio:
		return chunk, nil
	case <-ctx.Done():
		return texttospeech.SpeechChunk{}, ctx.Err()
	}
}

func (c *speechConnStub) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.used && !c.closed
}

func (c *speechConnStub) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *speechConnStub) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type dialerStub struct {
	bytesPerText int
	sendErr      error

	mu    sync.Mutex
	conns []*speechConnStub
}

func (d *dialerStub) Dial(context.Context, texttospeech.VoiceConfig) (texttospeech.SpeechConnection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := newSpeechConnStub(d.bytesPerText)
	conn.sendErr = d.sendErr
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *dialerStub) dialed() []*speechConnStub {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*speechConnStub(nil), d.conns...)
}

func newTestPool(t *testing.T, dialer *dialerStub) *pool.Pool {
	t.Helper()
	p := pool.New(context.Background(), dialer, texttospeech.DefaultVoiceConfig(), pool.WithTargetIdle(0))
	t.Cleanup(func() { _ = p.Close() })
	return p
}

type recognizerStub struct {
	mu            sync.Mutex
	options       speechtotext.TranscriptionOptions
	started       bool
	closed        bool
	audio         int
	transcribeErr error
	sendErr       error
}

func (r *recognizerStub) Transcribe(_ context.Context, opts ...speechtotext.TranscriptionOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transcribeErr != nil {
		return r.transcribeErr
	}
	for _, opt := range opts {
		opt(&r.options)
	}
	r.started = true
	return nil
}

func (r *recognizerStub) SendAudio(audio []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return errors.New("not started")
	}
	if r.sendErr != nil {
		return r.sendErr
	}
	r.audio += len(audio)
	return nil
}

func (r *recognizerStub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recognizerStub) failSends(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendErr = err
}

func (r *recognizerStub) state() (started, closed bool, audio int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started, r.closed, r.audio
}

func (r *recognizerStub) callbacks() speechtotext.TranscriptionOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.options
}
