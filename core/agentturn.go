package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NickTikhonov/shuo/core/audio"
	"github.com/NickTikhonov/shuo/core/llms"
	"github.com/NickTikhonov/shuo/core/texttospeech"
	"github.com/NickTikhonov/shuo/internal/calltrace"
	"github.com/NickTikhonov/shuo/internal/metrics"
	"github.com/muesli/reflow/truncate"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const logTextWidth = 80

// Agent runs agent turns for one call and owns the conversation history.
// At most one turn is live at a time.
type Agent struct {
	ctx       context.Context
	generator llms.TextStreamer
	voices    SpeechPool
	transport Transport
	call      CallConfig
	history   *History
	trace     *calltrace.Trace
	onDone    func(generation uint64)

	resetGracePeriod time.Duration
	playbackInterval time.Duration
	onResponse       func(response string)
	onCancellation   func(generation uint64)

	mu     sync.Mutex
	live   *agentTurn
	closed bool
	turns  sync.WaitGroup
}

// NewAgent creates an agent whose turns run under ctx. onDone is called
// exactly once per started turn, from the turn's goroutine.
func NewAgent(
	ctx context.Context,
	generator llms.TextStreamer,
	voices SpeechPool,
	transport Transport,
	call CallConfig,
	onDone func(generation uint64),
	opts ...AgentOption,
) *Agent {
	a := &Agent{
		ctx:              ctx,
		generator:        generator,
		voices:           voices,
		transport:        transport,
		call:             call,
		history:          NewHistory(),
		onDone:           onDone,
		resetGracePeriod: DefaultResetGracePeriod,
		playbackInterval: audio.FrameDuration,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// History returns a copy of the conversation so far.
func (a *Agent) History() []llms.Turn {
	return a.history.Turns()
}

// Start records the transcript as a user turn and begins responding to it
// in the background.
func (a *Agent) Start(transcript string, generation uint64) {
	a.history.Append(llms.UserTurn(transcript))
	a.start(generation, transcript, nil)
}

// SendFirstMessage speaks text verbatim as an agent turn. It is added to the
// history as an assistant turn once it has been played in full.
func (a *Agent) SendFirstMessage(text string, generation uint64) {
	a.start(generation, "", &text)
}

func (a *Agent) start(generation uint64, transcript string, literal *string) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		logger.Warn("agent closed, not starting turn", "generation", generation)
		go a.onDone(generation)
		return
	}
	previous := a.live
	turn := newAgentTurn(a, generation, transcript, literal)
	a.live = turn
	a.turns.Add(1)
	a.mu.Unlock()

	if previous != nil && !previous.finished() {
		logger.Warn("starting turn while another is live", "generation", generation, "live_generation", previous.generation)
		a.reset(previous)
	}

	go func() {
		defer a.turns.Done()
		turn.run()
	}()
}

// Reset cancels the turn born with generation and clears the transport
// buffer. The transport is cleared exactly once even if the turn already
// finished or failed on its own.
func (a *Agent) Reset(generation uint64) {
	a.mu.Lock()
	turn := a.live
	a.mu.Unlock()

	if turn == nil || turn.generation != generation {
		a.transport.ClearBuffer()
		return
	}
	if a.reset(turn) {
		metrics.BargeInsTotal.Inc()
	}
}

func (a *Agent) reset(turn *agentTurn) bool {
	cancelled := turn.cancel()
	turn.clearTransport()
	if !cancelled {
		return false
	}

	if a.onCancellation != nil {
		a.onCancellation(turn.generation)
	}
	go a.watchReset(turn)
	return true
}

func (a *Agent) watchReset(turn *agentTurn) {
	timer := time.NewTimer(a.resetGracePeriod)
	defer timer.Stop()

	select {
	case <-turn.done:
	case <-timer.C:
		logger.Error("agent turn did not stop within the grace period",
			"generation", turn.generation,
			"grace_period", a.resetGracePeriod)
		metrics.LeakedTurnsTotal.Inc()
	}
}

// Close cancels the live turn and waits for running turns to finish, up to
// the reset grace period.
func (a *Agent) Close() error {
	a.mu.Lock()
	a.closed = true
	turn := a.live
	a.mu.Unlock()

	if turn != nil {
		turn.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.turns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(a.resetGracePeriod):
		metrics.LeakedTurnsTotal.Inc()
		return fmt.Errorf("agent turns still running after %s", a.resetGracePeriod)
	}
}

const (
	turnRunning int32 = iota
	turnCompleted
	turnCancelled
	turnFailed
)

// agentTurn is one generate, synthesize and play cycle.
type agentTurn struct {
	agent      *Agent
	generation uint64
	transcript string
	literal    *string
	history    []llms.Turn
	startedAt  time.Time
	record     *calltrace.TurnRecorder

	ctx        context.Context
	stop       context.CancelFunc
	state      atomic.Int32
	done       chan struct{}
	reportOnce sync.Once

	clearOnce  sync.Once
	firstText  sync.Once
	firstAudio sync.Once
	gotAudio atomic.Bool

	// spoken receives true once text reached synthesis, or false when the
	// response turned out empty.
	spoken      chan bool
	spokenOnce  sync.Once
	textToSpeak *textBuffer
	audioToPlay *player
}

func newAgentTurn(agent *Agent, generation uint64, transcript string, literal *string) *agentTurn {
	ctx, stop := context.WithCancel(agent.ctx)
	traceLabel := transcript
	if literal != nil {
		traceLabel = *literal
	}
	return &agentTurn{
		agent:       agent,
		generation:  generation,
		transcript:  transcript,
		literal:     literal,
		history:     agent.history.Turns(),
		startedAt:   time.Now(),
		record:      agent.trace.BeginTurn(generation, traceLabel),
		ctx:         ctx,
		stop:        stop,
		done:        make(chan struct{}),
		spoken:      make(chan bool, 1),
		textToSpeak: newTextBuffer(),
		audioToPlay: newPlayer(agent.transport, agent.playbackInterval),
	}
}

func (t *agentTurn) cancelled() bool {
	return t.state.Load() == turnCancelled
}

func (t *agentTurn) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// cancel stops the turn unless it already reached a terminal state. It
// reports whether this call cancelled it.
func (t *agentTurn) cancel() bool {
	if !t.state.CompareAndSwap(turnRunning, turnCancelled) {
		return false
	}
	t.stop()
	return true
}

// clearTransport halts the player before clearing, so no frame of this turn
// reaches the transport after the clear.
func (t *agentTurn) clearTransport() {
	t.clearOnce.Do(func() {
		t.audioToPlay.halt()
		t.agent.transport.ClearBuffer()
	})
}

func (t *agentTurn) run() {
	defer t.report()
	defer t.stop()

	ctx, span := tracer.Start(t.ctx, "agent turn")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("agent_turn.generation", int64(t.generation)),
		attribute.Bool("agent_turn.first_message", t.literal != nil),
	)

	err := t.runPipeline(ctx)

	var outcome string
	switch {
	case err == nil && t.state.CompareAndSwap(turnRunning, turnCompleted):
		outcome = "completed"
		response := t.textToSpeak.String()
		if response != "" {
			t.agent.history.Append(llms.AssistantTurn(response))
			if t.agent.onResponse != nil {
				t.agent.onResponse(response)
			}
		}
		logger.Info("agent turn complete",
			"generation", t.generation,
			"elapsed", time.Since(t.startedAt),
			"response", truncate.StringWithTail(response, logTextWidth, "..."))

	case t.cancelled():
		outcome = "cancelled"
		t.record.Cancel()
		logger.Info("agent turn cancelled, history preserved",
			"generation", t.generation,
			"elapsed", time.Since(t.startedAt))

	default:
		if err == nil {
			err = errors.New("agent turn ended in an unexpected state")
		}
		t.state.CompareAndSwap(turnRunning, turnFailed)
		outcome = "failed"
		t.record.Cancel()
		t.clearTransport()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("agent turn failed", "generation", t.generation, "error", err)
	}
	span.SetAttributes(attribute.String("agent_turn.outcome", outcome))
	metrics.TurnsTotal.WithLabelValues(outcome).Inc()
}

func (t *agentTurn) report() {
	t.reportOnce.Do(func() {
		close(t.done)
		t.agent.onDone(t.generation)
	})
}

func (t *agentTurn) runPipeline(ctx context.Context) error {
	t.record.Begin(calltrace.SpanPool)
	lease, err := t.agent.voices.Acquire(ctx, t.agent.call.Voice)
	t.record.End(calltrace.SpanPool)
	if err != nil {
		return fmt.Errorf("failed to acquire synthesis connection: %w", err)
	}
	defer func() {
		disposition := t.agent.voices.Release(lease)
		logger.Debug("synthesis connection released",
			"generation", t.generation,
			"source", lease.Source(),
			"disposition", disposition)
	}()
	conn := lease.Conn()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.generate(ctx) })
	g.Go(func() error { return t.synthesize(ctx, conn) })
	g.Go(func() error { return t.receive(ctx, conn) })
	g.Go(func() error {
		if err := t.audioToPlay.Run(ctx); err != nil {
			return err
		}
		t.record.End(calltrace.SpanPlayer)
		t.markPlayback()
		return nil
	})
	return g.Wait()
}

// markPlayback asks the transport to report when the caller has heard the
// whole response.
func (t *agentTurn) markPlayback() {
	marker, ok := t.agent.transport.(playbackMarker)
	if !ok || !t.gotAudio.Load() {
		return
	}
	err := marker.Mark(fmt.Sprintf("turn-%d", t.generation), func() {
		t.record.Mark(calltrace.MarkPlaybackHeard)
		logger.Debug("caller heard agent turn",
			"generation", t.generation,
			"elapsed", time.Since(t.startedAt))
	})
	if err != nil {
		logger.Warn("failed to mark end of playback", "generation", t.generation, "error", err)
	}
}

// generate fills the text buffer from the model, or with the literal text of
// a first message.
func (t *agentTurn) generate(ctx context.Context) error {
	defer t.textToSpeak.Complete()

	if t.literal != nil {
		t.onText()
		t.textToSpeak.AddChunk(*t.literal)
		return nil
	}

	ctx, span := tracer.Start(ctx, "generate response")
	defer span.End()

	t.record.Begin(calltrace.SpanLLM)
	defer t.record.End(calltrace.SpanLLM)

	stream := t.agent.generator.PromptWithStream(ctx, nil,
		llms.WithSystemPrompt(t.agent.call.SystemPrompt),
		llms.WithTurns(t.history...),
	)
	for chunk, err := range stream.Chunks(ctx) {
		if t.cancelled() {
			return context.Canceled
		}
		if err != nil {
			err = fmt.Errorf("failed to generate response: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		switch chunk := chunk.(type) {
		case llms.StreamContentChunk:
			if chunk.Content() == "" {
				continue
			}
			t.onText()
			t.textToSpeak.AddChunk(chunk.Content())
		case llms.StreamUsageChunk:
			usage := chunk.Usage()
			span.SetAttributes(
				attribute.Int("llm.input_tokens", usage.InputTokens),
				attribute.Int("llm.output_tokens", usage.OutputTokens),
			)
		}
	}
	return ctx.Err()
}

func (t *agentTurn) onText() {
	t.firstText.Do(func() {
		elapsed := time.Since(t.startedAt)
		t.record.Mark(calltrace.MarkLLMFirstToken)
		t.record.Begin(calltrace.SpanTTS)
		if t.literal == nil {
			metrics.LLMFirstToken.Observe(elapsed.Seconds())
		}
		logger.Debug("first response text", "generation", t.generation, "elapsed", elapsed)
	})
}

// synthesize forwards text to the synthesis connection as it arrives and
// flushes once the text is complete.
func (t *agentTurn) synthesize(ctx context.Context, conn texttospeech.SpeechConnection) error {
	sent := false
	defer func() {
		if !sent {
			t.spokenOnce.Do(func() { t.spoken <- false })
		}
	}()

	for chunk := range t.textToSpeak.Chunks(ctx) {
		if t.cancelled() {
			return context.Canceled
		}
		if err := conn.SendText(ctx, chunk); err != nil {
			return fmt.Errorf("failed to send text to synthesis: %w", err)
		}
		if !sent {
			sent = true
			t.spokenOnce.Do(func() { t.spoken <- true })
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !sent {
		return nil
	}
	if err := conn.Finish(ctx); err != nil {
		return fmt.Errorf("failed to flush synthesis: %w", err)
	}
	return nil
}

// receive moves synthesized audio to the player until the final chunk.
func (t *agentTurn) receive(ctx context.Context, conn texttospeech.SpeechConnection) error {
	defer t.audioToPlay.CloseInput()

	select {
	case spoken := <-t.spoken:
		if !spoken {
			return nil
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		chunk, err := conn.Receive(ctx)
		if err != nil {
			return fmt.Errorf("failed to receive synthesized audio: %w", err)
		}
		if t.cancelled() {
			return context.Canceled
		}
		if len(chunk.Audio) > 0 {
			t.firstAudio.Do(func() {
				elapsed := time.Since(t.startedAt)
				t.record.Mark(calltrace.MarkTTSFirstAudio)
				t.record.Begin(calltrace.SpanPlayer)
				metrics.TurnFirstAudio.Observe(elapsed.Seconds())
				t.gotAudio.Store(true)
				logger.Info("first audio", "generation", t.generation, "elapsed", elapsed)
			})
			t.audioToPlay.Write(chunk.Audio)
		}
		if chunk.Final {
			t.record.End(calltrace.SpanTTS)
			return nil
		}
	}
}
