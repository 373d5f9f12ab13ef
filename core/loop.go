package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NickTikhonov/shuo/core/events"
	"github.com/NickTikhonov/shuo/core/llms"
	"github.com/NickTikhonov/shuo/core/speechtotext"
	"github.com/NickTikhonov/shuo/internal/calltrace"
	"github.com/NickTikhonov/shuo/internal/metrics"
	"github.com/muesli/reflow/truncate"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrLoopClosed     = errors.New("event loop closed")
	ErrLoopStarted    = errors.New("event loop already started")
	errStreamEnded    = errors.New("stream ended")
	errMissingService = errors.New("event loop requires a recognizer, a generator and a speech pool")
)

// Loop is the single consumer of a call's events. Producers only ever call
// Push; all state changes happen on the goroutine running Run.
type Loop struct {
	transport    Transport
	call         CallConfig
	recognizer   speechtotext.Recognizer
	generator    llms.TextStreamer
	voices       SpeechPool
	agentOptions []AgentOption
	queueSize    int
	traceDir     string

	onTranscription        func(transcript string)
	onInterimTranscription func(transcript string)
	onPhaseChanged         func(from, to Phase)

	queue     chan events.Event
	closed    chan struct{}
	closeOnce sync.Once
	started   atomic.Bool
	trace     *calltrace.Trace

	mu    sync.RWMutex
	state ConversationState
	agent *Agent

	recognizing bool
	timer       *time.Timer
	endReason   string
}

func NewLoop(transport Transport, call CallConfig, opts ...LoopOption) *Loop {
	l := &Loop{
		transport: transport,
		call:      call,
		queueSize: DefaultEventQueueSize,
		closed:    make(chan struct{}),
		trace:     calltrace.New(),
		state:     NewConversationState(call),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.queue = make(chan events.Event, l.queueSize)
	return l
}

// Push enqueues an event. It is safe to call from any goroutine and fails
// with ErrLoopClosed once the loop has exited.
func (l *Loop) Push(event events.Event) error {
	select {
	case <-l.closed:
		return ErrLoopClosed
	default:
	}

	select {
	case l.queue <- event:
		return nil
	case <-l.closed:
		return ErrLoopClosed
	}
}

// Snapshot is a point-in-time view of the conversation.
type Snapshot struct {
	State   ConversationState
	History []llms.Turn
}

func (l *Loop) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snapshot := Snapshot{State: l.state}
	if l.agent != nil {
		snapshot.History = l.agent.History()
	}
	return snapshot
}

// Trace returns the latency trace of the call.
func (l *Loop) Trace() *calltrace.Trace {
	return l.trace
}

// Run processes events until the stream ends, ctx is cancelled or the
// transport or recognizer fails. It returns nil for an orderly end of call.
// Run may be called once.
func (l *Loop) Run(ctx context.Context) (err error) {
	if !l.started.CompareAndSwap(false, true) {
		return ErrLoopStarted
	}
	if l.recognizer == nil || l.generator == nil || l.voices == nil {
		l.close()
		return errMissingService
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx, span := tracer.Start(ctx, "call")
	defer span.End()

	metrics.CallsActive.Inc()
	defer metrics.CallsActive.Dec()

	agentOptions := append([]AgentOption{WithCallTrace(l.trace)}, l.agentOptions...)
	agent := NewAgent(ctx, l.generator, l.voices, l.transport, l.call, func(generation uint64) {
		if err := l.Push(events.NewAgentTurnDone(generation)); err != nil {
			logger.Debug("agent turn finished after the loop exited", "generation", generation)
		}
	}, agentOptions...)
	l.mu.Lock()
	l.agent = agent
	l.mu.Unlock()

	defer func() {
		if shutdownErr := l.shutdown(); shutdownErr != nil {
			logger.Warn("call shutdown incomplete", "error", shutdownErr)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("call.end_reason", l.endReason))
		metrics.CallsTotal.WithLabelValues(l.endReason).Inc()
	}()

	for {
		select {
		case <-ctx.Done():
			l.endReason = "cancelled"
			return ctx.Err()

		case event := <-l.queue:
			err := l.handle(ctx, event)
			if errors.Is(err, errStreamEnded) {
				return nil
			}
			if err != nil {
				if l.endReason == "" {
					l.endReason = "error"
				}
				return err
			}
		}
	}
}

func (l *Loop) handle(ctx context.Context, event events.Event) error {
	var terminal error

	switch e := event.(type) {
	case events.StreamStarted:
		if err := l.startCall(ctx, e); err != nil {
			return err
		}
	case events.StreamStopped:
		terminal = e.Err
		l.endReason = "hangup"
		if e.Err != nil {
			l.endReason = "error"
		}
	case events.MaxDurationExpired:
		l.endReason = "max_duration"
		logger.Info("maximum call duration reached", "max_duration", l.call.MaxDuration)
	case events.TurnEnded:
		logger.Info("caller turn ended", "transcript", truncate.StringWithTail(e.Transcript, logTextWidth, "..."))
		if l.onTranscription != nil {
			l.onTranscription(e.Transcript)
		}
	}

	l.mu.Lock()
	previous := l.state
	next, actions := Process(previous, event)
	l.state = next
	l.mu.Unlock()

	if previous.Phase != next.Phase {
		logger.Debug("phase changed",
			"from", previous.Phase.String(),
			"to", next.Phase.String(),
			"event", string(event.Kind()),
			"generation", next.Generation)
		if l.onPhaseChanged != nil {
			l.onPhaseChanged(previous.Phase, next.Phase)
		}
	}

	for _, action := range actions {
		if err := l.dispatch(action); err != nil {
			if terminal != nil {
				return terminal
			}
			return err
		}
	}
	return nil
}

func (l *Loop) dispatch(action events.Action) error {
	switch a := action.(type) {
	case events.FeedRecognizer:
		if !l.recognizing {
			return nil
		}
		if err := l.recognizer.SendAudio(a.Audio); err != nil {
			l.endReason = "error"
			return fmt.Errorf("turn detection failed: %w", err)
		}
	case events.StartAgentTurn:
		l.agent.Start(a.Transcript, a.Generation)
	case events.SendFirstMessage:
		l.agent.SendFirstMessage(a.Text, a.Generation)
	case events.ResetAgentTurn:
		logger.Info("caller barged in, resetting agent turn", "generation", a.Generation)
		l.agent.Reset(a.Generation)
	case events.EndStream:
		return errStreamEnded
	default:
		logger.Warn("unknown action", "action", string(action.ActionKind()))
	}
	return nil
}

func (l *Loop) startCall(ctx context.Context, event events.StreamStarted) error {
	if l.recognizing {
		return nil
	}
	l.trace.SetCallID(event.CallID)
	logger.Info("call started", "call_id", event.CallID, "stream_id", event.StreamID)

	err := l.recognizer.Transcribe(ctx,
		speechtotext.WithEncodingInfo(l.transport.EncodingInfo()),
		speechtotext.WithSpeechStartedCallback(func() {
			_ = l.Push(events.NewTurnStarted())
		}),
		speechtotext.WithTranscriptionCallback(func(transcript string) {
			_ = l.Push(events.NewTurnEnded(transcript))
		}),
		speechtotext.WithInterimTranscriptionCallback(func(transcript string) {
			if l.onInterimTranscription != nil {
				l.onInterimTranscription(transcript)
			}
		}),
		speechtotext.WithErrorCallback(func(err error) {
			_ = l.Push(events.NewStreamStopped(fmt.Errorf("turn detection failed: %w", err)))
		}),
	)
	if err != nil {
		l.endReason = "error"
		return fmt.Errorf("failed to start turn detection: %w", err)
	}
	l.recognizing = true

	if l.call.MaxDuration > 0 {
		l.timer = time.AfterFunc(l.call.MaxDuration, func() {
			_ = l.Push(events.NewMaxDurationExpired())
		})
	}
	return nil
}

func (l *Loop) shutdown() error {
	l.close()

	var errs []error
	if l.timer != nil {
		l.timer.Stop()
	}
	if err := l.agent.Close(); err != nil {
		errs = append(errs, err)
	}
	if l.recognizing {
		if err := l.recognizer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close recognizer: %w", err))
		}
	}
	if err := l.transport.StopStream(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop stream: %w", err))
	}
	if l.traceDir != "" {
		if _, err := l.trace.Save(l.traceDir); err != nil {
			errs = append(errs, err)
		}
	}

	l.mu.Lock()
	l.state.Phase = PhaseEnded
	l.mu.Unlock()

	logger.Info("call ended", "reason", l.endReason, "turns", len(l.agent.History()))
	return errors.Join(errs...)
}

func (l *Loop) close() {
	l.closeOnce.Do(func() { close(l.closed) })
}
