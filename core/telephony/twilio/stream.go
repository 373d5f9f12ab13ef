package twilio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NickTikhonov/shuo/core/audio"
	"github.com/NickTikhonov/shuo/core/events"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const writeTimeout = 5 * time.Second

var ErrStreamNotStarted = errors.New("media stream not started")

// MediaStream is one bidirectional Twilio media stream. Receive turns
// inbound messages into conversation events, the remaining methods send
// audio and control messages back to the call.
type MediaStream struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	streamSID string
	callSID   string
	marks     map[string]func()

	closeOnce sync.Once
	closed    chan struct{}
}

func NewMediaStream(conn *websocket.Conn) *MediaStream {
	return &MediaStream{
		conn:   conn,
		marks:  map[string]func(){},
		closed: make(chan struct{}),
	}
}

// Receive reads the stream until it ends and pushes every event it
// produces. Exactly one StreamStopped is pushed before Receive returns; it
// carries the read error when the socket failed rather than stopping.
func (s *MediaStream) Receive(ctx context.Context, push func(events.Event)) error {
	ctx, span := tracer.Start(ctx, "receive media stream")
	defer span.End()

	err := s.receive(ctx, push)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	push(events.NewStreamStopped(err))
	return err
}

func (s *MediaStream) receive(ctx context.Context, push func(events.Event)) error {
	span := trace.SpanFromContext(ctx)
	stopOnCancel := context.AfterFunc(ctx, func() { _ = s.StopStream() })
	defer stopOnCancel()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("media stream read failed: %w", err)
		}

		msg, err := parseInboundMessage(data)
		if err != nil {
			logger.Warn("dropping malformed media stream message", "error", err)
			continue
		}

		switch msg.Event {
		case messageConnected:
			logger.Debug("media stream connected")

		case messageStart:
			s.mu.Lock()
			s.streamSID = msg.Start.StreamSID
			s.callSID = msg.Start.CallSID
			s.mu.Unlock()
			span.SetAttributes(
				attribute.String("call.sid", msg.Start.CallSID),
				attribute.String("stream.sid", msg.Start.StreamSID),
			)
			logger.Info("media stream started", "stream_sid", msg.Start.StreamSID, "call_sid", msg.Start.CallSID)
			push(events.NewStreamStarted(msg.Start.CallSID, msg.Start.StreamSID))

		case messageMedia:
			audio, err := msg.inboundAudio()
			if err != nil {
				logger.Warn("dropping media frame", "error", err)
				continue
			}
			if audio != nil {
				push(events.NewMediaReceived(audio))
			}

		case messageMark:
			if msg.Mark != nil {
				s.markPlayed(msg.Mark.Name)
			}

		case messageStop:
			logger.Info("media stream stopped", "stream_sid", msg.StreamSID)
			return nil
		}
	}
}

func (s *MediaStream) StreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

func (s *MediaStream) CallSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSID
}

func (s *MediaStream) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

// SendAudio sends one frame of mulaw audio to the caller.
func (s *MediaStream) SendAudio(audio []byte) error {
	streamSID := s.StreamSID()
	if streamSID == "" {
		return ErrStreamNotStarted
	}
	return s.write(newMediaMessage(streamSID, audio))
}

// ClearBuffer drops audio Twilio has buffered but not yet played.
func (s *MediaStream) ClearBuffer() {
	streamSID := s.StreamSID()
	if streamSID == "" {
		return
	}
	if err := s.write(newClearMessage(streamSID)); err != nil {
		logger.Warn("failed to clear media stream buffer", "error", err)
	}
}

// Mark asks Twilio to report when playback reaches this point. onPlayed is
// called from the receive loop.
func (s *MediaStream) Mark(name string, onPlayed func()) error {
	streamSID := s.StreamSID()
	if streamSID == "" {
		return ErrStreamNotStarted
	}
	if onPlayed != nil {
		s.mu.Lock()
		s.marks[name] = onPlayed
		s.mu.Unlock()
	}
	return s.write(newMarkMessage(streamSID, name))
}

func (s *MediaStream) markPlayed(name string) {
	s.mu.Lock()
	onPlayed, ok := s.marks[name]
	delete(s.marks, name)
	s.mu.Unlock()
	if ok {
		onPlayed()
	}
}

// StopStream closes the socket. With a <Connect><Stream> TwiML the call ends
// once the stream is gone.
func (s *MediaStream) StopStream() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *MediaStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *MediaStream) write(msg outboundMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.isClosed() {
		return fmt.Errorf("media stream closed")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write media stream message: %w", err)
	}
	return nil
}
