package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NickTikhonov/shuo/core/texttospeech"
	"github.com/gorilla/websocket"
)

var ErrConnectionClosed = errors.New("elevenlabs connection closed")

// connection is a single stream-input socket. Sending end of text makes the
// server close the stream once the final audio is delivered, so a connection
// that has carried an utterance is spent and reports itself unhealthy.
type connection struct {
	ws           *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration

	chunks    chan texttospeech.SpeechChunk
	closed    chan struct{}
	closeOnce sync.Once

	used     atomic.Bool
	finished atomic.Bool
	failed   atomic.Bool

	errMu   sync.Mutex
	readErr error
}

func newConnection(ws *websocket.Conn, writeTimeout time.Duration) *connection {
	return &connection{
		ws:           ws,
		writeTimeout: writeTimeout,
		chunks:       make(chan texttospeech.SpeechChunk, 256),
		closed:       make(chan struct{}),
	}
}

func (c *connection) SendText(ctx context.Context, text string) error {
	if c.finished.Load() {
		return fmt.Errorf("cannot send text after finish")
	}
	if text == "" {
		return nil
	}
	c.used.Store(true)
	return c.writeJSON(ctx, textMessage{Text: text, TryTriggerGeneration: true})
}

func (c *connection) Finish(ctx context.Context) error {
	if !c.finished.CompareAndSwap(false, true) {
		return nil
	}
	c.used.Store(true)
	if err := c.writeJSON(ctx, textMessage{Text: "", Flush: true}); err != nil {
		return err
	}
	// An empty text without flush is the end of stream marker.
	return c.writeJSON(ctx, textMessage{Text: ""})
}

func (c *connection) Receive(ctx context.Context) (texttospeech.SpeechChunk, error) {
	select {
	case <-ctx.Done():
		return texttospeech.SpeechChunk{}, ctx.Err()
	case chunk, ok := <-c.chunks:
		if !ok {
			return texttospeech.SpeechChunk{}, c.closeReason()
		}
		return chunk, nil
	}
}

func (c *connection) Healthy() bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	return !c.failed.Load() && !c.used.Load()
}

func (c *connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
	return nil
}

func (c *connection) readLoop() {
	defer close(c.chunks)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !c.isClosed() {
				logger.Warn("elevenlabs websocket read failed", "error", err)
				c.failed.Store(true)
			}
			c.setReadErr(err)
			_ = c.Close()
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("failed to unmarshal elevenlabs message", "error", err)
			continue
		}
		if msg.Error != "" || msg.Message != "" {
			logger.Error("elevenlabs error", "error", msg.Error, "message", msg.Message)
			c.failed.Store(true)
			continue
		}

		var audio []byte
		if msg.Audio != "" {
			if audio, err = decodeBase64Any(msg.Audio); err != nil {
				logger.Debug("invalid elevenlabs audio payload", "error", err)
				continue
			}
		}
		if len(audio) == 0 && !msg.IsFinal {
			continue
		}

		select {
		case c.chunks <- texttospeech.SpeechChunk{Audio: audio, Final: msg.IsFinal}:
		case <-c.closed:
			return
		}
	}
}

func (c *connection) writeJSON(ctx context.Context, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return ErrConnectionClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	} else {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteJSON(payload); err != nil {
		c.failed.Store(true)
		return fmt.Errorf("failed to write to elevenlabs: %w", err)
	}
	return nil
}

func (c *connection) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *connection) setReadErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil {
		c.readErr = err
	}
}

func (c *connection) closeReason() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil || websocket.IsCloseError(c.readErr, websocket.CloseNormalClosure) {
		return io.EOF
	}
	return fmt.Errorf("%w: %w", ErrConnectionClosed, c.readErr)
}

type serverMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func decodeBase64Any(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if out, err := base64.StdEncoding.DecodeString(s); err == nil {
		return out, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
