// Package calltrace records a per-call latency breakdown of every agent turn
// and persists it as JSON when the call ends.
package calltrace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

// Names of the spans and markers the agent records.
const (
	SpanPool   = "tts_pool"
	SpanLLM    = "llm"
	SpanTTS    = "tts"
	SpanPlayer = "player"

	MarkLLMFirstToken = "llm_first_token"
	MarkTTSFirstAudio = "tts_first_audio"
	MarkPlaybackHeard = "playback_heard"
)

var ErrNoTraces = errors.New("no call traces recorded")

// Span is a named time range within a turn. Times are milliseconds since the
// turn began.
type Span struct {
	Name    string   `json:"name"`
	StartMS float64  `json:"start_ms"`
	EndMS   *float64 `json:"end_ms"`
}

// Marker is a named point in time within a turn.
type Marker struct {
	Name   string  `json:"name"`
	TimeMS float64 `json:"time_ms"`
}

type Turn struct {
	ID         string   `json:"id"`
	Number     int      `json:"turn"`
	Generation uint64   `json:"generation"`
	Transcript string   `json:"transcript"`
	Cancelled  bool     `json:"cancelled"`
	Spans      []Span   `json:"spans"`
	Markers    []Marker `json:"markers"`

	start time.Time
}

type CallTrace struct {
	CallID string `json:"call_id"`
	Turns  []Turn `json:"turns"`
}

// Trace collects the turns of one call. A nil *Trace records nothing.
type Trace struct {
	mu     sync.Mutex
	callID string
	turns  []*Turn
	now    func() time.Time
}

func New() *Trace {
	return &Trace{now: time.Now}
}

func (t *Trace) SetCallID(callID string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.callID = callID
	t.mu.Unlock()
}

// BeginTurn starts recording a new turn.
func (t *Trace) BeginTurn(generation uint64, transcript string) *TurnRecorder {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	turn := &Turn{
		ID:         uuid.NewString(),
		Number:     len(t.turns) + 1,
		Generation: generation,
		Transcript: transcript,
		Spans:      []Span{},
		Markers:    []Marker{},
		start:      t.now(),
	}
	t.turns = append(t.turns, turn)
	return &TurnRecorder{trace: t, turn: turn}
}

// Snapshot returns a deep copy of everything recorded so far.
func (t *Trace) Snapshot() CallTrace {
	if t == nil {
		return CallTrace{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := CallTrace{CallID: t.callID, Turns: make([]Turn, 0, len(t.turns))}
	for _, turn := range t.turns {
		var copied Turn
		if err := copier.CopyWithOption(&copied, turn, copier.Option{DeepCopy: true}); err != nil {
			logger.Warn("failed to copy turn trace", "error", err, "turn", turn.Number)
			continue
		}
		snapshot.Turns = append(snapshot.Turns, copied)
	}
	return snapshot
}

// Save writes the trace to {dir}/{call id}.json and returns the path. Nothing
// is written for a call without turns.
func (t *Trace) Save(dir string) (string, error) {
	snapshot := t.Snapshot()
	if len(snapshot.Turns) == 0 {
		return "", nil
	}
	if snapshot.CallID == "" {
		snapshot.CallID = uuid.NewString()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create trace directory: %w", err)
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal call trace: %w", err)
	}
	path := filepath.Join(dir, snapshot.CallID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write call trace: %w", err)
	}
	logger.Info("call trace saved", "path", path, "turns", len(snapshot.Turns))
	return path, nil
}

// Latest returns the path of the most recently written trace in dir.
func Latest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNoTraces
		}
		return "", fmt.Errorf("failed to read trace directory: %w", err)
	}

	var (
		latest     string
		latestTime time.Time
	)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestTime) {
			latest = filepath.Join(dir, entry.Name())
			latestTime = info.ModTime()
		}
	}
	if latest == "" {
		return "", ErrNoTraces
	}
	return latest, nil
}

// TurnRecorder records spans and markers of one turn. A nil *TurnRecorder
// records nothing.
type TurnRecorder struct {
	trace *Trace
	turn  *Turn
}

func (r *TurnRecorder) elapsed() float64 {
	return float64(r.trace.now().Sub(r.turn.start).Microseconds()) / 1000
}

func (r *TurnRecorder) Begin(name string) {
	if r == nil {
		return
	}
	r.trace.mu.Lock()
	defer r.trace.mu.Unlock()
	r.turn.Spans = append(r.turn.Spans, Span{Name: name, StartMS: r.elapsed()})
}

// End closes the most recent open span with the given name.
func (r *TurnRecorder) End(name string) {
	if r == nil {
		return
	}
	r.trace.mu.Lock()
	defer r.trace.mu.Unlock()
	for i := len(r.turn.Spans) - 1; i >= 0; i-- {
		if r.turn.Spans[i].Name == name && r.turn.Spans[i].EndMS == nil {
			end := r.elapsed()
			r.turn.Spans[i].EndMS = &end
			return
		}
	}
}

func (r *TurnRecorder) Mark(name string) {
	if r == nil {
		return
	}
	r.trace.mu.Lock()
	defer r.trace.mu.Unlock()
	r.turn.Markers = append(r.turn.Markers, Marker{Name: name, TimeMS: r.elapsed()})
}

// Cancel flags the turn as cancelled and closes every open span.
func (r *TurnRecorder) Cancel() {
	if r == nil {
		return
	}
	r.trace.mu.Lock()
	defer r.trace.mu.Unlock()
	r.turn.Cancelled = true
	end := r.elapsed()
	for i := range r.turn.Spans {
		if r.turn.Spans[i].EndMS == nil {
			r.turn.Spans[i].EndMS = &end
		}
	}
}
