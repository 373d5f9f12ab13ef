package telemetry

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const defaultValueWidth = 120

type ConsoleExporter struct {
	mu       sync.Mutex
	w        io.Writer
	minLevel log.Severity
	width    uint

	levelStyles map[string]lipgloss.Style
	timeStyle   lipgloss.Style
	keyStyle    lipgloss.Style
}

type ConsoleOption func(*ConsoleExporter)

// WithConsoleVerbose includes debug records.
func WithConsoleVerbose() ConsoleOption {
	return func(e *ConsoleExporter) { e.minLevel = log.SeverityDebug }
}

// WithConsoleValueWidth truncates attribute values wider than width.
func WithConsoleValueWidth(width uint) ConsoleOption {
	return func(e *ConsoleExporter) { e.width = width }
}

// NewConsoleExporter writes records as `[LEVEL hh:mm:ss] msg key=value`.
// Colors are used only when w is a terminal.
func NewConsoleExporter(w io.Writer, opts ...ConsoleOption) *ConsoleExporter {
	renderer := lipgloss.NewRenderer(w)
	exporter := &ConsoleExporter{
		w:        w,
		minLevel: log.SeverityInfo,
		width:    defaultValueWidth,
		levelStyles: map[string]lipgloss.Style{
			"DEBUG": renderer.NewStyle().Foreground(lipgloss.Color("8")),
			"INFO":  renderer.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
			"WARN":  renderer.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
			"ERROR": renderer.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		},
		timeStyle: renderer.NewStyle().Faint(true),
		keyStyle:  renderer.NewStyle().Foreground(lipgloss.Color("6")),
	}
	for _, opt := range opts {
		opt(exporter)
	}
	return exporter
}

func (e *ConsoleExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, record := range records {
		if record.Severity() != log.SeverityUndefined && record.Severity() < e.minLevel {
			continue
		}
		if _, err := io.WriteString(e.w, e.format(record)); err != nil {
			return err
		}
	}
	return nil
}

func (e *ConsoleExporter) format(record sdklog.Record) string {
	level := severityLabel(record.Severity())

	var b strings.Builder
	b.WriteString(e.levelStyles[level].Render("[" + level))
	b.WriteString(" ")
	b.WriteString(e.timeStyle.Render(record.Timestamp().Format("15:04:05")))
	b.WriteString(e.levelStyles[level].Render("]"))
	b.WriteString(" ")
	b.WriteString(record.Body().String())

	record.WalkAttributes(func(kv log.KeyValue) bool {
		b.WriteString(" ")
		b.WriteString(e.keyStyle.Render(kv.Key))
		b.WriteString("=")
		value := kv.Value.String()
		if e.width > 0 {
			value = truncate.StringWithTail(value, e.width, "…")
		}
		if strings.ContainsAny(value, " \t\n") {
			value = `"` + strings.ReplaceAll(value, "\n", `\n`) + `"`
		}
		b.WriteString(value)
		return true
	})

	b.WriteString("\n")
	return b.String()
}

func (e *ConsoleExporter) Shutdown(context.Context) error   { return nil }
func (e *ConsoleExporter) ForceFlush(context.Context) error { return nil }

func severityLabel(severity log.Severity) string {
	switch {
	case severity >= log.SeverityError1:
		return "ERROR"
	case severity >= log.SeverityWarn1:
		return "WARN"
	case severity >= log.SeverityInfo1, severity == log.SeverityUndefined:
		return "INFO"
	default:
		return "DEBUG"
	}
}
