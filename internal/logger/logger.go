package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLevel = slog.LevelInfo
	levelMutex  sync.RWMutex
)

// JSONParsingWriter wraps an io.Writer and converts JSON log lines into the
// bracketed text format. sipgo logs through zerolog as JSON.
type JSONParsingWriter struct {
	base io.Writer
}

// NewJSONParsingWriter wraps w.
func NewJSONParsingWriter(w io.Writer) *JSONParsingWriter {
	return &JSONParsingWriter{base: w}
}

// Write implements io.Writer
func (w *JSONParsingWriter) Write(p []byte) (int, error) {
	trimmed := strings.TrimSpace(string(p))
	if !strings.HasPrefix(trimmed, "{") {
		return w.base.Write(p)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(trimmed), &entry); err != nil {
		return w.base.Write(p)
	}

	level := "info"
	if lv, ok := entry["level"]; ok {
		level = fmt.Sprint(lv)
	}
	message := "unknown"
	if msg, ok := entry["message"]; ok {
		message = fmt.Sprint(msg)
	}
	ts := time.Now()
	if t, ok := entry["time"]; ok {
		if parsed, err := time.Parse(time.RFC3339, fmt.Sprint(t)); err == nil {
			ts = parsed
		}
	}

	keys := make([]string, 0, len(entry))
	for k := range entry {
		switch k {
		case "level", "message", "time", "caller":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	attrs := make([]string, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, fmt.Sprintf("%s=%v", k, entry[k]))
	}

	if _, err := w.base.Write([]byte(format(ts, strings.ToUpper(level), message, attrs))); err != nil {
		return 0, err
	}
	// The reformatted line differs in length; report len(p) as consumed.
	return len(p), nil
}

func format(ts time.Time, level, message string, attrs []string) string {
	line := "[" + ts.Format("15:04:05") + "] [" + level + "] " + message
	if len(attrs) > 0 {
		line += " " + strings.Join(attrs, " ")
	}
	return line + "\n"
}

// SetLevel sets the global log level
func SetLevel(levelStr string) {
	level := ParseLevel(levelStr)
	levelMutex.Lock()
	defer levelMutex.Unlock()
	globalLevel = level
}

// GetLevel returns the current log level as a string
func GetLevel() string {
	levelMutex.RLock()
	defer levelMutex.RUnlock()

	switch globalLevel {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelInfo:
		return "info"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "debug"
	}
}

func currentLevel() slog.Level {
	levelMutex.RLock()
	defer levelMutex.RUnlock()
	return globalLevel
}

// ParseLevel parses a string to an slog level. Unknown strings give debug.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// output is one destination with its own minimum level.
type output struct {
	w     io.Writer
	level slog.Level
}

// sink serialises writes shared by a handler and its derived handlers.
type sink struct {
	mu   sync.Mutex
	outs []output
}

// Handler writes "[HH:MM:SS] [LEVEL] msg k=v" lines. Records are dropped
// below the global level, and each output may raise its own floor above it.
type Handler struct {
	sink   *sink
	attrs  []string
	prefix string // group prefix for attribute keys
}

// NewHandler creates a handler writing to every output at the global level.
func NewHandler(outputs ...io.Writer) *Handler {
	outs := make([]output, 0, len(outputs))
	for _, w := range outputs {
		if w != nil {
			outs = append(outs, output{w: w, level: slog.LevelDebug})
		}
	}
	return &Handler{sink: &sink{outs: outs}}
}

// NewMultiLevelHandler creates a handler with a minimum level per output.
func NewMultiLevelHandler(outputs map[io.Writer]slog.Level) *Handler {
	outs := make([]output, 0, len(outputs))
	for w, lvl := range outputs {
		if w != nil {
			outs = append(outs, output{w: w, level: lvl})
		}
	}
	return &Handler{sink: &sink{outs: outs}}
}

// Enabled implements slog.Handler
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	if level < currentLevel() {
		return false
	}
	for _, o := range h.sink.outs {
		if level >= o.level {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler
func (h *Handler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < currentLevel() {
		return nil
	}

	attrs := append([]string(nil), h.attrs...)
	record.Attrs(func(a slog.Attr) bool {
		attrs = appendAttr(attrs, h.prefix, a)
		return true
	})
	line := []byte(format(record.Time, strings.ToUpper(record.Level.String()), record.Message, attrs))

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	for _, o := range h.sink.outs {
		if record.Level >= o.level {
			_, _ = o.w.Write(line)
		}
	}
	return nil
}

// WithAttrs implements slog.Handler
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.attrs = append([]string(nil), h.attrs...)
	for _, a := range attrs {
		next.attrs = appendAttr(next.attrs, h.prefix, a)
	}
	return &next
}

// WithGroup implements slog.Handler
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func appendAttr(dst []string, prefix string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			dst = appendAttr(dst, p, ga)
		}
		return dst
	}
	return append(dst, prefix+a.Key+"="+a.Value.String())
}

// FileConfig configures a size-rotated log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewFileWriter returns a rotating writer for cfg.Path. The caller closes it.
func NewFileWriter(cfg FileConfig) io.WriteCloser {
	size := cfg.MaxSizeMB
	if size <= 0 {
		size = 100
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    size,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

// InitLogger installs a default logger writing to the outputs. Each output
// is wrapped so JSON lines written directly to it are reformatted too.
func InitLogger(outputs ...io.Writer) *slog.Logger {
	wrapped := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		wrapped = append(wrapped, NewJSONParsingWriter(out))
	}
	l := slog.New(NewHandler(wrapped...))
	slog.SetDefault(l)
	return l
}
