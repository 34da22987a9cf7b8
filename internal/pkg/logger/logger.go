// Package logger emits structured JSON log lines. Contact email
// addresses are redacted by default so application logs stay free of
// PII even when callers log raw provider payloads.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes JSON entries to an output. Loggers derived with With
// share the parent's output and mutex, so lines never interleave.
type Logger struct {
	mu        *sync.Mutex
	out       io.Writer
	level     Level
	redact    bool
	component string
}

// New builds a logger writing to out at the given minimum level, with
// PII redaction on.
func New(out io.Writer, level Level) *Logger {
	return &Logger{mu: &sync.Mutex{}, out: out, level: level, redact: true}
}

var std = New(os.Stderr, LevelInfo)

// Setup reconfigures the package logger: minimum level, an optional log
// file (appended), and whether to keep writing to stderr. It is meant to
// be called once from main before anything logs.
func Setup(level Level, logFile string, console bool) error {
	var outs []io.Writer
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file %s: %w", logFile, err)
		}
		outs = append(outs, f)
	}
	if console || len(outs) == 0 {
		outs = append(outs, os.Stderr)
	}
	std.mu.Lock()
	defer std.mu.Unlock()
	std.level = level
	if len(outs) == 1 {
		std.out = outs[0]
	} else {
		std.out = io.MultiWriter(outs...)
	}
	return nil
}

// SetRedactPII toggles redaction on the package logger. Tests and local
// debugging turn it off; production keeps it on.
func SetRedactPII(on bool) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.redact = on
}

// With returns a logger that stamps every entry with a component name,
// e.g. "sender" or "webhook".
func With(component string) *Logger { return std.With(component) }

// With returns a child logger stamped with a component name.
func (l *Logger) With(component string) *Logger {
	child := *l
	child.component = component
	return &child
}

// Debug emits a DEBUG entry on the package logger.
func Debug(msg string, fields ...interface{}) { std.log(LevelDebug, msg, fields) }

// Info emits an INFO entry on the package logger.
func Info(msg string, fields ...interface{}) { std.log(LevelInfo, msg, fields) }

// Warn emits a WARN entry on the package logger.
func Warn(msg string, fields ...interface{}) { std.log(LevelWarn, msg, fields) }

// Error emits an ERROR entry on the package logger.
func Error(msg string, fields ...interface{}) { std.log(LevelError, msg, fields) }

// Debug emits a DEBUG entry.
func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(LevelDebug, msg, fields) }

// Info emits an INFO entry.
func (l *Logger) Info(msg string, fields ...interface{}) { l.log(LevelInfo, msg, fields) }

// Warn emits a WARN entry.
func (l *Logger) Warn(msg string, fields ...interface{}) { l.log(LevelWarn, msg, fields) }

// Error emits an ERROR entry.
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, fields []interface{}) {
	l.mu.Lock()
	gate, redact := l.level, l.redact
	l.mu.Unlock()
	if level < gate {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}
	if l.component != "" {
		entry["component"] = l.component
	}
	// Fields arrive as alternating key/value pairs. A dangling key is
	// dropped rather than guessed at.
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		entry[key] = renderValue(key, fields[i+1], redact)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"level":"ERROR","msg":"log entry not serializable: %v"}`, err))
	}
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

// renderValue keeps JSON-native types as they are and stringifies the
// rest. String values pass through redaction when it is on.
func renderValue(key string, v interface{}, redact bool) interface{} {
	switch tv := v.(type) {
	case nil, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return v
	case time.Time:
		return tv.UTC().Format(time.RFC3339)
	case error:
		s := tv.Error()
		if redact {
			s = redactValue(key, s)
		}
		return s
	case string:
		if redact {
			return redactValue(key, tv)
		}
		return tv
	default:
		s := fmt.Sprintf("%v", v)
		if redact {
			s = redactValue(key, s)
		}
		return s
	}
}
