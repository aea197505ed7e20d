// Package logging provides structured JSON logging for the TillPoint sync core.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is an ordered log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the level name as it appears in log output.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel parses a level name. Unknown names default to INFO.
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

// Logger writes structured JSON log entries, one object per line.
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	minLevel Level
}

var (
	globalMu sync.RWMutex
	global   *Logger
)

// Init replaces the global logger. Safe to call more than once; the last
// call wins (tests rely on this to capture output).
func Init(out io.Writer, minLevel Level) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = &Logger{out: out, minLevel: minLevel}
}

// Get returns the global logger, initializing a default one if needed.
func Get() *Logger {
	globalMu.RLock()
	l := global
	globalMu.RUnlock()
	if l != nil {
		return l
	}
	Init(os.Stdout, LevelInfo)
	return Get()
}

// Entry is the wire shape of one log line.
type Entry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Error     string                 `json:"error,omitempty"`
	Code      string                 `json:"code,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

func (l *Logger) log(level Level, message, code string, err error, context map[string]interface{}) {
	if level < l.minLevel {
		return
	}

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level.String(),
		Message:   message,
		Code:      code,
		Context:   context,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	data, jsonErr := json.Marshal(entry)
	if jsonErr != nil {
		// Last resort: the entry itself is unmarshalable.
		data = []byte(fmt.Sprintf(`{"level":"ERROR","message":"unmarshalable log entry: %v"}`, jsonErr))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(data))
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, context map[string]interface{}) {
	l.log(LevelDebug, message, "", nil, context)
}

// Info logs an info message.
func (l *Logger) Info(message string, context map[string]interface{}) {
	l.log(LevelInfo, message, "", nil, context)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, context map[string]interface{}) {
	l.log(LevelWarn, message, "", nil, context)
}

// Error logs an error message.
func (l *Logger) Error(message string, err error, context map[string]interface{}) {
	l.log(LevelError, message, "", err, context)
}

// ErrorWithCode logs an error message with a machine-readable error code.
func (l *Logger) ErrorWithCode(message, code string, err error, context map[string]interface{}) {
	l.log(LevelError, message, code, err, context)
}

// Convenience functions using the global logger.

func Debug(message string, context map[string]interface{}) { Get().Debug(message, context) }
func Info(message string, context map[string]interface{})  { Get().Info(message, context) }
func Warn(message string, context map[string]interface{})  { Get().Warn(message, context) }
func Error(message string, err error, context map[string]interface{}) {
	Get().Error(message, err, context)
}
func ErrorWithCode(message, code string, err error, context map[string]interface{}) {
	Get().ErrorWithCode(message, code, err, context)
}
