package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents log level
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelOrder = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a flag value into a Level
func ParseLevel(s string) (Level, error) {
	level := Level(s)
	if _, ok := levelOrder[level]; !ok {
		return LevelInfo, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
	}
	return level, nil
}

// Logger provides JSON Lines logging
type Logger struct {
	mu     sync.Mutex
	writer io.Writer
	level  Level
}

// NewLogger creates a new Logger
func NewLogger(writer io.Writer, level Level) *Logger {
	if writer == nil {
		writer = os.Stderr
	}
	return &Logger{
		writer: writer,
		level:  level,
	}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewLogger(io.Discard, LevelError)
}

// VerdictEvent represents one resolved package
type VerdictEvent struct {
	Timestamp string `json:"ts"`
	Level     string `json:"level"`
	Event     string `json:"event"`
	RunID     string `json:"run_id"`
	Name      string `json:"name"`
	Version   string `json:"version"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	Mode      string `json:"mode"`
	Elapsed   string `json:"elapsed"`
}

// LogVerdict logs a package verdict. Non-allow outcomes are logged at warn.
func (l *Logger) LogVerdict(runID, name, version, outcome, reason, mode string, elapsed time.Duration) {
	level := LevelInfo
	if outcome != "allow" {
		level = LevelWarn
	}
	if !l.shouldLog(level) {
		return
	}

	if version == "" {
		version = "unpinned"
	}

	l.writeJSON(VerdictEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     string(level),
		Event:     "verdict",
		RunID:     runID,
		Name:      name,
		Version:   version,
		Outcome:   outcome,
		Reason:    reason,
		Mode:      mode,
		Elapsed:   elapsed.String(),
	})
}

// GenericEvent represents a generic log event
type GenericEvent struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Log logs a generic event
func (l *Logger) Log(level Level, event, message string, data map[string]interface{}) {
	e := GenericEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     string(level),
		Event:     event,
		Message:   message,
		Data:      data,
	}

	l.writeJSON(e)
}

// Debug logs a debug event
func (l *Logger) Debug(event, message string, data map[string]interface{}) {
	if l.shouldLog(LevelDebug) {
		l.Log(LevelDebug, event, message, data)
	}
}

// Info logs an info event
func (l *Logger) Info(event, message string, data map[string]interface{}) {
	if l.shouldLog(LevelInfo) {
		l.Log(LevelInfo, event, message, data)
	}
}

// Warn logs a warning event
func (l *Logger) Warn(event, message string, data map[string]interface{}) {
	if l.shouldLog(LevelWarn) {
		l.Log(LevelWarn, event, message, data)
	}
}

// Error logs an error event
func (l *Logger) Error(event, message string, data map[string]interface{}) {
	if l.shouldLog(LevelError) {
		l.Log(LevelError, event, message, data)
	}
}

// writeJSON writes a JSON line to the output
func (l *Logger) writeJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		// Fallback to stderr if marshal fails
		os.Stderr.WriteString("Failed to marshal log: " + err.Error() + "\n")
		return
	}

	// verdicts are logged from concurrent lookups
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Write(append(data, '\n'))
}

// shouldLog checks if a log level should be logged
func (l *Logger) shouldLog(level Level) bool {
	if l == nil {
		return false
	}
	return levelOrder[level] >= levelOrder[l.level]
}
