package testutil

import (
	"sync"

	"cr-go/internal/cr"
)

// LogRecord is one message captured by RecordingLogger.
type LogRecord struct {
	Level string
	Msg   string
	Args  []any
}

// RecordingLogger keeps every record in memory. Safe for concurrent use.
type RecordingLogger struct {
	mu      *sync.Mutex
	records *[]LogRecord
	with    []any
}

func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{mu: &sync.Mutex{}, records: &[]LogRecord{}}
}

func (l *RecordingLogger) log(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := append(append([]any{}, l.with...), args...)
	*l.records = append(*l.records, LogRecord{Level: level, Msg: msg, Args: all})
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args) }

// With returns a logger sharing this one's records.
func (l *RecordingLogger) With(args ...any) cr.Logger {
	return &RecordingLogger{mu: l.mu, records: l.records, with: append(append([]any{}, l.with...), args...)}
}

// Records returns a copy of what has been logged at level ("" for all).
func (l *RecordingLogger) Records(level string) []LogRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []LogRecord
	for _, r := range *l.records {
		if level == "" || r.Level == level {
			out = append(out, r)
		}
	}
	return out
}

var _ cr.Logger = (*RecordingLogger)(nil)
