// Package logging is the JSON line logger shared by the run store packages.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// sink is shared by a logger and all of its children so that lines from
// different children never interleave.
type sink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *sink) write(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Write(append(data, '\n'))
}

// JSONLogger writes one JSON object per line.
type JSONLogger struct {
	out    *sink
	level  Level
	fields []Field
}

// NewJSONLogger creates a logger writing entries at level or above to w
func NewJSONLogger(w io.Writer, level Level) *JSONLogger {
	return &JSONLogger{out: &sink{w: w}, level: level}
}

func (l *JSONLogger) Enabled(level Level) bool {
	return level >= l.level
}

func (l *JSONLogger) log(level Level, msg string, fields []Field) {
	if !l.Enabled(level) {
		return
	}
	entry := LogEntry{
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Level:   level.String(),
		Message: msg,
	}
	if n := len(l.fields) + len(fields); n > 0 {
		entry.Fields = make(map[string]any, n)
		for _, f := range l.fields {
			entry.Fields[f.Key] = f.Value
		}
		// Per-call fields override the ones set with With
		for _, f := range fields {
			entry.Fields[f.Key] = f.Value
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		data = fmt.Appendf(nil, `{"level":"ERROR","msg":%q}`, "unencodable log entry: "+err.Error())
	}
	l.out.write(data)
}

func (l *JSONLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }
func (l *JSONLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields) }
func (l *JSONLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields) }
func (l *JSONLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

func (l *JSONLogger) With(fields ...Field) Logger {
	return &JSONLogger{
		out:    l.out,
		level:  l.level,
		fields: append(l.fields[:len(l.fields):len(l.fields)], fields...),
	}
}

var defaultLogger atomic.Pointer[Logger]

// DefaultLogger returns the process-wide logger. Until SetDefaultLogger is
// called it writes INFO and above to stderr.
func DefaultLogger() Logger {
	if l := defaultLogger.Load(); l != nil {
		return *l
	}
	var l Logger = NewJSONLogger(os.Stderr, InfoLevel)
	if defaultLogger.CompareAndSwap(nil, &l) {
		return l
	}
	return *defaultLogger.Load()
}

// SetDefaultLogger replaces the process-wide logger
func SetDefaultLogger(l Logger) {
	defaultLogger.Store(&l)
}

// Timer logs the outcome of an operation together with its latency.
type Timer struct {
	logger Logger
	msg    string
	start  time.Time
	fields []Field
}

func StartTimer(logger Logger, msg string, fields ...Field) *Timer {
	return &Timer{logger: logger, msg: msg, start: time.Now(), fields: fields}
}

// Elapsed returns the time since StartTimer
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Done logs the operation at INFO with any extra result fields
func (t *Timer) Done(fields ...Field) {
	t.logger.Info(t.msg, t.with(fields)...)
}

// Fail logs the operation at ERROR with err
func (t *Timer) Fail(err error) {
	t.logger.Error(t.msg+" failed", t.with([]Field{Error(err)})...)
}

func (t *Timer) with(extra []Field) []Field {
	out := make([]Field, 0, len(t.fields)+len(extra)+1)
	out = append(out, t.fields...)
	out = append(out, extra...)
	return append(out, Latency(t.Elapsed()))
}
