package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var out []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line %q is not JSON: %v", line, err)
		}
		out = append(out, e)
	}
	return out
}

func TestLevelString(t *testing.T) {
	tests := map[Level]string{
		DebugLevel: "DEBUG",
		InfoLevel:  "INFO",
		WarnLevel:  "WARN",
		ErrorLevel: "ERROR",
		Level(42):  "UNKNOWN",
	}
	for level, want := range tests {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{" Info ", InfoLevel},
		{"", InfoLevel},
		{"warning", WarnLevel},
		{"WARN", WarnLevel},
		{"error", ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if err != nil {
			t.Errorf("ParseLevel(%q) failed: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}

	if level, err := ParseLevel("loud"); err == nil || level != InfoLevel {
		t.Errorf("ParseLevel(loud) = %v, %v; want INFO and an error", level, err)
	}
}

func TestJSONLogger_Filtering(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf, WarnLevel)

	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Level != "WARN" || entries[1].Level != "ERROR" {
		t.Errorf("levels = %s, %s", entries[0].Level, entries[1].Level)
	}
	if l.Enabled(InfoLevel) || !l.Enabled(ErrorLevel) {
		t.Error("Enabled disagrees with the configured level")
	}
}

func TestJSONLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf, DebugLevel)

	l.Info("run written", Run(0, 3), Count(11), Page(2), Bool("last", true))
	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Message != "run written" || e.Level != "INFO" {
		t.Errorf("entry = %+v", e)
	}
	if e.Fields["run"] != "0/3" || e.Fields["count"] != float64(11) || e.Fields["page"] != float64(2) || e.Fields["last"] != true {
		t.Errorf("fields = %v", e.Fields)
	}
	if _, err := time.Parse(time.RFC3339Nano, e.Time); err != nil {
		t.Errorf("time %q: %v", e.Time, err)
	}
}

func TestJSONLogger_NoFieldsOmitted(t *testing.T) {
	var buf bytes.Buffer
	NewJSONLogger(&buf, InfoLevel).Info("bare")

	var raw map[string]any
	if err := json.Unmarshal(buf.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["fields"]; ok {
		t.Error("fields key present on an entry without fields")
	}
}

func TestJSONLogger_WithInheritsLevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	parent := NewJSONLogger(&buf, InfoLevel)
	child := parent.With(Component("lsm"), File("Run_0_1"))
	grandchild := child.With(File("Summary_0_1_0"))

	child.Debug("hidden")
	child.Info("shown")
	grandchild.Info("override", File("Summary_0_1_1"))

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Fields["component"] != "lsm" || entries[0].Fields["file"] != "Run_0_1" {
		t.Errorf("child fields = %v", entries[0].Fields)
	}
	if entries[1].Fields["file"] != "Summary_0_1_1" || entries[1].Fields["component"] != "lsm" {
		t.Errorf("grandchild fields = %v", entries[1].Fields)
	}
}

func TestJSONLogger_WithDoesNotAlias(t *testing.T) {
	var buf bytes.Buffer
	base := NewJSONLogger(&buf, InfoLevel).With(String("a", "1"))
	left := base.With(String("side", "left"))
	_ = base.With(String("side", "right"))

	left.Info("x")
	entries := decodeLines(t, &buf)
	if entries[0].Fields["side"] != "left" {
		t.Errorf("side = %v, want left", entries[0].Fields["side"])
	}
}

func TestJSONLogger_ConcurrentChildren(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf, InfoLevel)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			child := l.With(Int("worker", i))
			for j := 0; j < 50; j++ {
				child.Info("tick", Int("j", j))
			}
		}(i)
	}
	wg.Wait()

	if got := len(decodeLines(t, &buf)); got != 400 {
		t.Errorf("got %d lines, want 400", got)
	}
}

func TestErrorField(t *testing.T) {
	if f := Error(errors.New("boom")); f.Key != "error" || f.Value != "boom" {
		t.Errorf("Error() = %+v", f)
	}
	if f := Error(nil); f.Value != nil {
		t.Errorf("Error(nil) = %+v", f)
	}
}

func TestRunFields(t *testing.T) {
	if f := Run(2, 17); f.Key != "run" || f.Value != "2/17" {
		t.Errorf("Run() = %+v, want {Key:run Value:2/17}", f)
	}
	if f := SummaryLevel(1); f.Key != "summary_level" || f.Value != 1 {
		t.Errorf("SummaryLevel() = %+v", f)
	}
	if f := Latency(1500 * time.Millisecond); f.Value != "1.5s" {
		t.Errorf("Latency() = %+v", f)
	}
}

func TestTimer(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf, InfoLevel)

	StartTimer(l, "run build", Run(1, 2)).Done(Count(5))
	StartTimer(l, "run build", Run(1, 3)).Fail(errors.New("disk full"))

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Level != "INFO" || entries[0].Message != "run build" || entries[0].Fields["count"] != float64(5) {
		t.Errorf("done entry = %+v", entries[0])
	}
	if _, ok := entries[0].Fields["latency"]; !ok {
		t.Error("done entry has no latency")
	}
	if entries[1].Level != "ERROR" || entries[1].Message != "run build failed" || entries[1].Fields["error"] != "disk full" {
		t.Errorf("fail entry = %+v", entries[1])
	}
}

func TestDefaultLogger(t *testing.T) {
	if DefaultLogger() == nil {
		t.Fatal("DefaultLogger() returned nil")
	}

	var buf bytes.Buffer
	SetDefaultLogger(NewJSONLogger(&buf, InfoLevel))
	DefaultLogger().With(String("service", "runstore")).Info("hello")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0].Fields["service"] != "runstore" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Info("ignored", Count(1))
	if l.With(Count(2)) == nil || l.Enabled(ErrorLevel) {
		t.Error("NopLogger should be enabled for nothing")
	}
}

func BenchmarkJSONLogger_Info(b *testing.B) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf, InfoLevel).With(Run(0, 1))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		l.Info("page read", Page(i), File("Run_0_1"))
	}
}
