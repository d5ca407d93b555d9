package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newBufferedLogger(level Level, format Format) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return &Logger{level: level, format: format, output: buf}, buf
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"ERROR":   LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestLevelString(t *testing.T) {
	cases := map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
		Level(99):  "UNKNOWN",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func TestLoggerTextFormatIncludesLevelAndMessage(t *testing.T) {
	l, buf := newBufferedLogger(LevelInfo, FormatText)
	l.Info("saved record id=%s", "a")

	out := buf.String()
	if !strings.Contains(out, "[INFO ]") {
		t.Errorf("expected level tag in output, got %q", out)
	}
	if !strings.Contains(out, "saved record id=a") {
		t.Errorf("expected formatted message in output, got %q", out)
	}
}

func TestLoggerJSONFormatIsValidJSON(t *testing.T) {
	l, buf := newBufferedLogger(LevelInfo, FormatJSON)
	l.Warn("decay removed %d records", 3)

	var entry logEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v (%q)", err, buf.String())
	}
	if entry.Level != "WARN" {
		t.Errorf("level = %q, want WARN", entry.Level)
	}
	if entry.Message != "decay removed 3 records" {
		t.Errorf("message = %q, want formatted args", entry.Message)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	l, buf := newBufferedLogger(LevelWarn, FormatText)
	l.Debug("should be suppressed")
	l.Info("should also be suppressed")
	if buf.Len() != 0 {
		t.Errorf("expected no output below threshold, got %q", buf.String())
	}

	l.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("expected warn message to pass the filter, got %q", buf.String())
	}
}

func TestLoggerErrorAlwaysPassesAnyThreshold(t *testing.T) {
	l, buf := newBufferedLogger(LevelError, FormatText)
	l.Error("consolidate failed: %v", "boom")
	if !strings.Contains(buf.String(), "consolidate failed: boom") {
		t.Errorf("expected error message, got %q", buf.String())
	}
}

func TestNewDefaultConfigWritesToStdout(t *testing.T) {
	l, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.output != os.Stdout {
		t.Error("expected default output to be stdout")
	}
	if l.level != LevelInfo || l.format != FormatText {
		t.Errorf("unexpected defaults: level=%v format=%v", l.level, l.format)
	}
}

func TestNewStderrOutput(t *testing.T) {
	l, err := New(Config{Level: "debug", Format: "text", Output: "stderr"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.output != os.Stderr {
		t.Error("expected stderr output")
	}
}

func TestNewFileOutputCreatesDirAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "store.log")

	l, err := New(Config{Level: "info", Format: "text", Output: "file", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	l.Info("hello")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected log file to exist: %v", err)
	}
}

func TestNewFileOutputRequiresPath(t *testing.T) {
	if _, err := New(Config{Output: "file"}); err == nil {
		t.Fatal("expected error when file output has no path")
	}
}

func TestCloseWithoutFileIsNoop(t *testing.T) {
	l, err := New(Config{Output: "stdout"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close on non-file logger should be a no-op, got %v", err)
	}
}
