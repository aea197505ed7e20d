package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{out: &buf, minLevel: LevelWarn}

	l.Debug("debug msg", nil)
	l.Info("info msg", nil)
	l.Warn("warn msg", nil)
	l.Error("error msg", errors.New("boom"), nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 entries, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"WARN"`) {
		t.Errorf("first entry should be WARN: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"boom"`) {
		t.Errorf("error entry should carry the error string: %s", lines[1])
	}
}

func TestEntryShape(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{out: &buf, minLevel: LevelDebug}

	l.ErrorWithCode("sync pass failed", "SYNC_FAILED", errors.New("timeout"),
		map[string]interface{}{"pending": 3})

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v", err)
	}
	if entry.Level != "ERROR" {
		t.Errorf("Level = %s, want ERROR", entry.Level)
	}
	if entry.Code != "SYNC_FAILED" {
		t.Errorf("Code = %s, want SYNC_FAILED", entry.Code)
	}
	if entry.Context["pending"] != float64(3) {
		t.Errorf("Context[pending] = %v, want 3", entry.Context["pending"])
	}
	if entry.Timestamp == "" {
		t.Error("Timestamp should be set")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"Warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
