package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf, false)

	l.Info("Pipeline", "dropped %d", 1)
	l.Warn("Pipeline", "detect failed: %v", "timeout")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info line written at WARN level: %q", out)
	}
	if !strings.Contains(out, "[WARN] [Pipeline] detect failed: timeout") {
		t.Fatalf("missing warn line: %q", out)
	}
}

func TestLoggerSilent(t *testing.T) {
	var buf bytes.Buffer
	l := New(SILENT, &buf, false)
	l.Error("Main", "boom")
	if buf.Len() != 0 {
		t.Fatalf("silent logger wrote %q", buf.String())
	}
	if l.Enabled(ERROR) {
		t.Fatalf("silent logger reports ERROR enabled")
	}
}

func TestLoggerColor(t *testing.T) {
	var buf bytes.Buffer
	l := New(DEBUG, &buf, true)
	l.Debug("", "hello")
	if !strings.Contains(buf.String(), "\033[36m[DEBUG]\033[0m hello") {
		t.Fatalf("unexpected colored output: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"error":   ERROR,
		"none":    SILENT,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("ParseLevel(verbose) should fail")
	}
}

func TestSetDefaultRestores(t *testing.T) {
	var buf bytes.Buffer
	prev := SetDefault(New(INFO, &buf, false))
	Info("Main", "hello")
	SetDefault(prev)
	Info("Main", "after")

	if !strings.Contains(buf.String(), "[INFO] [Main] hello") {
		t.Fatalf("missing line: %q", buf.String())
	}
	if strings.Contains(buf.String(), "after") {
		t.Fatalf("restored logger still wrote to buffer: %q", buf.String())
	}
}
