package logging

import (
	"bufio"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"testing"
)

// captureStdout redirects os.Stdout for the duration of fn and returns
// everything written to it. New writes directly to os.Stdout, so this
// is the only way to observe what it attaches to a record.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()
	w.Close()

	var out strings.Builder
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out.WriteString(scanner.Text())
		out.WriteByte('\n')
	}
	return out.String()
}

func TestNewTagsAppAndPid(t *testing.T) {
	out := captureStdout(t, func() {
		logger := New("relaybusd", "info")
		logger.Info("probe")
	})
	if !strings.Contains(out, "app=relaybusd") {
		t.Errorf("expected output to contain app=relaybusd, got %q", out)
	}
	if !strings.Contains(out, "pid="+strconv.Itoa(os.Getpid())) {
		t.Errorf("expected output to contain pid=%d, got %q", os.Getpid(), out)
	}
}

func TestNewAttachesConcerns(t *testing.T) {
	out := captureStdout(t, func() {
		logger := New("relaybus", "info", slog.Int("chunkSize", 1024), slog.String("userId", "alice"))
		logger.Info("probe")
	})
	if !strings.Contains(out, "chunkSize=1024") {
		t.Errorf("expected output to contain chunkSize=1024, got %q", out)
	}
	if !strings.Contains(out, "userId=alice") {
		t.Errorf("expected output to contain userId=alice, got %q", out)
	}
}

func TestNewWithoutConcernsOmitsNothingExtra(t *testing.T) {
	out := captureStdout(t, func() {
		logger := New("relaybus", "info")
		logger.Info("probe")
	})
	if strings.Contains(out, "chunkSize") {
		t.Errorf("expected no chunkSize attribute without concerns, got %q", out)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	out := captureStdout(t, func() {
		logger := New("relaybus", "warn")
		logger.Debug("should be filtered")
		logger.Warn("should appear")
	})
	if strings.Contains(out, "should be filtered") {
		t.Errorf("expected debug line to be filtered at warn level, got %q", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("expected warn line to appear, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
