package progress

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestMeterRateAndETA(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(2000)

	now = now.Add(1 * time.Second)
	m.Add(1000)

	stats := m.Snapshot()
	if stats.BytesDone != 1000 {
		t.Fatalf("expected bytes done 1000, got %d", stats.BytesDone)
	}
	if stats.RateBps < 900 || stats.RateBps > 1100 {
		t.Fatalf("expected rate around 1000 B/s, got %.2f", stats.RateBps)
	}
	if stats.ETA < 900*time.Millisecond || stats.ETA > 1100*time.Millisecond {
		t.Fatalf("expected ETA around 1s, got %s", stats.ETA)
	}
}

func TestMeterEWMASmoothing(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(10000)

	now = now.Add(1 * time.Second)
	m.Add(1000)

	now = now.Add(1 * time.Second)
	m.Add(3000)

	stats := m.Snapshot()
	if stats.RateBps < 1300 || stats.RateBps > 1500 {
		t.Fatalf("expected smoothed rate around 1400 B/s, got %.2f", stats.RateBps)
	}
}

func TestMeterNoRateNoETA(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(func() time.Time { return now })
	m.Start(1000)

	stats := m.Snapshot()
	if stats.RateBps != 0 {
		t.Fatalf("expected rate 0, got %.2f", stats.RateBps)
	}
	if stats.ETA != 0 {
		t.Fatalf("expected ETA 0, got %s", stats.ETA)
	}
}

// syncBuffer lets the report goroutine and the test goroutine touch
// the same buffer without a race.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestMeterReportEmitsOnTenthChunk(t *testing.T) {
	m := NewMeter()
	m.Start(1000)

	var buf syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := m.Report(ctx, &buf)
	defer stop()

	for i := 0; i < 9; i++ {
		m.Add(50)
	}
	time.Sleep(20 * time.Millisecond)
	if out := buf.String(); out != "" {
		t.Fatalf("expected no progress line before the 10th chunk, got %q", out)
	}

	m.Add(50) // 10th chunk, done=500/1000
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(buf.String(), "%") {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	stop()

	out := buf.String()
	if !strings.Contains(out, "50.0%") {
		t.Fatalf("expected a line reporting 50.0%%, got %q", out)
	}
}

func TestMeterReportEmitsOnCompletionBeforeTenthChunk(t *testing.T) {
	m := NewMeter()
	m.Start(300)

	var buf syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := m.Report(ctx, &buf)
	defer stop()

	m.Add(100)
	m.Add(100)
	m.Add(100) // reaches Total after only 3 chunks, short of reportEvery

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(buf.String(), "%") {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	stop()

	out := buf.String()
	if !strings.Contains(out, "100.0%") {
		t.Fatalf("expected a completion line reporting 100.0%%, got %q", out)
	}
}

func TestMeterReportStopsOnContextCancel(t *testing.T) {
	m := NewMeter()
	m.Start(1000)

	var buf syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	_ = m.Report(ctx, &buf)
	cancel()
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 10; i++ {
		m.Add(10)
	}
	time.Sleep(20 * time.Millisecond)
	if out := buf.String(); out != "" {
		t.Fatalf("expected no writes after context cancel, got %q", out)
	}
}

func TestFormatRate(t *testing.T) {
	cases := map[float64]string{
		0:                  "0 B/s",
		500:                "500 B/s",
		2048:               "2 KB/s",
		5 * 1024 * 1024:    "5.0 MB/s",
		3 * 1024 * 1024 * 1024: "3.00 GB/s",
	}
	for bps, want := range cases {
		if got := formatRate(bps); got != want {
			t.Errorf("formatRate(%v) = %q, want %q", bps, got, want)
		}
	}
}

func TestFormatETA(t *testing.T) {
	if got := formatETA(0); got != "--:--:--" {
		t.Errorf("expected --:--:-- for zero duration, got %q", got)
	}
	if got := formatETA(90 * time.Minute); got != "01:30:00" {
		t.Errorf("formatETA(90m) = %q, want 01:30:00", got)
	}
}
