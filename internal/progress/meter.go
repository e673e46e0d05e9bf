package progress

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Stats represents a point-in-time snapshot of progress.
type Stats struct {
	BytesDone int64
	Total     int64
	RateBps   float64
	ETA       time.Duration
	Percent   float64
	StartedAt time.Time
}

// reportEvery is how many completed chunks elapse between progress
// lines from Report, matching how often a chunked send is expected to
// surface human-readable progress.
const reportEvery = 10

// Meter tracks byte progress and computes a smoothed rate.
type Meter struct {
	mu         sync.Mutex
	total      int64
	done       int64
	startedAt  time.Time
	lastAt     time.Time
	lastDone   int64
	rateBps    float64
	alpha      float64
	now        func() time.Time
	chunkCount int

	// chunkTick is signalled by Add every reportEvery chunks and once
	// more on completion; Report's goroutine blocks on it instead of a
	// wall-clock ticker, so progress lines track chunk throughput
	// rather than elapsed time.
	chunkTick chan struct{}
}

// NewMeter returns a meter with a default smoothing factor.
func NewMeter() *Meter {
	return NewMeterWithNow(time.Now)
}

// NewMeterWithNow returns a meter with a custom time source (for tests).
func NewMeterWithNow(now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	return &Meter{alpha: 0.2, now: now, chunkTick: make(chan struct{}, 1)}
}

// Start initializes the meter with a total size.
func (m *Meter) Start(totalBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.now == nil {
		m.now = time.Now
	}
	m.total = totalBytes
	m.done = 0
	m.startedAt = m.now()
	m.lastAt = m.startedAt
	m.lastDone = 0
	m.rateBps = 0
	m.chunkCount = 0
}

// Add increments the completed byte count. A caller tracking per-chunk
// progress calls Add once per completed chunk; every reportEvery calls
// (and the call that reaches Total) wake a goroutine started by Report.
func (m *Meter) Add(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	if m.now == nil {
		m.now = time.Now
	}
	now := m.now()
	m.done += int64(n)
	deltaBytes := m.done - m.lastDone
	deltaTime := now.Sub(m.lastAt).Seconds()
	if deltaTime > 0 {
		inst := float64(deltaBytes) / deltaTime
		if m.rateBps == 0 {
			m.rateBps = inst
		} else {
			m.rateBps = m.alpha*inst + (1-m.alpha)*m.rateBps
		}
		m.lastAt = now
		m.lastDone = m.done
	}
	m.chunkCount++
	emit := m.chunkCount%reportEvery == 0 || (m.total > 0 && m.done >= m.total)
	m.mu.Unlock()

	if emit {
		m.signalTick()
	}
}

// signalTick wakes Report's goroutine if one is running; it never
// blocks, so a chunk that lands with no Report call in flight is a
// no-op.
func (m *Meter) signalTick() {
	select {
	case m.chunkTick <- struct{}{}:
	default:
	}
}

// Advance increments the completed byte count without affecting rate.
func (m *Meter) Advance(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done += int64(n)
	m.lastDone += int64(n)
}

// SetTotal updates the total bytes.
func (m *Meter) SetTotal(totalBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = totalBytes
}

// AddTotal increments the total byte count without affecting rate.
func (m *Meter) AddTotal(n int64) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total += n
}

// Snapshot returns a current snapshot of progress stats.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{
		BytesDone: m.done,
		Total:     m.total,
		RateBps:   m.rateBps,
		StartedAt: m.startedAt,
	}
	if m.total > 0 {
		stats.Percent = float64(m.done) / float64(m.total) * 100
	}
	if m.rateBps > 0 && m.total > m.done {
		remaining := float64(m.total - m.done)
		stats.ETA = time.Duration(remaining/m.rateBps) * time.Second
	}
	return stats
}

// Report starts a goroutine that writes one human-readable snapshot
// line to w every reportEvery completed chunks and once more on
// completion, until ctx is done or the returned stop func is called
// (whichever comes first; stop is safe to call more than once). A
// caller driving a chunked send typically passes termio.Stdout() as w,
// so the progress line is serialized with the caller's other termio
// output (log lines written straight to os.Stdout are not).
func (m *Meter) Report(ctx context.Context, w io.Writer) (stop func()) {
	stopCh := make(chan struct{})
	go func() {
		for {
			select {
			case <-m.chunkTick:
				s := m.Snapshot()
				fmt.Fprintf(w, "%.1f%%  %s  ETA %s\n", s.Percent, formatRate(s.RateBps), formatETA(s.ETA))
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(stopCh) }) }
}

// formatRate renders a byte rate in the largest unit that keeps the
// mantissa above 1, e.g. "3.00 GB/s" rather than "3072.00 MB/s".
func formatRate(bps float64) string {
	const (
		k = 1024
		mb = 1024 * k
		gb = 1024 * mb
	)
	switch {
	case bps >= gb:
		return fmt.Sprintf("%.2f GB/s", bps/gb)
	case bps >= mb:
		return fmt.Sprintf("%.1f MB/s", bps/mb)
	case bps >= k:
		return fmt.Sprintf("%.0f KB/s", bps/k)
	default:
		return fmt.Sprintf("%.0f B/s", bps)
	}
}

// formatETA renders a remaining duration as HH:MM:SS, or "--:--:--"
// when there's no rate to estimate from yet.
func formatETA(d time.Duration) string {
	if d <= 0 {
		return "--:--:--"
	}
	secs := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
