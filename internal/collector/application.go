package collector

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"HouseholdTelemetryAPI/internal/models"
)

const DefaultRequestWindow = 1000

type requestSample struct {
	duration time.Duration
	failed   bool
}

// RequestTracker keeps running request counters and a sliding window of the
// most recent request latencies. Error rate and percentiles are computed over
// the window.
type RequestTracker struct {
	total  atomic.Uint64
	active atomic.Int64

	mu     sync.Mutex
	window []requestSample
	next   int
	filled bool

	now func() time.Time
}

func NewRequestTracker(windowSize int) *RequestTracker {
	if windowSize <= 0 {
		windowSize = DefaultRequestWindow
	}
	return &RequestTracker{
		window: make([]requestSample, windowSize),
		now:    time.Now,
	}
}

// Begin marks a request as in flight.
func (t *RequestTracker) Begin() {
	t.active.Add(1)
}

// Done completes a request started with Begin. Status codes >= 500 count as errors.
func (t *RequestTracker) Done(d time.Duration, status int) {
	t.active.Add(-1)
	t.total.Add(1)

	t.mu.Lock()
	t.window[t.next] = requestSample{duration: d, failed: status >= 500}
	t.next++
	if t.next == len(t.window) {
		t.next = 0
		t.filled = true
	}
	t.mu.Unlock()
}

func (t *RequestTracker) samples() []requestSample {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.next
	if t.filled {
		n = len(t.window)
	}
	out := make([]requestSample, n)
	copy(out, t.window[:n])
	return out
}

func (t *RequestTracker) Collect(ctx context.Context) (*models.ApplicationMetrics, error) {
	m := &models.ApplicationMetrics{
		RequestsTotal:  t.total.Load(),
		ActiveRequests: t.active.Load(),
		Timestamp:      t.now(),
	}

	samples := t.samples()
	if len(samples) == 0 {
		return m, nil
	}

	durations := make([]float64, len(samples))
	var sum float64
	failed := 0
	for i, s := range samples {
		ms := float64(s.duration) / float64(time.Millisecond)
		durations[i] = ms
		sum += ms
		if s.failed {
			failed++
		}
	}
	sort.Float64s(durations)

	m.ErrorRate = float64(failed) / float64(len(samples)) * 100
	m.AvgResponseTimeMs = sum / float64(len(samples))
	m.P95ResponseTimeMs = percentile(durations, 95)
	m.P99ResponseTimeMs = percentile(durations, 99)
	return m, nil
}

// percentile uses the nearest-rank method on an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
