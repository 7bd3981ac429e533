package transport

import "time"

// DefaultRateWindow is the span RateWindow averages over when none is given.
const DefaultRateWindow = time.Second

type rateSample struct {
	at    time.Time
	bytes int64
}

// RateWindow measures a send bitrate over a sliding window of samples.
// It is not safe for concurrent use; streamStats guards it.
type RateWindow struct {
	span    time.Duration
	samples []rateSample
	bytes   int64
}

// NewRateWindow returns a window covering span, or DefaultRateWindow if span
// is not positive.
func NewRateWindow(span time.Duration) *RateWindow {
	if span <= 0 {
		span = DefaultRateWindow
	}
	return &RateWindow{
		span:    span,
		samples: make([]rateSample, 0, 64),
	}
}

// Add records n bytes sent at the given time.
func (r *RateWindow) Add(n int, at time.Time) {
	r.expire(at)
	r.samples = append(r.samples, rateSample{at: at, bytes: int64(n)})
	r.bytes += int64(n)
}

// Rate returns bits per second between the oldest and newest sample still in
// the window. The oldest sample marks the start of the interval, so its
// bytes are not counted. ok is false until two samples at least 1ms apart exist; a DTX
// gap longer than the span empties the window.
func (r *RateWindow) Rate(now time.Time) (bps int64, ok bool) {
	r.expire(now)
	if len(r.samples) < 2 {
		return 0, false
	}
	elapsed := r.samples[len(r.samples)-1].at.Sub(r.samples[0].at)
	if elapsed < time.Millisecond {
		return 0, false
	}
	return int64(float64((r.bytes-r.samples[0].bytes)*8) / elapsed.Seconds()), true
}

// Reset drops every sample but keeps the allocated capacity.
func (r *RateWindow) Reset() {
	r.samples = r.samples[:0]
	r.bytes = 0
}

func (r *RateWindow) expire(now time.Time) {
	cutoff := now.Add(-r.span)
	n := 0
	for _, s := range r.samples {
		if !s.at.Before(cutoff) {
			break
		}
		r.bytes -= s.bytes
		n++
	}
	if n > 0 {
		r.samples = r.samples[n:]
	}
}
