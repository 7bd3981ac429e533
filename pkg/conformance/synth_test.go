package conformance

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegments_Properties(t *testing.T) {
	for _, n := range []int{2, 3, 7, 48, 100} {
		segs, err := Segments(10*time.Second, n, 48000)
		require.NoError(t, err)
		require.Len(t, segs, n)

		var frames int
		for i, s := range segs {
			assert.Equal(t, i, s.Index)
			if i > 0 {
				assert.Greater(t, s.Timestamp, segs[i-1].Timestamp, "n=%d i=%d", n, i)
			}
			assert.Equal(t, i != 0 && i != n-1, s.Silent, "n=%d i=%d", n, i)
			frames += s.Frames
		}
		assert.Zero(t, segs[0].Timestamp)
		// Per-segment rounding is at most half a frame.
		assert.InDelta(t, 480000, frames, float64(n), "n=%d", n)
	}
}

func TestSegments_CoreScenario(t *testing.T) {
	segs, err := Segments(10*time.Second, 100, 48000)
	require.NoError(t, err)
	assert.Equal(t, 4800, segs[0].Frames)
	assert.Equal(t, int64(100_000), segs[1].Timestamp)
	assert.Equal(t, int64(9_900_000), segs[99].Timestamp)
	assert.False(t, segs[99].Silent)
}

func TestSegments_SingleSegmentIsSignal(t *testing.T) {
	segs, err := Segments(time.Second, 1, 48000)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.False(t, segs[0].Silent, "the only segment is both first and last")
}

func TestSegments_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		total time.Duration
		count int
		rate  int
	}{
		{"zero duration", 0, 10, 48000},
		{"zero count", time.Second, 0, 48000},
		{"negative rate", time.Second, 10, -1},
		{"under one frame", time.Millisecond, 1000, 8000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Segments(tt.total, tt.count, tt.rate)
			assert.ErrorIs(t, err, ErrInvalidFrameSpec)
		})
	}
}

func TestSilentAudioData(t *testing.T) {
	d, err := SilentAudioData(500, 2, 48000, 480)
	require.NoError(t, err)
	assert.Equal(t, int64(500), d.Timestamp())
	assert.Equal(t, int64(10_000), d.Duration())

	samples, err := d.CopyInterleaved(nil)
	require.NoError(t, err)
	require.Len(t, samples, 960)
	for _, s := range samples {
		assert.Zero(t, s)
	}
}

func TestSineAudioData(t *testing.T) {
	d, err := SineAudioData(0, 2, 48000, 4800)
	require.NoError(t, err)

	samples, err := d.CopyInterleaved(nil)
	require.NoError(t, err)
	// Interleaved: even indices are channel 0 at 100Hz, odd are channel 1 at 150Hz.
	for _, i := range []int{1, 120, 333, 4799} {
		want0 := math.Sin(float64(i) / 48000 * 100 * 2 * math.Pi)
		want1 := math.Sin(float64(i) / 48000 * 150 * 2 * math.Pi)
		assert.InDelta(t, want0, samples[2*i], 1e-6)
		assert.InDelta(t, want1, samples[2*i+1], 1e-6)
	}
	assert.Zero(t, samples[0])
}

func TestFrameSpec_FailsFast(t *testing.T) {
	_, err := SilentAudioData(0, 0, 48000, 480)
	assert.ErrorIs(t, err, ErrInvalidFrameSpec)
	_, err = SineAudioData(0, 2, 48000, -1)
	assert.ErrorIs(t, err, ErrInvalidFrameSpec)
	_, err = Segment{Frames: 0, Silent: true}.Frame(2, 48000)
	assert.ErrorIs(t, err, ErrInvalidFrameSpec)
}
