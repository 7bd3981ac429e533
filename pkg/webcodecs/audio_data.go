package webcodecs

import (
	"fmt"
	"sync"
)

// AudioDataInit holds the fields needed to construct an AudioData.
type AudioDataInit struct {
	Format           SampleFormat
	SampleRate       int
	NumberOfFrames   int
	NumberOfChannels int
	Timestamp        int64 // µs
	Data             []float32
}

// AudioData is a timestamped block of PCM samples. The sample buffer is owned
// by the AudioData until Close; callers must not reuse Data after that.
type AudioData struct {
	format     SampleFormat
	sampleRate int
	frames     int
	channels   int
	timestamp  int64

	mu     sync.Mutex
	data   []float32
	closed bool
}

// NewAudioData validates init and wraps its sample buffer without copying.
func NewAudioData(init AudioDataInit) (*AudioData, error) {
	if !init.Format.Valid() {
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidData, init.Format)
	}
	if init.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidData, init.SampleRate)
	}
	if init.NumberOfFrames <= 0 {
		return nil, fmt.Errorf("%w: frame count %d", ErrInvalidData, init.NumberOfFrames)
	}
	if init.NumberOfChannels <= 0 {
		return nil, fmt.Errorf("%w: channel count %d", ErrInvalidData, init.NumberOfChannels)
	}
	if want := init.NumberOfFrames * init.NumberOfChannels; len(init.Data) < want {
		return nil, fmt.Errorf("%w: %d samples, need %d", ErrInvalidData, len(init.Data), want)
	}
	return &AudioData{
		format:     init.Format,
		sampleRate: init.SampleRate,
		frames:     init.NumberOfFrames,
		channels:   init.NumberOfChannels,
		timestamp:  init.Timestamp,
		data:       init.Data[:init.NumberOfFrames*init.NumberOfChannels],
	}, nil
}

func (a *AudioData) Format() SampleFormat  { return a.format }
func (a *AudioData) SampleRate() int       { return a.sampleRate }
func (a *AudioData) NumberOfFrames() int   { return a.frames }
func (a *AudioData) NumberOfChannels() int { return a.channels }
func (a *AudioData) Timestamp() int64      { return a.timestamp }

// Duration returns the span covered by the samples in microseconds.
func (a *AudioData) Duration() int64 {
	return int64(a.frames) * 1_000_000 / int64(a.sampleRate)
}

// Closed reports whether Close has been called.
func (a *AudioData) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Close releases the sample buffer. It is safe to call more than once.
func (a *AudioData) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.data = nil
}

// CopyInterleaved appends the samples to dst in interleaved order and
// returns the extended slice.
func (a *AudioData) CopyInterleaved(dst []float32) ([]float32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return dst, ErrDataClosed
	}

	if a.format == FormatF32 {
		return append(dst, a.data...), nil
	}

	start := len(dst)
	dst = append(dst, make([]float32, len(a.data))...)
	out := dst[start:]
	for ch := 0; ch < a.channels; ch++ {
		plane := a.data[ch*a.frames : (ch+1)*a.frames]
		for i, s := range plane {
			out[i*a.channels+ch] = s
		}
	}
	return dst, nil
}

// Clone returns an independent copy that survives Close of the original.
func (a *AudioData) Clone() (*AudioData, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrDataClosed
	}
	data := make([]float32, len(a.data))
	copy(data, a.data)
	return &AudioData{
		format:     a.format,
		sampleRate: a.sampleRate,
		frames:     a.frames,
		channels:   a.channels,
		timestamp:  a.timestamp,
		data:       data,
	}, nil
}
