package conformance

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/thesyncim/conformance/pkg/webcodecs"
)

// ErrInvalidFrameSpec is returned for non-positive frame, channel or rate
// arguments.
var ErrInvalidFrameSpec = errors.New("conformance: invalid frame spec")

// Segment is one equal-length slice of a scenario's input.
type Segment struct {
	Index     int
	Timestamp int64 // µs
	Frames    int   // samples per channel
	Silent    bool
}

// Segments splits total into count segments at sampleRate. Only the first
// and last segments carry signal; with a single segment it is both.
func Segments(total time.Duration, count, sampleRate int) ([]Segment, error) {
	if total <= 0 || count <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("%w: total %s, count %d, sample rate %d", ErrInvalidFrameSpec, total, count, sampleRate)
	}
	totalUS := total.Microseconds()
	frames := int(math.Round(total.Seconds() / float64(count) * float64(sampleRate)))
	if frames <= 0 {
		return nil, fmt.Errorf("%w: %s over %d segments is under one frame", ErrInvalidFrameSpec, total, count)
	}

	segs := make([]Segment, count)
	for i := range segs {
		segs[i] = Segment{
			Index:     i,
			Timestamp: int64(i) * totalUS / int64(count),
			Frames:    frames,
			Silent:    i != 0 && i != count-1,
		}
	}
	return segs, nil
}

// Frame synthesizes the AudioData for seg.
func (seg Segment) Frame(channels, sampleRate int) (*webcodecs.AudioData, error) {
	if seg.Silent {
		return SilentAudioData(seg.Timestamp, channels, sampleRate, seg.Frames)
	}
	return SineAudioData(seg.Timestamp, channels, sampleRate, seg.Frames)
}

// SilentAudioData returns planar all-zero audio.
func SilentAudioData(timestamp int64, channels, sampleRate, frames int) (*webcodecs.AudioData, error) {
	if err := checkFrameSpec(channels, sampleRate, frames); err != nil {
		return nil, err
	}
	return webcodecs.NewAudioData(webcodecs.AudioDataInit{
		Format:           webcodecs.FormatF32Planar,
		SampleRate:       sampleRate,
		NumberOfFrames:   frames,
		NumberOfChannels: channels,
		Timestamp:        timestamp,
		Data:             make([]float32, frames*channels),
	})
}

// SineAudioData returns planar full-scale sine audio, channel c at
// 100+50c Hz, each channel starting at phase zero.
func SineAudioData(timestamp int64, channels, sampleRate, frames int) (*webcodecs.AudioData, error) {
	if err := checkFrameSpec(channels, sampleRate, frames); err != nil {
		return nil, err
	}
	data := make([]float32, frames*channels)
	for ch := 0; ch < channels; ch++ {
		hz := 100 + 50*float64(ch)
		plane := data[ch*frames : (ch+1)*frames]
		for i := range plane {
			plane[i] = float32(math.Sin(float64(i) / float64(sampleRate) * hz * 2 * math.Pi))
		}
	}
	return webcodecs.NewAudioData(webcodecs.AudioDataInit{
		Format:           webcodecs.FormatF32Planar,
		SampleRate:       sampleRate,
		NumberOfFrames:   frames,
		NumberOfChannels: channels,
		Timestamp:        timestamp,
		Data:             data,
	})
}

func checkFrameSpec(channels, sampleRate, frames int) error {
	if channels <= 0 || sampleRate <= 0 || frames <= 0 {
		return fmt.Errorf("%w: channels %d, sample rate %d, frames %d", ErrInvalidFrameSpec, channels, sampleRate, frames)
	}
	return nil
}
