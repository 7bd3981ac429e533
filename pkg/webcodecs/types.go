// Package webcodecs provides a Go rendition of the WebCodecs audio encoding
// surface: AudioData frames, an asynchronous AudioEncoder with output and
// error callbacks, and codec-specific configuration.
package webcodecs

// SampleFormat describes the memory layout of AudioData samples.
type SampleFormat string

const (
	// FormatF32Planar stores each channel contiguously: all samples of
	// channel 0, then all samples of channel 1, and so on.
	FormatF32Planar SampleFormat = "f32-planar"

	// FormatF32 stores samples interleaved frame by frame.
	FormatF32 SampleFormat = "f32"
)

// Valid reports whether f is a recognised sample format.
func (f SampleFormat) Valid() bool {
	return f == FormatF32Planar || f == FormatF32
}

// CodecState is the lifecycle state of an AudioEncoder.
type CodecState int

const (
	// StateUnconfigured is the initial state and the state after Reset.
	StateUnconfigured CodecState = iota
	// StateConfigured accepts Encode and Flush calls.
	StateConfigured
	// StateClosed is terminal.
	StateClosed
)

// String returns the WebCodecs name of the state.
func (s CodecState) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChunkType distinguishes independently decodable chunks. Audio codecs
// handled here only produce key chunks.
type ChunkType string

const (
	ChunkKey   ChunkType = "key"
	ChunkDelta ChunkType = "delta"
)

// EncodedAudioChunk is one unit of encoder output.
type EncodedAudioChunk struct {
	Type      ChunkType
	Timestamp int64 // µs
	Duration  int64 // µs
	Data      []byte
}

// ByteLength returns the size of the encoded payload.
func (c EncodedAudioChunk) ByteLength() int {
	return len(c.Data)
}

// End returns the timestamp just past the chunk.
func (c EncodedAudioChunk) End() int64 {
	return c.Timestamp + c.Duration
}

// AudioDecoderConfig describes how to decode the chunks an encoder produces.
type AudioDecoderConfig struct {
	Codec            string
	SampleRate       int
	NumberOfChannels int
	Description      []byte
}

// EncodedAudioChunkMetadata accompanies an output chunk. DecoderConfig is set
// on the first output after every Configure and nil otherwise.
type EncodedAudioChunkMetadata struct {
	DecoderConfig *AudioDecoderConfig
}

// EncoderCallbacks are invoked from the encoder's worker goroutine. Calls are
// serialised per encoder, so Output observes chunks in emission order.
type EncoderCallbacks struct {
	Output func(chunk EncodedAudioChunk, meta EncodedAudioChunkMetadata)
	Error  func(err error)
}
