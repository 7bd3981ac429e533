package webcodecs

import (
	"fmt"
	"sync"
)

// AudioCodec encodes fixed-size frames of interleaved float32 samples.
// An AudioCodec is used from a single goroutine.
type AudioCodec interface {
	// FrameSize returns the number of samples per channel consumed by each
	// EncodeFrame call.
	FrameSize() int

	// EncodeFrame encodes exactly FrameSize()*channels interleaved samples.
	// A nil packet with a nil error means the frame was suppressed.
	EncodeFrame(pcm []float32) ([]byte, error)

	// DecoderConfig describes how to decode the produced packets.
	DecoderConfig() AudioDecoderConfig

	Close() error
}

// CodecFactory creates codecs for one codec string.
type CodecFactory interface {
	// Supports returns nil if cfg can be served, or an error wrapping
	// ErrNotSupported naming the first unsupported field.
	Supports(cfg AudioEncoderConfig) error

	// NewCodec builds a codec for a supported cfg.
	NewCodec(cfg AudioEncoderConfig) (AudioCodec, error)
}

// CodecRegistry maps codec strings to factories. It is safe for concurrent use.
type CodecRegistry struct {
	mu        sync.RWMutex
	factories map[string]CodecFactory
}

// NewCodecRegistry returns an empty registry.
func NewCodecRegistry() *CodecRegistry {
	return &CodecRegistry{factories: make(map[string]CodecFactory)}
}

// Register adds or replaces the factory for codec.
func (r *CodecRegistry) Register(codec string, f CodecFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[codec] = f
}

// Lookup returns the factory registered for codec.
func (r *CodecRegistry) Lookup(codec string) (CodecFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[codec]
	return f, ok
}

// Supports validates cfg and checks that a registered codec can serve it.
func (r *CodecRegistry) Supports(cfg AudioEncoderConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f, ok := r.Lookup(cfg.Codec)
	if !ok {
		return fmt.Errorf("%w: unknown codec %q", ErrNotSupported, cfg.Codec)
	}
	return f.Supports(cfg)
}

// DefaultRegistry holds the codecs available to encoders created without
// WithRegistry.
var DefaultRegistry = func() *CodecRegistry {
	r := NewCodecRegistry()
	r.Register("opus", OpusFactory{})
	return r
}()

// IsConfigSupported reports whether an encoder using DefaultRegistry would
// accept cfg. The returned error explains a false result.
func IsConfigSupported(cfg AudioEncoderConfig) (bool, error) {
	if err := DefaultRegistry.Supports(cfg); err != nil {
		return false, err
	}
	return true, nil
}
