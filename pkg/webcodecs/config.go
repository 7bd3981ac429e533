package webcodecs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// AudioEncoderConfig configures an AudioEncoder. Codec-specific options live
// in their own tagged struct; only the one matching Codec may be set.
type AudioEncoderConfig struct {
	Codec            string             `json:"codec"`
	SampleRate       int                `json:"sampleRate"`
	NumberOfChannels int                `json:"numberOfChannels"`
	Bitrate          int                `json:"bitrate,omitempty"` // bits per second, 0 = codec default
	Opus             *OpusEncoderConfig `json:"opus,omitempty"`
}

// OpusBitstreamFormat selects how Opus output is framed.
type OpusBitstreamFormat string

const (
	// OpusFormatOpus emits bare Opus packets with no decoder description.
	OpusFormatOpus OpusBitstreamFormat = "opus"
	// OpusFormatOgg emits bare packets and an OpusHead description.
	OpusFormatOgg OpusBitstreamFormat = "ogg"
)

// OpusApplication mirrors the libopus application hint.
type OpusApplication string

const (
	OpusApplicationVoIP     OpusApplication = "voip"
	OpusApplicationAudio    OpusApplication = "audio"
	OpusApplicationLowDelay OpusApplication = "lowdelay"
)

// DefaultOpusFrameDuration is the packet duration used when none is set (µs).
const DefaultOpusFrameDuration = 20_000

// opusFrameDurations lists the packet durations Opus can produce (µs).
var opusFrameDurations = []int{2_500, 5_000, 10_000, 20_000, 40_000, 60_000}

// OpusEncoderConfig holds the recognised Opus options.
type OpusEncoderConfig struct {
	Format        OpusBitstreamFormat `json:"format,omitempty"`
	FrameDuration int                 `json:"frameDuration,omitempty"` // µs
	Complexity    *int                `json:"complexity,omitempty"`
	UseInbandFEC  bool                `json:"useinbandfec,omitempty"`
	UseDTX        bool                `json:"usedtx,omitempty"`
	Application   OpusApplication     `json:"application,omitempty"`
}

// withDefaults returns a copy with empty fields filled in.
func (o OpusEncoderConfig) withDefaults() OpusEncoderConfig {
	if o.Format == "" {
		o.Format = OpusFormatOpus
	}
	if o.FrameDuration == 0 {
		o.FrameDuration = DefaultOpusFrameDuration
	}
	if o.Application == "" {
		o.Application = OpusApplicationAudio
	}
	return o
}

func (o OpusEncoderConfig) validate() []error {
	var errs []error
	o = o.withDefaults()
	if o.Format != OpusFormatOpus && o.Format != OpusFormatOgg {
		errs = append(errs, fmt.Errorf("opus.format %q is not one of opus, ogg", o.Format))
	}
	if !slices.Contains(opusFrameDurations, o.FrameDuration) {
		errs = append(errs, fmt.Errorf("opus.frameDuration %dus is not a valid Opus packet duration", o.FrameDuration))
	}
	if o.Complexity != nil && (*o.Complexity < 0 || *o.Complexity > 10) {
		errs = append(errs, fmt.Errorf("opus.complexity %d out of range 0-10", *o.Complexity))
	}
	switch o.Application {
	case OpusApplicationVoIP, OpusApplicationAudio, OpusApplicationLowDelay:
	default:
		errs = append(errs, fmt.Errorf("opus.application %q is not one of voip, audio, lowdelay", o.Application))
	}
	return errs
}

// Validate checks that the configuration is well formed. It does not check
// whether a codec can serve it; see IsConfigSupported.
func (c AudioEncoderConfig) Validate() error {
	var errs []error
	if c.Codec == "" {
		errs = append(errs, errors.New("codec is required"))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sampleRate %d must be positive", c.SampleRate))
	}
	if c.NumberOfChannels <= 0 {
		errs = append(errs, fmt.Errorf("numberOfChannels %d must be positive", c.NumberOfChannels))
	}
	if c.Bitrate < 0 {
		errs = append(errs, fmt.Errorf("bitrate %d must not be negative", c.Bitrate))
	}
	if c.Opus != nil {
		if c.Codec != "opus" {
			errs = append(errs, fmt.Errorf("opus options given for codec %q", c.Codec))
		}
		errs = append(errs, c.Opus.validate()...)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// clone returns a deep copy so later mutation by the caller cannot reach a
// configured encoder.
func (c AudioEncoderConfig) clone() AudioEncoderConfig {
	if c.Opus != nil {
		o := *c.Opus
		if o.Complexity != nil {
			v := *o.Complexity
			o.Complexity = &v
		}
		c.Opus = &o
	}
	return c
}

// WithOpus returns a copy of c carrying the given Opus options.
func (c AudioEncoderConfig) WithOpus(o OpusEncoderConfig) AudioEncoderConfig {
	c = c.clone()
	c.Opus = &o
	return c
}

// ParseAudioEncoderConfig decodes a JSON configuration. Unrecognised keys,
// including unknown codec-specific options, are rejected.
func ParseAudioEncoderConfig(data []byte) (AudioEncoderConfig, error) {
	var cfg AudioEncoderConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return AudioEncoderConfig{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return AudioEncoderConfig{}, err
	}
	return cfg, nil
}
