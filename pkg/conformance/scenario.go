package conformance

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thesyncim/conformance/pkg/webcodecs"
)

// DefaultMaxRatio is the largest DTX/normal output ratio that passes: DTX
// must produce fewer than half the chunks.
const DefaultMaxRatio = 0.5

// MinSegments is the smallest segment count for which the DTX comparison
// means anything. With one segment there is no silence to suppress.
const MinSegments = 2

var (
	// ErrInvalidScenario is returned for malformed scenarios.
	ErrInvalidScenario = errors.New("conformance: invalid scenario")
	// ErrTooFewSegments is returned when data_count is below the minimum.
	ErrTooFewSegments = errors.New("conformance: too few segments")
)

// Scenario describes one dual-pipeline run.
type Scenario struct {
	Name          string        `yaml:"name"`
	Codec         string        `yaml:"codec"`
	SampleRate    int           `yaml:"sample_rate"`
	Channels      int           `yaml:"channels"`
	Bitrate       int           `yaml:"bitrate"`
	TotalDuration time.Duration `yaml:"total_duration"`
	DataCount     int           `yaml:"data_count"`
	MaxRatio      float64       `yaml:"max_ratio,omitempty"`
}

// DefaultScenario returns the Opus DTX scenario: 10s of stereo 48kHz audio
// at 256kbit/s in 100 segments, real signal in the first and last only.
func DefaultScenario() Scenario {
	return Scenario{
		Name:          "opus-dtx",
		Codec:         "opus",
		SampleRate:    48000,
		Channels:      2,
		Bitrate:       256000,
		TotalDuration: 10 * time.Second,
		DataCount:     100,
		MaxRatio:      DefaultMaxRatio,
	}
}

func (s Scenario) withDefaults() Scenario {
	if s.MaxRatio == 0 {
		s.MaxRatio = DefaultMaxRatio
	}
	return s
}

// Validate checks s. A data_count below MinSegments yields
// ErrTooFewSegments; other problems yield ErrInvalidScenario.
func (s Scenario) Validate() error {
	return s.validate(MinSegments)
}

func (s Scenario) validate(minSegments int) error {
	var errs []error
	if s.Codec == "" {
		errs = append(errs, errors.New("codec is required"))
	}
	if s.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate %d must be positive", s.SampleRate))
	}
	if s.Channels <= 0 {
		errs = append(errs, fmt.Errorf("channels %d must be positive", s.Channels))
	}
	if s.Bitrate < 0 {
		errs = append(errs, fmt.Errorf("bitrate %d must not be negative", s.Bitrate))
	}
	if s.TotalDuration <= 0 {
		errs = append(errs, fmt.Errorf("total_duration %s must be positive", s.TotalDuration))
	}
	if s.MaxRatio < 0 || s.MaxRatio > 1 {
		errs = append(errs, fmt.Errorf("max_ratio %g out of range 0-1", s.MaxRatio))
	}
	if s.DataCount <= 0 {
		errs = append(errs, fmt.Errorf("data_count %d must be positive", s.DataCount))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidScenario, errors.Join(errs...))
	}
	if s.DataCount < minSegments {
		return fmt.Errorf("%w: data_count %d, need at least %d", ErrTooFewSegments, s.DataCount, minSegments)
	}
	return nil
}

// EncoderConfig returns the pipeline configuration for one side of the run.
func (s Scenario) EncoderConfig(dtx bool) webcodecs.AudioEncoderConfig {
	cfg := webcodecs.AudioEncoderConfig{
		Codec:            s.Codec,
		SampleRate:       s.SampleRate,
		NumberOfChannels: s.Channels,
		Bitrate:          s.Bitrate,
	}
	if s.Codec == "opus" {
		cfg = cfg.WithOpus(webcodecs.OpusEncoderConfig{UseDTX: dtx})
	}
	return cfg
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario: open %q: %w", path, err)
	}
	defer f.Close()

	s, err := DecodeScenario(f)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario: parse %q: %w", path, err)
	}
	return s, nil
}

// DecodeScenario decodes and validates a YAML scenario. Unknown keys are
// rejected.
func DecodeScenario(r io.Reader) (Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Scenario{}, fmt.Errorf("%w: decode yaml: %w", ErrInvalidScenario, err)
	}
	s = s.withDefaults()
	if err := s.Validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}
