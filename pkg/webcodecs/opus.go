package webcodecs

import (
	"encoding/binary"
	"fmt"

	"github.com/thesyncim/gopus"
)

const (
	// opusSampleRate is the only input rate the Opus codec accepts here;
	// other rates would need resampling in front of the encoder.
	opusSampleRate = 48000

	opusMinBitrate = 6000
	opusMaxBitrate = 510000

	// maxOpusPacket bounds any single Opus packet (RFC 6716 §3.4).
	maxOpusPacket = 4000

	// dtxMaxPacketBytes is the largest packet treated as a DTX frame: libopus
	// emits 1-2 byte packets while in DTX and those carry no audio.
	dtxMaxPacketBytes = 2
)

// OpusFactory creates Opus codecs backed by gopus.
type OpusFactory struct{}

// Supports implements CodecFactory.
func (OpusFactory) Supports(cfg AudioEncoderConfig) error {
	if cfg.SampleRate != opusSampleRate {
		return fmt.Errorf("%w: opus sampleRate %d (want %d)", ErrNotSupported, cfg.SampleRate, opusSampleRate)
	}
	if cfg.NumberOfChannels < 1 || cfg.NumberOfChannels > 2 {
		return fmt.Errorf("%w: opus numberOfChannels %d (want 1 or 2)", ErrNotSupported, cfg.NumberOfChannels)
	}
	if cfg.Bitrate != 0 && (cfg.Bitrate < opusMinBitrate || cfg.Bitrate > opusMaxBitrate) {
		return fmt.Errorf("%w: opus bitrate %d (want %d-%d)", ErrNotSupported, cfg.Bitrate, opusMinBitrate, opusMaxBitrate)
	}
	return nil
}

// NewCodec implements CodecFactory.
func (f OpusFactory) NewCodec(cfg AudioEncoderConfig) (AudioCodec, error) {
	if err := f.Supports(cfg); err != nil {
		return nil, err
	}
	var opts OpusEncoderConfig
	if cfg.Opus != nil {
		opts = *cfg.Opus
	}
	opts = opts.withDefaults()

	enc, err := gopus.NewEncoder(cfg.SampleRate, cfg.NumberOfChannels, opusApplication(opts.Application))
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	if cfg.Bitrate != 0 {
		if err := enc.SetBitrate(cfg.Bitrate); err != nil {
			return nil, fmt.Errorf("opus: set bitrate: %w", err)
		}
	}
	if opts.Complexity != nil {
		if err := enc.SetComplexity(*opts.Complexity); err != nil {
			return nil, fmt.Errorf("opus: set complexity: %w", err)
		}
	}
	frameSize := opts.FrameDuration * opusSampleRate / 1_000_000
	if err := enc.SetFrameSize(frameSize); err != nil {
		return nil, fmt.Errorf("opus: frame duration %dus: %w", opts.FrameDuration, err)
	}
	enc.SetFEC(opts.UseInbandFEC)
	enc.SetDTX(opts.UseDTX)

	return &opusCodec{
		enc:      enc,
		channels: cfg.NumberOfChannels,
		dtx:      opts.UseDTX,
		format:   opts.Format,
		packet:   make([]byte, maxOpusPacket),
	}, nil
}

func opusApplication(app OpusApplication) gopus.Application {
	switch app {
	case OpusApplicationVoIP:
		return gopus.ApplicationVoIP
	case OpusApplicationLowDelay:
		return gopus.ApplicationLowDelay
	default:
		return gopus.ApplicationAudio
	}
}

type opusCodec struct {
	enc      *gopus.Encoder
	channels int
	dtx      bool
	format   OpusBitstreamFormat
	packet   []byte
}

func (c *opusCodec) FrameSize() int {
	return c.enc.FrameSize()
}

func (c *opusCodec) EncodeFrame(pcm []float32) ([]byte, error) {
	n, err := c.enc.Encode(pcm, c.packet)
	if err != nil {
		return nil, err
	}
	if n == 0 || (c.dtx && n <= dtxMaxPacketBytes) {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, c.packet[:n])
	return out, nil
}

func (c *opusCodec) DecoderConfig() AudioDecoderConfig {
	cfg := AudioDecoderConfig{
		Codec:            "opus",
		SampleRate:       opusSampleRate,
		NumberOfChannels: c.channels,
	}
	if c.format == OpusFormatOgg {
		cfg.Description = opusHead(c.channels, opusSampleRate)
	}
	return cfg
}

func (c *opusCodec) Close() error {
	c.enc.Reset()
	return nil
}

// opusHead builds the 19-byte identification header of RFC 7845 §5.1 for
// channel mapping family 0.
func opusHead(channels, inputRate int) []byte {
	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1 // version
	head[9] = byte(channels)
	binary.LittleEndian.PutUint16(head[10:], 0) // pre-skip
	binary.LittleEndian.PutUint32(head[12:], uint32(inputRate))
	binary.LittleEndian.PutUint16(head[16:], 0) // output gain
	head[18] = 0                                // mapping family
	return head
}
