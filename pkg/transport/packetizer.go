package transport

import (
	"errors"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/thesyncim/conformance/pkg/webcodecs"
)

const (
	// OpusClockRate is the RTP clock rate for Opus (RFC 7587 §4.1).
	OpusClockRate = 48000

	// OpusPayloadType is the dynamic payload type browsers usually offer
	// for Opus.
	OpusPayloadType = 111

	// DefaultMTU bounds RTP packet size.
	DefaultMTU = 1200
)

// ErrTimestampRegression is returned when a chunk starts before the end of
// the previous one.
var ErrTimestampRegression = errors.New("transport: chunk timestamp went backwards")

// PacketizerConfig describes one outgoing audio stream.
type PacketizerConfig struct {
	SSRC        uint32
	PayloadType uint8
	ClockRate   uint32
	MTU         uint16
}

// DefaultPacketizerConfig returns an Opus stream configuration for ssrc.
func DefaultPacketizerConfig(ssrc uint32) PacketizerConfig {
	return PacketizerConfig{
		SSRC:        ssrc,
		PayloadType: OpusPayloadType,
		ClockRate:   OpusClockRate,
		MTU:         DefaultMTU,
	}
}

// Packetizer turns a stream of encoded audio chunks into RTP packets.
//
// Frames that DTX suppressed never reach the packetizer, so a chunk that
// starts after the end of the previous one marks a gap: the RTP timestamp is
// advanced over the missing samples and the first packet after the gap has
// the marker bit set, as RFC 3551 §4.1 requires for the start of a talkspurt.
type Packetizer struct {
	cfg       PacketizerConfig
	rtp       rtp.Packetizer
	nextStart int64 // µs; end of the previous chunk
	started   bool
	gaps      int
}

// NewPacketizer creates a packetizer with a random initial sequence number.
func NewPacketizer(cfg PacketizerConfig) *Packetizer {
	if cfg.ClockRate == 0 {
		cfg.ClockRate = OpusClockRate
	}
	if cfg.MTU == 0 {
		cfg.MTU = DefaultMTU
	}
	return &Packetizer{
		cfg: cfg,
		rtp: rtp.NewPacketizer(cfg.MTU, cfg.PayloadType, cfg.SSRC,
			&codecs.OpusPayloader{}, rtp.NewRandomSequencer(), cfg.ClockRate),
	}
}

// Packetize returns the RTP packets carrying chunk.
func (p *Packetizer) Packetize(chunk webcodecs.EncodedAudioChunk) ([]*rtp.Packet, error) {
	talkspurt := !p.started
	if p.started {
		switch gap := chunk.Timestamp - p.nextStart; {
		case gap < 0:
			return nil, ErrTimestampRegression
		case gap > 0:
			p.rtp.SkipSamples(p.samples(gap))
			p.gaps++
			talkspurt = true
		}
	}
	p.started = true
	p.nextStart = chunk.End()

	pkts := p.rtp.Packetize(chunk.Data, p.samples(chunk.Duration))
	// pion marks the last packet of every call, which suits video frames
	// but not audio; only a talkspurt start carries the marker here.
	for i, pkt := range pkts {
		pkt.Marker = talkspurt && i == 0
	}
	return pkts, nil
}

// Gaps returns how many DTX gaps have been skipped.
func (p *Packetizer) Gaps() int {
	return p.gaps
}

func (p *Packetizer) samples(us int64) uint32 {
	return uint32(us * int64(p.cfg.ClockRate) / 1_000_000)
}
