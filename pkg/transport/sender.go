package transport

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtp"

	"github.com/thesyncim/conformance/pkg/webcodecs"
)

// Stream packetizes chunks and writes them through an interceptor chain
// holding a StatsInterceptor. It is not safe for concurrent use.
type Stream struct {
	packetizer *Packetizer
	stats      *StatsInterceptor
	chain      *interceptor.Chain
	info       *interceptor.StreamInfo
	writer     interceptor.RTPWriter
}

// Discard is an RTPWriter that drops every packet.
var Discard interceptor.RTPWriter = interceptor.RTPWriterFunc(
	func(_ *rtp.Header, payload []byte, _ interceptor.Attributes) (int, error) {
		return len(payload), nil
	})

// NewStream binds a local Opus stream for cfg.SSRC whose packets end up in
// sink. A nil sink discards them.
func NewStream(cfg PacketizerConfig, sink interceptor.RTPWriter, opts ...StatsOption) *Stream {
	if sink == nil {
		sink = Discard
	}
	p := NewPacketizer(cfg)
	stats := NewStatsInterceptor(opts...)
	chain := interceptor.NewChain([]interceptor.Interceptor{stats})
	info := &interceptor.StreamInfo{
		SSRC:        cfg.SSRC,
		PayloadType: cfg.PayloadType,
		ClockRate:   p.cfg.ClockRate,
		MimeType:    "audio/opus",
		Channels:    2,
	}
	return &Stream{
		packetizer: p,
		stats:      stats,
		chain:      chain,
		info:       info,
		writer:     chain.BindLocalStream(info, sink),
	}
}

// WriteChunk sends one encoded chunk.
func (s *Stream) WriteChunk(chunk webcodecs.EncodedAudioChunk) error {
	pkts, err := s.packetizer.Packetize(chunk)
	if err != nil {
		return err
	}
	for _, pkt := range pkts {
		if _, err := s.writer.Write(&pkt.Header, pkt.Payload, nil); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns what the stream has sent so far.
func (s *Stream) Stats() StreamStats {
	st, _ := s.stats.Stats(s.info.SSRC)
	return st
}

// Gaps returns how many DTX gaps the packetizer skipped.
func (s *Stream) Gaps() int {
	return s.packetizer.Gaps()
}

// Close unbinds the stream and closes the chain.
func (s *Stream) Close() error {
	s.chain.UnbindLocalStream(s.info)
	return s.chain.Close()
}
