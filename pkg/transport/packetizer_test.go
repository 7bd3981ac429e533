package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/conformance/pkg/webcodecs"
)

func chunkAt(ts int64, size int) webcodecs.EncodedAudioChunk {
	return webcodecs.EncodedAudioChunk{
		Type:      webcodecs.ChunkKey,
		Timestamp: ts,
		Duration:  20_000,
		Data:      make([]byte, size),
	}
}

func TestPacketizer_ContiguousChunks(t *testing.T) {
	p := NewPacketizer(DefaultPacketizerConfig(0x1234))

	var prevSeq uint16
	var prevTS uint32
	for i := 0; i < 5; i++ {
		pkts, err := p.Packetize(chunkAt(int64(i)*20_000, 100))
		require.NoError(t, err)
		require.Len(t, pkts, 1, "an Opus frame fits one packet")

		pkt := pkts[0]
		assert.Equal(t, uint32(0x1234), pkt.SSRC)
		assert.Equal(t, uint8(OpusPayloadType), pkt.PayloadType)
		assert.Equal(t, i == 0, pkt.Marker, "only the first packet starts a talkspurt")
		assert.Len(t, pkt.Payload, 100)
		if i > 0 {
			assert.Equal(t, prevSeq+1, pkt.SequenceNumber)
			assert.Equal(t, prevTS+960, pkt.Timestamp)
		}
		prevSeq, prevTS = pkt.SequenceNumber, pkt.Timestamp
	}
	assert.Zero(t, p.Gaps())
}

func TestPacketizer_DTXGapSkipsSamples(t *testing.T) {
	p := NewPacketizer(DefaultPacketizerConfig(1))

	a, err := p.Packetize(chunkAt(0, 80))
	require.NoError(t, err)
	// 400ms of suppressed frames.
	b, err := p.Packetize(chunkAt(420_000, 80))
	require.NoError(t, err)
	c, err := p.Packetize(chunkAt(440_000, 80))
	require.NoError(t, err)

	assert.Equal(t, a[0].SequenceNumber+1, b[0].SequenceNumber, "no sequence gap for DTX")
	assert.Equal(t, a[0].Timestamp+uint32(420*48), b[0].Timestamp)
	assert.True(t, b[0].Marker, "talkspurt after gap")
	assert.False(t, c[0].Marker)
	assert.Equal(t, 1, p.Gaps())
}

func TestPacketizer_RejectsRegression(t *testing.T) {
	p := NewPacketizer(DefaultPacketizerConfig(1))
	_, err := p.Packetize(chunkAt(40_000, 10))
	require.NoError(t, err)

	_, err = p.Packetize(chunkAt(50_000, 10))
	assert.ErrorIs(t, err, ErrTimestampRegression)
}
