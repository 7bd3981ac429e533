package server

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/rtp"
	"go.uber.org/zap"

	"github.com/thesyncim/conformance/pkg/conformance"
	"github.com/thesyncim/conformance/pkg/transport"
	"github.com/thesyncim/conformance/pkg/webcodecs"
)

type rtpWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// streamer encodes a scenario through a webcodecs AudioEncoder and sends
// every chunk as RTP. Frames suppressed by DTX leave timestamp gaps that the
// packetizer carries into the RTP timeline.
type streamer struct {
	scenario conformance.Scenario
	dtx      bool
	realtime bool // pace segments at their timestamps
	log      *zap.SugaredLogger
}

// run returns the number of packets written.
func (st streamer) run(ctx context.Context, w rtpWriter) (int, error) {
	sc := st.scenario
	segs, err := conformance.Segments(sc.TotalDuration, sc.DataCount, sc.SampleRate)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	packetizer := transport.NewPacketizer(transport.DefaultPacketizerConfig(0))
	sent := 0
	enc, err := webcodecs.NewAudioEncoder(webcodecs.EncoderCallbacks{
		Output: func(c webcodecs.EncodedAudioChunk, _ webcodecs.EncodedAudioChunkMetadata) {
			pkts, err := packetizer.Packetize(c)
			if err != nil {
				cancel(err)
				return
			}
			for _, p := range pkts {
				if err := w.WriteRTP(p); err != nil {
					cancel(fmt.Errorf("write rtp: %w", err))
					return
				}
				sent++
			}
		},
		Error: func(err error) {
			cancel(err)
		},
	}, webcodecs.WithLogger(st.log))
	if err != nil {
		return 0, err
	}

	err = st.encode(ctx, enc, segs)
	// Close waits for the worker, so sent is stable afterwards.
	_ = enc.Close()
	if cause := context.Cause(ctx); cause != nil {
		return sent, cause
	}
	return sent, err
}

func (st streamer) encode(ctx context.Context, enc *webcodecs.AudioEncoder, segs []conformance.Segment) error {
	sc := st.scenario
	if err := enc.Configure(sc.EncoderConfig(st.dtx)); err != nil {
		return err
	}

	start := time.Now()
	for _, seg := range segs {
		if st.realtime {
			at := start.Add(time.Duration(seg.Timestamp) * time.Microsecond)
			if err := sleepUntil(ctx, at); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		data, err := seg.Frame(sc.Channels, sc.SampleRate)
		if err != nil {
			return err
		}
		err = enc.Encode(data)
		data.Close()
		if err != nil {
			return err
		}
	}
	return enc.Flush(ctx)
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
