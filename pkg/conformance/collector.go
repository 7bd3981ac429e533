package conformance

import (
	"errors"
	"fmt"
	"sync"

	"github.com/thesyncim/conformance/pkg/transport"
	"github.com/thesyncim/conformance/pkg/webcodecs"
)

// ErrOutputOrder is returned when a pipeline emits a chunk whose timestamp
// is lower than the previous one.
var ErrOutputOrder = errors.New("conformance: output timestamps went backwards")

const outputBuffer = 64

// collector receives one pipeline's outputs over a channel, checks their
// ordering and forwards them to an RTP stream. The channel is closed once
// the pipeline is closed and can no longer call back; outputs arriving after
// that from a pipeline that breaks the Close contract are dropped.
type collector struct {
	label  string
	mu     sync.RWMutex
	closed bool
	out    chan webcodecs.EncodedAudioChunk
	stream *transport.Stream
	fail   func(error)
	done   chan struct{}

	chunks []webcodecs.EncodedAudioChunk
	bytes  int
	err    error
}

func newCollector(label string, stream *transport.Stream, fail func(error)) *collector {
	c := &collector{
		label:  label,
		out:    make(chan webcodecs.EncodedAudioChunk, outputBuffer),
		stream: stream,
		fail:   fail,
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

// output is the pipeline's Output callback.
func (c *collector) output(chunk webcodecs.EncodedAudioChunk, _ webcodecs.EncodedAudioChunkMetadata) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.out <- chunk
}

func (c *collector) run() {
	defer close(c.done)
	for chunk := range c.out {
		if c.err != nil {
			continue
		}
		if n := len(c.chunks); n > 0 && chunk.Timestamp < c.chunks[n-1].Timestamp {
			c.setErr(fmt.Errorf("%w: %s pipeline chunk at %dus after %dus",
				ErrOutputOrder, c.label, chunk.Timestamp, c.chunks[n-1].Timestamp))
			continue
		}
		c.chunks = append(c.chunks, chunk)
		c.bytes += chunk.ByteLength()
		if err := c.stream.WriteChunk(chunk); err != nil {
			c.setErr(fmt.Errorf("%s pipeline rtp: %w", c.label, err))
		}
	}
}

func (c *collector) setErr(err error) {
	c.err = err
	c.fail(err)
}

// finish closes the output channel and waits for everything sent so far to
// be processed. The pipeline must already be closed.
func (c *collector) finish() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
	c.mu.Unlock()
	<-c.done
	return c.err
}
