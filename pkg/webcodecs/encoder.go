package webcodecs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// EncoderOption configures an AudioEncoder.
type EncoderOption func(*AudioEncoder)

// WithRegistry sets the codec registry consulted by Configure.
// Default: DefaultRegistry.
func WithRegistry(r *CodecRegistry) EncoderOption {
	return func(a *AudioEncoder) {
		a.registry = r
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *zap.SugaredLogger) EncoderOption {
	return func(a *AudioEncoder) {
		a.log = l
	}
}

type messageKind int

const (
	msgConfigure messageKind = iota
	msgEncode
	msgFlush
)

// message is one entry of the control queue. gen ties it to the
// configuration epoch it was queued in; Reset and Close start a new epoch.
type message struct {
	kind messageKind
	gen  uint64

	cfg AudioEncoderConfig

	samples   *[]float32
	timestamp int64

	flush *flushRequest
}

// flushRequest completes exactly once, either from the worker or from a
// Reset/Close that discards it.
type flushRequest struct {
	done chan error
	once sync.Once
}

func newFlushRequest() *flushRequest {
	return &flushRequest{done: make(chan error, 1)}
}

func (f *flushRequest) finish(err error) {
	f.once.Do(func() {
		f.done <- err
	})
}

// AudioEncoder encodes AudioData into EncodedAudioChunks asynchronously.
//
// Configure, Encode, Flush, Reset and Close may be called from any
// goroutine. Encoding happens on a per-encoder worker goroutine, which is
// also where the Output and Error callbacks run. Callbacks must not call
// Flush or Close, which wait on the worker.
//
// Lifecycle:
//
//	unconfigured --Configure--> configured --Close--> closed
//	configured --Reset--> unconfigured
//	any --encoding error--> closed (Error callback fires)
type AudioEncoder struct {
	cb       EncoderCallbacks
	registry *CodecRegistry
	log      *zap.SugaredLogger

	mu        sync.Mutex
	state     CodecState
	config    AudioEncoderConfig
	gen       uint64
	queue     []message
	queueSize int
	wake      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup

	// Worker-owned state; only touched by run.
	w workerState
}

type workerState struct {
	gen           uint64
	cfg           AudioEncoderConfig
	codec         AudioCodec
	pending       []float32
	nextTimestamp int64
	frameDuration int64
	sentConfig    bool
}

// NewAudioEncoder creates an unconfigured encoder and starts its worker.
// Output is required; Error may be nil.
func NewAudioEncoder(cb EncoderCallbacks, opts ...EncoderOption) (*AudioEncoder, error) {
	if cb.Output == nil {
		return nil, errors.New("webcodecs: output callback is required")
	}
	a := &AudioEncoder{
		cb:       cb,
		registry: DefaultRegistry,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = zap.NewNop().Sugar()
	}

	a.wg.Add(1)
	go a.run()
	return a, nil
}

// State returns the current lifecycle state.
func (a *AudioEncoder) State() CodecState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// EncodeQueueSize returns the number of Encode requests not yet processed.
func (a *AudioEncoder) EncodeQueueSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queueSize
}

// Configure validates cfg and queues a (re)configuration. Malformed configs
// return ErrInvalidConfig and unsupported ones ErrNotSupported; in both
// cases the encoder state is unchanged.
func (a *AudioEncoder) Configure(cfg AudioEncoderConfig) error {
	if err := a.registry.Supports(cfg); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateClosed {
		return fmt.Errorf("%w: configure on closed encoder", ErrInvalidState)
	}
	a.state = StateConfigured
	a.config = cfg.clone()
	a.enqueueLocked(message{kind: msgConfigure, cfg: a.config})
	a.log.Debugw("encoder configured", "codec", cfg.Codec, "sampleRate", cfg.SampleRate,
		"channels", cfg.NumberOfChannels, "bitrate", cfg.Bitrate)
	return nil
}

// Encode queues data for encoding. The samples are copied, so the caller may
// Close data as soon as Encode returns.
func (a *AudioEncoder) Encode(data *AudioData) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateConfigured {
		return fmt.Errorf("%w: encode while %s", ErrInvalidState, a.state)
	}
	if data.SampleRate() != a.config.SampleRate || data.NumberOfChannels() != a.config.NumberOfChannels {
		return fmt.Errorf("%w: got %d Hz/%d ch, configured %d Hz/%d ch", ErrInvalidData,
			data.SampleRate(), data.NumberOfChannels(), a.config.SampleRate, a.config.NumberOfChannels)
	}

	buf := getSampleBuffer()
	samples, err := data.CopyInterleaved(*buf)
	if err != nil {
		putSampleBuffer(buf)
		return err
	}
	*buf = samples

	a.queueSize++
	a.enqueueLocked(message{kind: msgEncode, samples: buf, timestamp: data.Timestamp()})
	return nil
}

// Flush waits until every output for previously queued input has been
// delivered. A trailing partial frame is zero-padded and encoded. Flush
// returns ErrAborted if a Reset or Close discards it, the encoding error if
// the encoder fails first, or ctx.Err() if ctx ends.
func (a *AudioEncoder) Flush(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateConfigured {
		a.mu.Unlock()
		return fmt.Errorf("%w: flush while %s", ErrInvalidState, a.state)
	}
	req := newFlushRequest()
	a.enqueueLocked(message{kind: msgFlush, flush: req})
	a.mu.Unlock()

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset drops all queued work, aborts pending flushes and returns the
// encoder to the unconfigured state.
func (a *AudioEncoder) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateClosed {
		return fmt.Errorf("%w: reset on closed encoder", ErrInvalidState)
	}
	a.discardLocked(ErrAborted)
	a.state = StateUnconfigured
	return nil
}

// Close aborts pending work, releases the codec and waits for the worker to
// exit. No callbacks fire after Close returns, even when it reports
// ErrInvalidState because an encoding error already closed the encoder.
func (a *AudioEncoder) Close() error {
	a.mu.Lock()
	if a.state == StateClosed {
		a.mu.Unlock()
		a.wg.Wait()
		return fmt.Errorf("%w: already closed", ErrInvalidState)
	}
	a.closeLocked(ErrAborted)
	a.mu.Unlock()

	a.wg.Wait()
	return nil
}

func (a *AudioEncoder) enqueueLocked(msg message) {
	msg.gen = a.gen
	a.queue = append(a.queue, msg)
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// discardLocked starts a new epoch and drops everything queued in the old one.
func (a *AudioEncoder) discardLocked(reason error) {
	a.gen++
	for _, msg := range a.queue {
		switch msg.kind {
		case msgEncode:
			putSampleBuffer(msg.samples)
		case msgFlush:
			msg.flush.finish(reason)
		}
	}
	a.queue = nil
	a.queueSize = 0
}

func (a *AudioEncoder) closeLocked(reason error) {
	a.discardLocked(reason)
	a.state = StateClosed
	close(a.done)
}

// current reports whether gen is still the live epoch.
func (a *AudioEncoder) current(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state != StateClosed && gen == a.gen
}

// next blocks until a message is available or the encoder is closed.
func (a *AudioEncoder) next() (message, bool) {
	for {
		a.mu.Lock()
		if a.state == StateClosed {
			a.mu.Unlock()
			return message{}, false
		}
		if len(a.queue) > 0 {
			msg := a.queue[0]
			a.queue[0] = message{}
			a.queue = a.queue[1:]
			a.mu.Unlock()
			return msg, true
		}
		a.mu.Unlock()

		select {
		case <-a.wake:
		case <-a.done:
		}
	}
}

func (a *AudioEncoder) run() {
	defer a.wg.Done()
	defer a.releaseCodec()

	for {
		msg, ok := a.next()
		if !ok {
			return
		}
		a.process(msg)
	}
}

func (a *AudioEncoder) process(msg message) {
	if msg.gen != a.w.gen {
		// A Reset happened since the last message; start from scratch.
		a.releaseCodec()
		a.w.gen = msg.gen
	}

	switch msg.kind {
	case msgConfigure:
		a.configureCodec(msg)

	case msgEncode:
		a.mu.Lock()
		if msg.gen == a.gen && a.queueSize > 0 {
			a.queueSize--
		}
		a.mu.Unlock()

		if len(a.w.pending) == 0 {
			a.w.nextTimestamp = msg.timestamp
		}
		a.w.pending = append(a.w.pending, *msg.samples...)
		putSampleBuffer(msg.samples)
		if err := a.encodeFull(msg.gen); err != nil {
			a.fail(msg.gen, err)
		}

	case msgFlush:
		if err := a.drain(msg.gen); err != nil {
			a.fail(msg.gen, err)
			msg.flush.finish(err)
			return
		}
		if !a.current(msg.gen) {
			msg.flush.finish(ErrAborted)
			return
		}
		a.log.Debugw("encoder flushed", "codec", a.w.cfg.Codec)
		msg.flush.finish(nil)
	}
}

func (a *AudioEncoder) configureCodec(msg message) {
	if a.w.codec != nil {
		if err := a.drain(msg.gen); err != nil {
			a.fail(msg.gen, err)
			return
		}
		a.releaseCodec()
	}

	factory, ok := a.registry.Lookup(msg.cfg.Codec)
	if !ok {
		a.fail(msg.gen, fmt.Errorf("%w: unknown codec %q", ErrNotSupported, msg.cfg.Codec))
		return
	}
	codec, err := factory.NewCodec(msg.cfg)
	if err != nil {
		a.fail(msg.gen, err)
		return
	}

	a.w.cfg = msg.cfg
	a.w.codec = codec
	a.w.pending = a.w.pending[:0]
	a.w.sentConfig = false
	a.w.frameDuration = int64(codec.FrameSize()) * 1_000_000 / int64(msg.cfg.SampleRate)
}

// encodeFull encodes every complete frame in the pending buffer.
func (a *AudioEncoder) encodeFull(gen uint64) error {
	if a.w.codec == nil {
		return errors.New("no codec configured")
	}
	frameLen := a.w.codec.FrameSize() * a.w.cfg.NumberOfChannels
	consumed := 0
	for len(a.w.pending)-consumed >= frameLen {
		if err := a.encodeFrame(gen, a.w.pending[consumed:consumed+frameLen]); err != nil {
			return err
		}
		consumed += frameLen
	}
	if consumed > 0 {
		n := copy(a.w.pending, a.w.pending[consumed:])
		a.w.pending = a.w.pending[:n]
	}
	return nil
}

// drain encodes complete frames, then pads and encodes any remainder.
func (a *AudioEncoder) drain(gen uint64) error {
	if a.w.codec == nil {
		return nil
	}
	if err := a.encodeFull(gen); err != nil {
		return err
	}
	if len(a.w.pending) == 0 {
		return nil
	}
	frameLen := a.w.codec.FrameSize() * a.w.cfg.NumberOfChannels
	for len(a.w.pending) < frameLen {
		a.w.pending = append(a.w.pending, 0)
	}
	err := a.encodeFrame(gen, a.w.pending)
	a.w.pending = a.w.pending[:0]
	return err
}

func (a *AudioEncoder) encodeFrame(gen uint64, pcm []float32) error {
	ts := a.w.nextTimestamp
	a.w.nextTimestamp += a.w.frameDuration

	packet, err := a.w.codec.EncodeFrame(pcm)
	if err != nil {
		return &EncodingError{Codec: a.w.cfg.Codec, Timestamp: ts, Err: err}
	}
	if packet == nil {
		return nil
	}

	var meta EncodedAudioChunkMetadata
	if !a.w.sentConfig {
		dc := a.w.codec.DecoderConfig()
		meta.DecoderConfig = &dc
		a.w.sentConfig = true
	}
	if !a.current(gen) {
		return nil
	}
	a.cb.Output(EncodedAudioChunk{
		Type:      ChunkKey,
		Timestamp: ts,
		Duration:  a.w.frameDuration,
		Data:      packet,
	}, meta)
	return nil
}

// fail closes the encoder with err and reports it, unless the epoch that
// produced err has already been discarded.
func (a *AudioEncoder) fail(gen uint64, err error) {
	a.mu.Lock()
	if a.state == StateClosed || gen != a.gen {
		a.mu.Unlock()
		return
	}
	a.closeLocked(err)
	a.mu.Unlock()

	a.log.Warnw("encoder closed on error", "codec", a.w.cfg.Codec, "error", err)
	if a.cb.Error != nil {
		a.cb.Error(err)
	}
}

func (a *AudioEncoder) releaseCodec() {
	if a.w.codec != nil {
		if err := a.w.codec.Close(); err != nil {
			a.log.Debugw("codec close failed", "error", err)
		}
		a.w.codec = nil
	}
	a.w.pending = a.w.pending[:0]
	a.w.sentConfig = false
}
