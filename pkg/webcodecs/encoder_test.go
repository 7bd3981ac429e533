package webcodecs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errFakeCodec = errors.New("fake codec failure")

// fakeFactory builds codecs that emit one byte per frame, optionally
// suppressing all-zero frames and failing on the Nth frame.
type fakeFactory struct {
	frameSize       int
	failAt          int
	suppressSilence bool
	unsupported     bool
}

func (f fakeFactory) Supports(cfg AudioEncoderConfig) error {
	if f.unsupported {
		return ErrNotSupported
	}
	return nil
}

func (f fakeFactory) NewCodec(cfg AudioEncoderConfig) (AudioCodec, error) {
	return &fakeCodec{factory: f, channels: cfg.NumberOfChannels, rate: cfg.SampleRate}, nil
}

type fakeCodec struct {
	factory  fakeFactory
	channels int
	rate     int
	calls    int
	closed   bool
}

func (c *fakeCodec) FrameSize() int { return c.factory.frameSize }

func (c *fakeCodec) EncodeFrame(pcm []float32) ([]byte, error) {
	c.calls++
	if len(pcm) != c.factory.frameSize*c.channels {
		return nil, errors.New("wrong frame length")
	}
	if c.factory.failAt > 0 && c.calls == c.factory.failAt {
		return nil, errFakeCodec
	}
	if c.factory.suppressSilence {
		silent := true
		for _, s := range pcm {
			if s != 0 {
				silent = false
				break
			}
		}
		if silent {
			return nil, nil
		}
	}
	return []byte{byte(c.calls)}, nil
}

func (c *fakeCodec) DecoderConfig() AudioDecoderConfig {
	return AudioDecoderConfig{Codec: "fake", SampleRate: c.rate, NumberOfChannels: c.channels}
}

func (c *fakeCodec) Close() error {
	c.closed = true
	return nil
}

// recorder collects encoder callbacks.
type recorder struct {
	mu     sync.Mutex
	chunks []EncodedAudioChunk
	metas  []EncodedAudioChunkMetadata
	errs   []error
	errCh  chan error
}

func newRecorder() *recorder {
	return &recorder{errCh: make(chan error, 4)}
}

func (r *recorder) callbacks() EncoderCallbacks {
	return EncoderCallbacks{
		Output: func(c EncodedAudioChunk, m EncodedAudioChunkMetadata) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.chunks = append(r.chunks, c)
			r.metas = append(r.metas, m)
		},
		Error: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			r.errCh <- err
		},
	}
}

func (r *recorder) snapshot() []EncodedAudioChunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EncodedAudioChunk(nil), r.chunks...)
}

func newFakeEncoder(t *testing.T, f fakeFactory) (*AudioEncoder, *recorder) {
	t.Helper()
	reg := NewCodecRegistry()
	reg.Register("fake", f)
	rec := newRecorder()
	enc, err := NewAudioEncoder(rec.callbacks(),
		WithRegistry(reg),
		WithLogger(zaptest.NewLogger(t).Sugar()),
	)
	require.NoError(t, err)
	return enc, rec
}

func fakeConfig() AudioEncoderConfig {
	return AudioEncoderConfig{Codec: "fake", SampleRate: 1000, NumberOfChannels: 2}
}

// testData builds stereo planar AudioData at 1kHz so one frame is 1ms.
func testData(t *testing.T, ts int64, frames int, value float32) *AudioData {
	t.Helper()
	data := make([]float32, frames*2)
	for i := range data {
		data[i] = value
	}
	d, err := NewAudioData(AudioDataInit{
		Format:           FormatF32Planar,
		SampleRate:       1000,
		NumberOfFrames:   frames,
		NumberOfChannels: 2,
		Timestamp:        ts,
		Data:             data,
	})
	require.NoError(t, err)
	return d
}

func TestNewAudioEncoder_RequiresOutput(t *testing.T) {
	_, err := NewAudioEncoder(EncoderCallbacks{})
	assert.Error(t, err)
}

func TestAudioEncoder_StateMachine(t *testing.T) {
	enc, _ := newFakeEncoder(t, fakeFactory{frameSize: 10})
	assert.Equal(t, StateUnconfigured, enc.State())

	err := enc.Encode(testData(t, 0, 10, 1))
	assert.ErrorIs(t, err, ErrInvalidState, "encode before configure")
	assert.ErrorIs(t, enc.Flush(context.Background()), ErrInvalidState, "flush before configure")

	require.NoError(t, enc.Configure(fakeConfig()))
	assert.Equal(t, StateConfigured, enc.State())

	require.NoError(t, enc.Reset())
	assert.Equal(t, StateUnconfigured, enc.State())

	require.NoError(t, enc.Configure(fakeConfig()))
	require.NoError(t, enc.Close())
	assert.Equal(t, StateClosed, enc.State())

	assert.ErrorIs(t, enc.Close(), ErrInvalidState)
	assert.ErrorIs(t, enc.Configure(fakeConfig()), ErrInvalidState)
	assert.ErrorIs(t, enc.Reset(), ErrInvalidState)
	assert.ErrorIs(t, enc.Encode(testData(t, 0, 10, 1)), ErrInvalidState)
}

func TestAudioEncoder_ConfigureRejectsBadConfig(t *testing.T) {
	enc, _ := newFakeEncoder(t, fakeFactory{frameSize: 10})
	defer enc.Close()

	assert.ErrorIs(t, enc.Configure(AudioEncoderConfig{Codec: "fake"}), ErrInvalidConfig)
	assert.ErrorIs(t, enc.Configure(AudioEncoderConfig{Codec: "vorbis", SampleRate: 1000, NumberOfChannels: 2}), ErrNotSupported)
	assert.Equal(t, StateUnconfigured, enc.State())

	reg := NewCodecRegistry()
	reg.Register("fake", fakeFactory{frameSize: 10, unsupported: true})
	other, err := NewAudioEncoder(newRecorder().callbacks(), WithRegistry(reg))
	require.NoError(t, err)
	defer other.Close()
	assert.ErrorIs(t, other.Configure(fakeConfig()), ErrNotSupported)
}

func TestAudioEncoder_EncodeRejectsMismatchedData(t *testing.T) {
	enc, _ := newFakeEncoder(t, fakeFactory{frameSize: 10})
	defer enc.Close()
	require.NoError(t, enc.Configure(fakeConfig()))

	mono, err := NewAudioData(AudioDataInit{
		Format: FormatF32Planar, SampleRate: 1000, NumberOfFrames: 10, NumberOfChannels: 1,
		Data: make([]float32, 10),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, enc.Encode(mono), ErrInvalidData)

	closed := testData(t, 0, 10, 1)
	closed.Close()
	assert.ErrorIs(t, enc.Encode(closed), ErrDataClosed)
}

func TestAudioEncoder_OutputsAcrossFrameBoundaries(t *testing.T) {
	enc, rec := newFakeEncoder(t, fakeFactory{frameSize: 4})
	defer enc.Close()
	require.NoError(t, enc.Configure(fakeConfig()))

	// 6 + 6 frames at 1kHz = 12ms, 3 codec frames of 4ms.
	for i, ts := range []int64{0, 6000} {
		d := testData(t, ts, 6, float32(i+1))
		require.NoError(t, enc.Encode(d))
		d.Close()
	}
	require.NoError(t, enc.Flush(context.Background()))
	assert.Equal(t, 0, enc.EncodeQueueSize())

	chunks := rec.snapshot()
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, int64(i*4000), c.Timestamp)
		assert.Equal(t, int64(4000), c.Duration)
		assert.Equal(t, ChunkKey, c.Type)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotNil(t, rec.metas[0].DecoderConfig, "first output carries decoder config")
	assert.Equal(t, "fake", rec.metas[0].DecoderConfig.Codec)
	assert.Nil(t, rec.metas[1].DecoderConfig)
	assert.Nil(t, rec.metas[2].DecoderConfig)
}

func TestAudioEncoder_FlushPadsPartialFrame(t *testing.T) {
	enc, rec := newFakeEncoder(t, fakeFactory{frameSize: 4})
	defer enc.Close()
	require.NoError(t, enc.Configure(fakeConfig()))

	require.NoError(t, enc.Encode(testData(t, 0, 5, 1)))
	require.NoError(t, enc.Flush(context.Background()))
	assert.Len(t, rec.snapshot(), 2, "one full frame plus one padded frame")

	// After flush the next input starts a fresh timeline.
	require.NoError(t, enc.Encode(testData(t, 50_000, 4, 1)))
	require.NoError(t, enc.Flush(context.Background()))
	chunks := rec.snapshot()
	require.Len(t, chunks, 3)
	assert.Equal(t, int64(50_000), chunks[2].Timestamp)
}

func TestAudioEncoder_SuppressedFramesAdvanceTimeline(t *testing.T) {
	enc, rec := newFakeEncoder(t, fakeFactory{frameSize: 5, suppressSilence: true})
	defer enc.Close()
	require.NoError(t, enc.Configure(fakeConfig()))

	require.NoError(t, enc.Encode(testData(t, 0, 5, 1)))
	require.NoError(t, enc.Encode(testData(t, 5000, 10, 0)))
	require.NoError(t, enc.Encode(testData(t, 15000, 5, 1)))
	require.NoError(t, enc.Flush(context.Background()))

	chunks := rec.snapshot()
	require.Len(t, chunks, 2)
	assert.Equal(t, int64(0), chunks[0].Timestamp)
	assert.Equal(t, int64(15000), chunks[1].Timestamp)
}

func TestAudioEncoder_CodecErrorClosesEncoder(t *testing.T) {
	enc, rec := newFakeEncoder(t, fakeFactory{frameSize: 4, failAt: 2})
	require.NoError(t, enc.Configure(fakeConfig()))

	// Park the worker on the first output so the flush is queued before
	// the failing frame is reached.
	record := enc.cb.Output
	gate := make(chan struct{})
	entered := make(chan struct{})
	enc.cb.Output = func(c EncodedAudioChunk, m EncodedAudioChunkMetadata) {
		close(entered)
		<-gate
		record(c, m)
	}

	require.NoError(t, enc.Encode(testData(t, 0, 12, 1)))
	<-entered
	flushErr := make(chan error, 1)
	go func() { flushErr <- enc.Flush(context.Background()) }()
	require.Eventually(t, func() bool {
		enc.mu.Lock()
		defer enc.mu.Unlock()
		return len(enc.queue) == 1
	}, time.Second, time.Millisecond)
	close(gate)

	var err error
	select {
	case err = <-flushErr:
	case <-time.After(time.Second):
		t.Fatal("flush did not complete")
	}
	require.Error(t, err)

	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.ErrorIs(t, err, errFakeCodec)
	assert.Equal(t, int64(4000), encErr.Timestamp)

	select {
	case cbErr := <-rec.errCh:
		assert.ErrorIs(t, cbErr, errFakeCodec)
	case <-time.After(time.Second):
		t.Fatal("error callback did not fire")
	}
	assert.Equal(t, StateClosed, enc.State())
	assert.Len(t, rec.snapshot(), 1, "only the frame before the failure is emitted")
	assert.ErrorIs(t, enc.Close(), ErrInvalidState)
}

func TestAudioEncoder_ResetAbortsPendingFlush(t *testing.T) {
	enc, rec := newFakeEncoder(t, fakeFactory{frameSize: 4})
	defer enc.Close()
	require.NoError(t, enc.Configure(fakeConfig()))

	// Hold the worker inside the output callback so the flush stays queued.
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	enc.cb.Output = func(EncodedAudioChunk, EncodedAudioChunkMetadata) {
		once.Do(func() { close(entered) })
		<-release
	}

	require.NoError(t, enc.Encode(testData(t, 0, 4, 1)))
	<-entered

	flushErr := make(chan error, 1)
	go func() { flushErr <- enc.Flush(context.Background()) }()

	require.Eventually(t, func() bool {
		enc.mu.Lock()
		defer enc.mu.Unlock()
		return len(enc.queue) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, enc.Reset())
	close(release)

	select {
	case err := <-flushErr:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(time.Second):
		t.Fatal("flush did not complete after reset")
	}
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, 0, enc.EncodeQueueSize())
}

func TestAudioEncoder_FlushHonoursContext(t *testing.T) {
	enc, _ := newFakeEncoder(t, fakeFactory{frameSize: 4})
	require.NoError(t, enc.Configure(fakeConfig()))

	release := make(chan struct{})
	enc.cb.Output = func(EncodedAudioChunk, EncodedAudioChunkMetadata) { <-release }
	require.NoError(t, enc.Encode(testData(t, 0, 4, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, enc.Flush(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, enc.Close())
}

func TestAudioEncoder_ReconfigureDrainsPreviousCodec(t *testing.T) {
	enc, rec := newFakeEncoder(t, fakeFactory{frameSize: 4})
	defer enc.Close()
	require.NoError(t, enc.Configure(fakeConfig()))

	require.NoError(t, enc.Encode(testData(t, 0, 2, 1)))
	require.NoError(t, enc.Configure(fakeConfig()))
	require.NoError(t, enc.Encode(testData(t, 100_000, 4, 1)))
	require.NoError(t, enc.Flush(context.Background()))

	chunks := rec.snapshot()
	require.Len(t, chunks, 2)
	assert.Equal(t, int64(0), chunks[0].Timestamp, "partial frame drained by reconfigure")
	assert.Equal(t, int64(100_000), chunks[1].Timestamp)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.NotNil(t, rec.metas[1].DecoderConfig, "new configuration announces decoder config again")
}
