package conformance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/thesyncim/conformance/pkg/internal"
	"github.com/thesyncim/conformance/pkg/transport"
	"github.com/thesyncim/conformance/pkg/webcodecs"
)

// Pipeline is the encoding capability under test. *webcodecs.AudioEncoder
// implements it.
//
// Callbacks may run on any goroutine, but none may run after Close returns.
type Pipeline interface {
	Configure(cfg webcodecs.AudioEncoderConfig) error
	Encode(data *webcodecs.AudioData) error
	Flush(ctx context.Context) error
	Close() error
	EncodeQueueSize() int
}

// PipelineFactory creates an unconfigured pipeline reporting to cb.
type PipelineFactory func(cb webcodecs.EncoderCallbacks) (Pipeline, error)

// EncoderFactory returns a PipelineFactory building AudioEncoders with opts.
func EncoderFactory(opts ...webcodecs.EncoderOption) PipelineFactory {
	return func(cb webcodecs.EncoderCallbacks) (Pipeline, error) {
		return webcodecs.NewAudioEncoder(cb, opts...)
	}
}

// Pipeline labels.
const (
	LabelNormal = "normal"
	LabelDTX    = "dtx"
)

// SSRCs of the RTP streams the two pipelines are accounted on.
const (
	ssrcNormal uint32 = 0x4e4f524d
	ssrcDTX    uint32 = 0x44545831
)

// RunResult is what one pipeline produced.
type RunResult struct {
	Label  string
	Config webcodecs.AudioEncoderConfig
	Chunks []webcodecs.EncodedAudioChunk
	Bytes  int
	RTP    transport.StreamStats
	Gaps   int // DTX gaps skipped by the packetizer
}

// Count returns the number of chunks emitted.
func (r RunResult) Count() int {
	return len(r.Chunks)
}

// Result is the outcome of one Driver.Run.
type Result struct {
	ID       string
	Scenario Scenario
	Normal   RunResult
	DTX      RunResult
	Elapsed  time.Duration
}

// Driver feeds an identical frame sequence to a normal and a DTX pipeline
// and collects what each emits.
type Driver struct {
	factory     PipelineFactory
	log         *zap.SugaredLogger
	clock       internal.Clock
	minSegments int
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithPipelineFactory replaces the pipeline constructor. Default: AudioEncoders
// on webcodecs.DefaultRegistry.
func WithPipelineFactory(f PipelineFactory) DriverOption {
	return func(d *Driver) {
		d.factory = f
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) DriverOption {
	return func(d *Driver) {
		d.log = l
	}
}

// WithClock sets the time source used for run timing and RTP stats.
func WithClock(c internal.Clock) DriverOption {
	return func(d *Driver) {
		d.clock = c
	}
}

// WithMinSegments overrides MinSegments. Lowering it lets degenerate
// scenarios through, which only makes sense when probing the guard itself.
func WithMinSegments(n int) DriverOption {
	return func(d *Driver) {
		d.minSegments = n
	}
}

// NewDriver creates a Driver.
func NewDriver(opts ...DriverOption) *Driver {
	d := &Driver{
		clock:       internal.SystemClock{},
		minSegments: MinSegments,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = zap.NewNop().Sugar()
	}
	if d.factory == nil {
		d.factory = EncoderFactory(webcodecs.WithLogger(d.log))
	}
	return d
}

// side is one pipeline together with its output collection.
type side struct {
	label    string
	cfg      webcodecs.AudioEncoderConfig
	pipeline Pipeline
	stream   *transport.Stream
	col      *collector
}

func (d *Driver) newSide(label string, cfg webcodecs.AudioEncoderConfig, ssrc uint32, fail context.CancelCauseFunc) (*side, error) {
	s := &side{label: label, cfg: cfg}
	s.stream = transport.NewStream(transport.DefaultPacketizerConfig(ssrc), nil, transport.WithClock(d.clock))
	s.col = newCollector(label, s.stream, fail)

	p, err := d.factory(webcodecs.EncoderCallbacks{
		Output: s.col.output,
		Error: func(err error) {
			fail(fmt.Errorf("%s pipeline: %w", label, err))
		},
	})
	if err != nil {
		s.col.finish()
		s.stream.Close()
		return nil, fmt.Errorf("%s pipeline: create: %w", label, err)
	}
	s.pipeline = p
	return s, nil
}

// shutdown closes the pipeline and collects its outputs. Close reporting
// ErrInvalidState means an error already closed the pipeline.
func (s *side) shutdown() (RunResult, error) {
	var errs []error
	if err := s.pipeline.Close(); err != nil && !errors.Is(err, webcodecs.ErrInvalidState) {
		errs = append(errs, fmt.Errorf("%s pipeline: close: %w", s.label, err))
	}
	if err := s.col.finish(); err != nil {
		errs = append(errs, err)
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, err)
	}
	return RunResult{
		Label:  s.label,
		Config: s.cfg,
		Chunks: s.col.chunks,
		Bytes:  s.col.bytes,
		RTP:    s.stream.Stats(),
		Gaps:   s.stream.Gaps(),
	}, errors.Join(errs...)
}

// Run executes scenario s. Any pipeline error aborts the run and is
// returned; the partial Result is returned alongside it.
func (d *Driver) Run(ctx context.Context, s Scenario) (*Result, error) {
	s = s.withDefaults()
	if err := s.validate(d.minSegments); err != nil {
		return nil, err
	}
	segs, err := Segments(s.TotalDuration, s.DataCount, s.SampleRate)
	if err != nil {
		return nil, err
	}

	res := &Result{ID: uuid.NewString(), Scenario: s}
	log := d.log.With("run", res.ID, "scenario", s.Name)
	start := d.clock.Now()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	normal, err := d.newSide(LabelNormal, s.EncoderConfig(false), ssrcNormal, cancel)
	if err != nil {
		return nil, err
	}
	dtx, err := d.newSide(LabelDTX, s.EncoderConfig(true), ssrcDTX, cancel)
	if err != nil {
		normal.shutdown()
		return nil, err
	}
	sides := []*side{normal, dtx}

	runErr := d.drive(ctx, sides, segs, s)

	var closeErrs []error
	for _, sd := range sides {
		rr, err := sd.shutdown()
		if err != nil {
			closeErrs = append(closeErrs, err)
		}
		if sd.label == LabelNormal {
			res.Normal = rr
		} else {
			res.DTX = rr
		}
	}
	res.Elapsed = d.clock.Now().Sub(start)

	// A pipeline failure cancels ctx with the failure as cause. It fails
	// the run even when it fired during Flush or Close and the loop saw
	// nothing.
	if cause := context.Cause(ctx); cause != nil {
		runErr = cause
	}
	if runErr == nil {
		runErr = errors.Join(closeErrs...)
	}
	if runErr != nil {
		log.Warnw("run failed", "error", runErr)
		return res, runErr
	}

	log.Infow("run complete",
		"normal", res.Normal.Count(), "dtx", res.DTX.Count(),
		"normalBytes", res.Normal.Bytes, "dtxBytes", res.DTX.Bytes,
		"elapsed", res.Elapsed)
	return res, nil
}

// drive configures both pipelines, submits every segment to each in turn
// and waits for both flushes together.
func (d *Driver) drive(ctx context.Context, sides []*side, segs []Segment, s Scenario) error {
	for _, sd := range sides {
		if err := sd.pipeline.Configure(sd.cfg); err != nil {
			return fmt.Errorf("%s pipeline: configure: %w", sd.label, err)
		}
	}

	for _, seg := range segs {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		frame, err := seg.Frame(s.Channels, s.SampleRate)
		if err != nil {
			return err
		}
		for _, sd := range sides {
			if err := sd.pipeline.Encode(frame); err != nil {
				frame.Close()
				return fmt.Errorf("%s pipeline: encode segment %d: %w", sd.label, seg.Index, err)
			}
		}
		frame.Close()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sd := range sides {
		g.Go(func() error {
			if err := sd.pipeline.Flush(gctx); err != nil {
				return fmt.Errorf("%s pipeline: flush: %w", sd.label, err)
			}
			if n := sd.pipeline.EncodeQueueSize(); n != 0 {
				return fmt.Errorf("%s pipeline: %d encodes still queued after flush", sd.label, n)
			}
			return nil
		})
	}
	return g.Wait()
}
