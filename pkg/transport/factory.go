package transport

import (
	"errors"
	"time"

	"github.com/pion/interceptor"
	"go.uber.org/zap"

	"github.com/thesyncim/conformance/pkg/internal"
)

// FactoryOption configures a StatsFactory.
type FactoryOption func(*StatsFactory) error

// StatsFactory creates a StatsInterceptor per PeerConnection. Register it
// with an interceptor.Registry.
type StatsFactory struct {
	clock          internal.Clock
	window         time.Duration
	reportInterval time.Duration
	log            *zap.SugaredLogger
	onNew          func(id string, s *StatsInterceptor)
}

// WithFactoryReportInterval sets how often sender reports are sent.
// Default: 0 (disabled).
func WithFactoryReportInterval(d time.Duration) FactoryOption {
	return func(f *StatsFactory) error {
		if d < 0 {
			return errors.New("report interval must not be negative")
		}
		f.reportInterval = d
		return nil
	}
}

// WithFactoryRateWindow sets the bitrate window of created interceptors.
func WithFactoryRateWindow(d time.Duration) FactoryOption {
	return func(f *StatsFactory) error {
		if d <= 0 {
			return errors.New("rate window must be positive")
		}
		f.window = d
		return nil
	}
}

// WithFactoryClock sets the clock handed to created interceptors.
func WithFactoryClock(c internal.Clock) FactoryOption {
	return func(f *StatsFactory) error {
		f.clock = c
		return nil
	}
}

// WithFactoryLogger sets the logger handed to created interceptors.
func WithFactoryLogger(l *zap.SugaredLogger) FactoryOption {
	return func(f *StatsFactory) error {
		f.log = l
		return nil
	}
}

// WithOnNewInterceptor registers a callback invoked with every interceptor
// the factory creates, so callers can read its stats later.
func WithOnNewInterceptor(fn func(id string, s *StatsInterceptor)) FactoryOption {
	return func(f *StatsFactory) error {
		f.onNew = fn
		return nil
	}
}

// NewStatsFactory creates a factory.
func NewStatsFactory(opts ...FactoryOption) (*StatsFactory, error) {
	f := &StatsFactory{
		clock:  internal.SystemClock{},
		window: DefaultRateWindow,
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// NewInterceptor implements interceptor.Factory.
func (f *StatsFactory) NewInterceptor(id string) (interceptor.Interceptor, error) {
	opts := []StatsOption{
		WithClock(f.clock),
		WithRateWindow(f.window),
		WithReportInterval(f.reportInterval),
	}
	if f.log != nil {
		opts = append(opts, WithStatsLogger(f.log.With("interceptor", id)))
	}
	s := NewStatsInterceptor(opts...)
	if f.onNew != nil {
		f.onNew(id, s)
	}
	return s, nil
}
