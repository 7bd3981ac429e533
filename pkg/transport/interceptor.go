package transport

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"go.uber.org/zap"

	"github.com/thesyncim/conformance/pkg/internal"
)

// StatsInterceptor counts outgoing RTP packets and octets per SSRC. When a
// report interval is set and an RTCP writer is bound it also emits a sender
// report for every bound stream on that interval.
//
// Stats survive UnbindLocalStream so a finished stream can still be read.
type StatsInterceptor struct {
	interceptor.NoOp

	clock          internal.Clock
	log            *zap.SugaredLogger
	window         time.Duration
	reportInterval time.Duration

	mu      sync.Mutex
	streams map[uint32]*streamStats
	writer  interceptor.RTCPWriter

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// StatsOption configures a StatsInterceptor.
type StatsOption func(*StatsInterceptor)

// WithClock sets the time source. Default: the system clock.
func WithClock(c internal.Clock) StatsOption {
	return func(s *StatsInterceptor) {
		s.clock = c
	}
}

// WithRateWindow sets the bitrate averaging window. Default: 1s.
func WithRateWindow(d time.Duration) StatsOption {
	return func(s *StatsInterceptor) {
		s.window = d
	}
}

// WithReportInterval enables periodic sender reports. Zero disables them.
func WithReportInterval(d time.Duration) StatsOption {
	return func(s *StatsInterceptor) {
		s.reportInterval = d
	}
}

// WithStatsLogger sets the logger.
func WithStatsLogger(l *zap.SugaredLogger) StatsOption {
	return func(s *StatsInterceptor) {
		s.log = l
	}
}

// NewStatsInterceptor creates an interceptor with no streams bound.
func NewStatsInterceptor(opts ...StatsOption) *StatsInterceptor {
	s := &StatsInterceptor{
		clock:   internal.SystemClock{},
		window:  DefaultRateWindow,
		streams: make(map[uint32]*streamStats),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	return s
}

// BindLocalStream wraps writer so every packet written is counted.
func (s *StatsInterceptor) BindLocalStream(info *interceptor.StreamInfo, writer interceptor.RTPWriter) interceptor.RTPWriter {
	st := newStreamStats(info.SSRC, info.ClockRate, s.window)
	s.mu.Lock()
	s.streams[info.SSRC] = st
	s.mu.Unlock()
	s.log.Debugw("local stream bound", "ssrc", info.SSRC, "mime", info.MimeType, "clockRate", info.ClockRate)

	return interceptor.RTPWriterFunc(func(header *rtp.Header, payload []byte, a interceptor.Attributes) (int, error) {
		n, err := writer.Write(header, payload, a)
		if err == nil {
			st.record(len(payload), header.Timestamp, header.Marker, s.clock.Now())
		}
		return n, err
	})
}

// UnbindLocalStream stops reporting for the stream but keeps its stats.
func (s *StatsInterceptor) UnbindLocalStream(info *interceptor.StreamInfo) {
	s.mu.Lock()
	st, ok := s.streams[info.SSRC]
	s.mu.Unlock()
	if ok {
		st.unbind()
	}
}

// BindRTCPWriter captures writer for sender reports and starts the report
// loop if an interval is configured.
func (s *StatsInterceptor) BindRTCPWriter(writer interceptor.RTCPWriter) interceptor.RTCPWriter {
	s.mu.Lock()
	s.writer = writer
	s.mu.Unlock()

	if s.reportInterval > 0 {
		s.wg.Add(1)
		go s.reportLoop()
	}
	return writer
}

// Stats returns the stats for ssrc.
func (s *StatsInterceptor) Stats(ssrc uint32) (StreamStats, bool) {
	s.mu.Lock()
	st, ok := s.streams[ssrc]
	s.mu.Unlock()
	if !ok {
		return StreamStats{}, false
	}
	return st.snapshot(s.clock.Now()), true
}

// AllStats returns the stats of every stream seen, ordered by SSRC.
func (s *StatsInterceptor) AllStats() []StreamStats {
	now := s.clock.Now()
	s.mu.Lock()
	out := make([]StreamStats, 0, len(s.streams))
	for _, st := range s.streams {
		out = append(out, st.snapshot(now))
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b StreamStats) int {
		return cmp.Compare(a.SSRC, b.SSRC)
	})
	return out
}

// Close stops the report loop. It is safe to call more than once.
func (s *StatsInterceptor) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	s.wg.Wait()
	return nil
}

func (s *StatsInterceptor) reportLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.sendReports()
		}
	}
}

// sendReports writes one sender report per bound stream that has sent
// something.
func (s *StatsInterceptor) sendReports() {
	now := s.clock.Now()

	s.mu.Lock()
	writer := s.writer
	var pkts []rtcp.Packet
	for _, st := range s.streams {
		if !st.isBound() {
			continue
		}
		stats := st.snapshot(now)
		if stats.Packets == 0 {
			continue
		}
		pkts = append(pkts, SenderReport(stats.SSRC, stats, now))
	}
	s.mu.Unlock()

	if writer == nil || len(pkts) == 0 {
		return
	}
	if _, err := writer.Write(pkts, nil); err != nil {
		s.log.Debugw("sender report write failed", "error", err)
	}
}
