package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/thesyncim/conformance/pkg/transport"
)

// session is one peer receiving the synthesized Opus track.
type session struct {
	id       string
	dtx      bool
	log      *zap.SugaredLogger
	pc       *webrtc.PeerConnection
	track    *webrtc.TrackLocalStaticRTP
	streamer streamer
	onClose  func(id string)

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	closeOnce sync.Once

	mu    sync.Mutex
	stats *transport.StatsInterceptor
}

func (s *Server) newSession(dtx bool) (*session, error) {
	id := uuid.NewString()
	log := s.log.With("session", id, "dtx", dtx)

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:  id,
		dtx: dtx,
		log: log,
		streamer: streamer{
			scenario: s.cfg.Scenario,
			dtx:      dtx,
			realtime: true,
			log:      log,
		},
		onClose: s.removeSession,
		ctx:     ctx,
		cancel:  cancel,
	}

	pc, track, err := s.newPeerConnection(sess)
	if err != nil {
		cancel()
		return nil, err
	}
	sess.pc = pc
	sess.track = track
	pc.OnConnectionStateChange(sess.onStateChange)
	return sess, nil
}

func (s *Server) newPeerConnection(sess *session) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticRTP, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, nil, fmt.Errorf("register codecs: %w", err)
	}

	factory, err := transport.NewStatsFactory(
		transport.WithFactoryReportInterval(s.cfg.ReportInterval),
		transport.WithFactoryLogger(sess.log),
		transport.WithOnNewInterceptor(func(_ string, si *transport.StatsInterceptor) {
			sess.setStats(si)
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("stats factory: %w", err)
	}
	i := &interceptor.Registry{}
	i.Add(factory)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
	)
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, fmt.Errorf("create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: transport.OpusClockRate,
		Channels:  2,
	}, "audio", "conformance-"+sess.id)
	if err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("create track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("add track: %w", err)
	}

	// Incoming RTCP must be read for interceptors to see it.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return pc, track, nil
}

// negotiate applies offer and returns the answer once ICE gathering is
// complete, so the answer carries every candidate.
func (sess *session) negotiate(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := sess.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := sess.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(sess.pc)
	if err := sess.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
	return *sess.pc.LocalDescription(), nil
}

func (sess *session) onStateChange(state webrtc.PeerConnectionState) {
	sess.log.Infow("connection state changed", "state", state.String())
	switch state {
	case webrtc.PeerConnectionStateConnected:
		sess.startOnce.Do(func() {
			go sess.stream()
		})
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		// Close from a new goroutine; the callback runs on pion's
		// signaling path.
		go sess.close()
	}
}

func (sess *session) stream() {
	sent, err := sess.streamer.run(sess.ctx, sess.track)
	if err != nil && !errors.Is(err, context.Canceled) {
		sess.log.Warnw("streaming stopped", "error", err, "packets", sent)
		return
	}
	fields := []any{"packets", sent}
	if st, ok := sess.streamStats(); ok {
		fields = append(fields, "talkspurts", st.Talkspurts, "octets", st.Octets)
	}
	sess.log.Infow("scenario streamed", fields...)
}

func (sess *session) setStats(si *transport.StatsInterceptor) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.stats = si
}

func (sess *session) allStats() []transport.StreamStats {
	sess.mu.Lock()
	si := sess.stats
	sess.mu.Unlock()
	if si == nil {
		return nil
	}
	return si.AllStats()
}

func (sess *session) streamStats() (transport.StreamStats, bool) {
	all := sess.allStats()
	if len(all) == 0 {
		return transport.StreamStats{}, false
	}
	return all[0], true
}

func (sess *session) close() {
	sess.closeOnce.Do(func() {
		sess.cancel()
		if err := sess.pc.Close(); err != nil {
			sess.log.Warnw("close peer connection", "error", err)
		}
		if sess.onClose != nil {
			sess.onClose(sess.id)
		}
	})
}
