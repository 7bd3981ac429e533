package transport

import (
	"sync"
	"time"
)

// StreamStats is a snapshot of what has been sent on one local stream.
type StreamStats struct {
	SSRC             uint32
	ClockRate        uint32
	Packets          uint32
	Octets           uint32 // payload bytes, as counted in RTCP sender reports
	Talkspurts       int    // packets with the marker bit set
	LastRTPTimestamp uint32
	FirstPacket      time.Time
	LastPacket       time.Time
	Bitrate          int64 // bits/s over the rate window, 0 if unknown
}

// streamStats accumulates StreamStats. Writers run on the RTP write path
// while readers snapshot from report and test goroutines, so a mutex guards
// every field.
type streamStats struct {
	mu    sync.Mutex
	s     StreamStats
	rate  *RateWindow
	bound bool
}

func newStreamStats(ssrc, clockRate uint32, window time.Duration) *streamStats {
	return &streamStats{
		s:     StreamStats{SSRC: ssrc, ClockRate: clockRate},
		rate:  NewRateWindow(window),
		bound: true,
	}
}

func (st *streamStats) record(payload int, rtpTS uint32, marker bool, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.s.Packets == 0 {
		st.s.FirstPacket = now
	}
	st.s.Packets++
	st.s.Octets += uint32(payload)
	if marker {
		st.s.Talkspurts++
	}
	st.s.LastRTPTimestamp = rtpTS
	st.s.LastPacket = now
	st.rate.Add(payload, now)
}

func (st *streamStats) snapshot(now time.Time) StreamStats {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.s
	if bps, ok := st.rate.Rate(now); ok {
		s.Bitrate = bps
	}
	return s
}

func (st *streamStats) unbind() {
	st.mu.Lock()
	st.bound = false
	st.mu.Unlock()
}

func (st *streamStats) isBound() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.bound
}
