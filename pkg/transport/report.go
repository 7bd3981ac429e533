package transport

import (
	"time"

	"github.com/pion/rtcp"
)

// ntpEpochOffset is the number of seconds between 1900-01-01 and 1970-01-01.
const ntpEpochOffset = 2_208_988_800

// NTPTime converts t to the 64-bit NTP format used in sender reports.
func NTPTime(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / 1_000_000_000
	return secs<<32 | frac
}

// SenderReport builds an RTCP sender report for ssrc from stats as of now.
// The RTP timestamp is extrapolated from the last packet sent, so it keeps
// advancing through DTX gaps.
func SenderReport(ssrc uint32, stats StreamStats, now time.Time) *rtcp.SenderReport {
	rtpTime := stats.LastRTPTimestamp
	if stats.ClockRate > 0 && !stats.LastPacket.IsZero() && now.After(stats.LastPacket) {
		elapsed := now.Sub(stats.LastPacket)
		rtpTime += uint32(elapsed.Nanoseconds() * int64(stats.ClockRate) / int64(time.Second))
	}
	return &rtcp.SenderReport{
		SSRC:        ssrc,
		NTPTime:     NTPTime(now),
		RTPTime:     rtpTime,
		PacketCount: stats.Packets,
		OctetCount:  stats.Octets,
	}
}
