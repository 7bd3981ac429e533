// Package transport carries encoded audio chunks over RTP.
//
// A Packetizer turns the chunk stream of an AudioEncoder into RTP packets,
// skipping RTP time across frames suppressed by DTX. A StatsInterceptor,
// registered through StatsFactory or bound directly in an interceptor chain,
// counts what each local stream sent and can emit RTCP sender reports:
//
//	registry := &interceptor.Registry{}
//	factory, err := transport.NewStatsFactory(
//	    transport.WithFactoryReportInterval(time.Second),
//	)
//	if err != nil {
//	    return err
//	}
//	registry.Add(factory)
//
// Stream reports how many packets a chunk stream produces without a
// PeerConnection, which is what the DTX conformance driver uses.
package transport
