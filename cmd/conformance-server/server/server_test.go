package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/http/httptrace"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/thesyncim/conformance/pkg/earlyhints"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := NewServer(cfg, WithLogger(zaptest.NewLogger(t).Sugar()))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(ctx))
		ts.Close()
	})
	return srv, ts
}

func getBody(t *testing.T, u string) (int, string) {
	t.Helper()
	resp, err := http.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServerStartStop(t *testing.T) {
	srv, err := NewServer(DefaultConfig())
	require.NoError(t, err)

	addr, err := srv.Start()
	require.NoError(t, err)
	require.NotEmpty(t, addr)
	require.NotEqual(t, ":0", addr)
	assert.Equal(t, addr, srv.Addr())

	code, body := getBody(t, "http://"+addr+"/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "WebCodecs Opus DTX Conformance")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	_, err = http.Get("http://" + addr + "/")
	assert.Error(t, err, "server still answering after shutdown")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":0", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, time.Second, cfg.ReportInterval)
	assert.Equal(t, "opus", cfg.Scenario.Codec)
}

func TestServerDoubleStart(t *testing.T) {
	srv, err := NewServer(DefaultConfig())
	require.NoError(t, err)
	defer srv.Shutdown(context.Background())

	addr1, err := srv.Start()
	require.NoError(t, err)
	addr2, err := srv.Start()
	require.NoError(t, err)
	assert.Equal(t, addr1, addr2)
}

func TestNewServer_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative report interval", func(c *Config) { c.ReportInterval = -time.Second }},
		{"single segment", func(c *Config) { c.Scenario.DataCount = 1 }},
		{"not opus", func(c *Config) { c.Scenario.Codec = "pcm" }},
		{"unsupported sample rate", func(c *Config) { c.Scenario.SampleRate = 44100 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewServer(cfg)
			assert.Error(t, err)
		})
	}
}

func TestServer_ServesPages(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())

	tests := []struct {
		path string
		want string
	}{
		{"/", "WebCodecs Opus DTX Conformance"},
		{"/", "opus: { usedtx: false }"},
		{"/webrtc.html", "receiveAudio"},
		{"/early-hints/", "navigateToTestWithEarlyHints"},
		{"/early-hints/resources/early-hints-helpers.js", "getPreloadsFromSearchParams"},
		{"/early-hints/resources/empty.js", "Intentionally empty"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, body := getBody(t, ts.URL+tt.path)
			assert.Equal(t, http.StatusOK, code)
			assert.Contains(t, body, tt.want)
		})
	}
}

func TestServer_EarlyHintsLoader(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())

	base, err := url.Parse(ts.URL + "/early-hints/")
	require.NoError(t, err)
	u, err := earlyhints.LoaderURL(base, "/early-hints/resources/early-hints-test.html", []earlyhints.Preload{
		{URL: "/early-hints/resources/empty.js?abc", As: "script"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/early-hints/"+earlyhints.LoaderPath, u.Path)

	var (
		mu    sync.Mutex
		codes []int
		links []string
	)
	trace := &httptrace.ClientTrace{
		Got1xxResponse: func(code int, header textproto.MIMEHeader) error {
			mu.Lock()
			defer mu.Unlock()
			codes = append(codes, code)
			links = append(links, header.Values("Link")...)
			return nil
		},
	}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(context.Background(), trace),
		http.MethodGet, u.String(), nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "early hints test document")
	assert.Empty(t, resp.Header.Values("Link"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{http.StatusEarlyHints}, codes)
	assert.Equal(t, []string{"</early-hints/resources/empty.js?abc>; rel=preload; as=script"}, links)
}

func TestHandleOffer_BadRequests(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())

	tests := []struct {
		name  string
		query string
		body  string
	}{
		{"not json", "", "{"},
		{"bad dtx", "?dtx=maybe", `{"type":"offer","sdp":""}`},
		{"answer instead of offer", "", `{"type":"answer","sdp":"v=0"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/offer"+tt.query, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func fetchStats(t *testing.T, base string) []SessionStats {
	t.Helper()
	resp, err := http.Get(base + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var out []SessionStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandleOffer_StreamsOpusTrack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scenario.TotalDuration = time.Second
	cfg.Scenario.DataCount = 10
	_, ts := newTestServer(t, cfg)

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer pc.Close()
	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	require.NoError(t, err)

	packets := make(chan *rtp.Packet, 512)
	mimeType := make(chan string, 1)
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		mimeType <- track.Codec().MimeType
		for {
			p, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			select {
			case packets <- p:
			default:
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	require.NoError(t, pc.SetLocalDescription(offer))
	<-gatherComplete

	body, err := json.Marshal(pc.LocalDescription())
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/offer?dtx=1", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var answer webrtc.SessionDescription
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&answer))
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	require.NoError(t, pc.SetRemoteDescription(answer))

	select {
	case mt := <-mimeType:
		assert.Equal(t, webrtc.MimeTypeOpus, mt)
	case <-time.After(10 * time.Second):
		t.Fatal("no track received")
	}
	select {
	case p := <-packets:
		assert.True(t, p.Marker, "first packet starts a talkspurt")
		assert.NotEmpty(t, p.Payload)
	case <-time.After(10 * time.Second):
		t.Fatal("no RTP received")
	}

	require.Eventually(t, func() bool {
		stats := fetchStats(t, ts.URL)
		return len(stats) == 1 && len(stats[0].Streams) == 1 && stats[0].Streams[0].Packets > 0
	}, 5*time.Second, 50*time.Millisecond)

	stats := fetchStats(t, ts.URL)
	assert.True(t, stats[0].DTX)
	assert.Equal(t, uint32(48000), stats[0].Streams[0].ClockRate)
}
