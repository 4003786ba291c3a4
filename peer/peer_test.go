package peer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ownerofglory/go-pion-rtcbridge/engine"
	"github.com/ownerofglory/go-pion-rtcbridge/engine/enginetest"
	"github.com/ownerofglory/go-pion-rtcbridge/rtc"
	"github.com/ownerofglory/go-pion-rtcbridge/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	in chan *signaling.ClientMessage

	mu      sync.Mutex
	written []*signaling.ClientMessage
}

func newFakeClient() *fakeClient {
	return &fakeClient{in: make(chan *signaling.ClientMessage, 16)}
}

func (c *fakeClient) Write(m *signaling.ClientMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, m)
	return nil
}

func (c *fakeClient) Read() (*signaling.ClientMessage, error) {
	m, ok := <-c.in
	if !ok {
		return nil, io.EOF
	}
	return m, nil
}

func (c *fakeClient) Close() error { return nil }

func (c *fakeClient) sent() []*signaling.ClientMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*signaling.ClientMessage(nil), c.written...)
}

func newHandler(t *testing.T) (*peerConnHandler, *fakeClient, *enginetest.Engine, *enginetest.Session) {
	t.Helper()
	client := newFakeClient()
	eng := enginetest.New()
	ch, err := NewWebRTCPeerConnHandler(client, eng, &engine.Configuration{})
	require.NoError(t, err)
	t.Cleanup(ch.Shutdown)
	return ch, client, eng, eng.Sessions()[0]
}

func TestAnswersOfferAndAppliesEarlyCandidates(t *testing.T) {
	ctx := context.Background()
	ch, client, _, sess := newHandler(t)

	require.NoError(t, ch.handleMessage(ctx, &signaling.ClientMessage{From: "pi"}))
	require.NoError(t, ch.handleMessage(ctx, &signaling.ClientMessage{
		From:   "browser",
		Signal: &signaling.WebrtcSignal{Candidate: "candidate:early", SDPMid: "0"},
	}))
	assert.Empty(t, sess.Applied())

	require.NoError(t, ch.handleMessage(ctx, &signaling.ClientMessage{
		From:   "browser",
		Signal: &signaling.WebrtcSignal{Type: "offer", SDP: "v=0 browser"},
	}))

	applied := sess.Applied()
	require.Len(t, applied, 1)
	assert.Equal(t, "candidate:early", applied[0].Candidate)

	sent := client.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "browser", sent[0].To)
	assert.Equal(t, "answer", sent[0].Signal.Type)
	assert.Equal(t, "v=0 answer", sent[0].Signal.SDP)
	assert.Equal(t, engine.SignalingStateStable, ch.pc.SignalingState())
}

func TestTrickleCandidatesToCaller(t *testing.T) {
	ctx := context.Background()
	ch, client, _, _ := newHandler(t)
	mid := "0"

	// no caller yet
	ch.OnICECandidate(engine.ICECandidate{Candidate: "candidate:a", SDPMid: &mid})
	assert.Empty(t, client.sent())

	require.NoError(t, ch.handleMessage(ctx, &signaling.ClientMessage{
		From:   "browser",
		Signal: &signaling.WebrtcSignal{Type: "offer", SDP: "v=0"},
	}))
	ch.OnICECandidate(engine.ICECandidate{Candidate: "candidate:b", SDPMid: &mid})

	sent := client.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "browser", sent[1].To)
	assert.Equal(t, &signaling.WebrtcSignal{Candidate: "candidate:b", SDPMid: "0"}, sent[1].Signal)
}

func TestRenegotiatesWhenTrackAddedMidCall(t *testing.T) {
	ctx := context.Background()
	ch, client, eng, _ := newHandler(t)

	require.NoError(t, ch.handleMessage(ctx, &signaling.ClientMessage{
		From:   "browser",
		Signal: &signaling.WebrtcSignal{Type: "offer", SDP: "v=0"},
	}))

	track, err := rtc.CreateVideoTrack(eng, "cam", rtc.VideoFormat{Width: 2, Height: 2})
	require.NoError(t, err)
	defer track.Close()
	require.NoError(t, ch.pc.AddTrack(ctx, track, nil))

	require.Eventually(t, func() bool { return len(client.sent()) == 2 }, time.Second, 5*time.Millisecond)
	offer := client.sent()[1]
	assert.Equal(t, "offer", offer.Signal.Type)
	assert.Equal(t, "browser", offer.To)

	require.NoError(t, ch.handleMessage(ctx, &signaling.ClientMessage{
		From:   "browser",
		Signal: &signaling.WebrtcSignal{Type: "answer", SDP: "v=0 answer"},
	}))
	assert.Equal(t, engine.SignalingStateStable, ch.pc.SignalingState())

	// a stray answer while stable is ignored
	require.NoError(t, ch.handleMessage(ctx, &signaling.ClientMessage{
		From:   "browser",
		Signal: &signaling.WebrtcSignal{Type: "answer", SDP: "v=0 again"},
	}))
}

func TestHandleConnectionPublishesAndStops(t *testing.T) {
	ch, client, eng, sess := newHandler(t)

	stream, err := rtc.NewMediaStream("pi-stream")
	require.NoError(t, err)
	defer stream.Close()
	track, err := rtc.CreateVideoTrack(eng, "cam", rtc.VideoFormat{Width: 2, Height: 2})
	require.NoError(t, err)
	defer track.Close()
	stream.AddTrack(track)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.HandleConnection(ctx, Media{Stream: stream, Tracks: stream.Tracks()}) }()

	client.in <- &signaling.ClientMessage{From: "browser", Signal: &signaling.WebrtcSignal{Type: "offer", SDP: "v=0"}}
	require.Eventually(t, func() bool { return len(client.sent()) == 1 }, time.Second, 5*time.Millisecond)

	added := sess.AddedTracks()
	require.Len(t, added, 1)
	assert.Equal(t, "pi-stream", added[0].StreamID)

	cancel()
	assert.NoError(t, <-done)

	close(client.in)
}

func TestHandleConnectionReturnsReadError(t *testing.T) {
	ch, client, _, _ := newHandler(t)
	close(client.in)

	err := ch.HandleConnection(context.Background(), Media{})
	assert.ErrorIs(t, err, io.EOF)
}

func TestFetchRTCConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rtc-config" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"iceServers": []map[string]any{
				{"urls": []string{"stun:stun.example:3478"}},
				{"urls": []string{"turn:turn.example:3478"}, "username": "u", "credential": "p"},
			},
		})
	}))
	defer srv.Close()

	cfg, err := FetchRTCConfig(context.Background(), srv.URL+"/rtc-config")
	require.NoError(t, err)
	require.Len(t, cfg.ICEServers, 2)
	assert.Equal(t, []string{"stun:stun.example:3478"}, cfg.ICEServers[0].URLs)
	assert.Equal(t, "u", cfg.ICEServers[1].Username)

	_, err = FetchRTCConfig(context.Background(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "bad status")
}
