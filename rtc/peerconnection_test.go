package rtc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ownerofglory/go-pion-rtcbridge/engine"
	"github.com/ownerofglory/go-pion-rtcbridge/engine/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPC(t *testing.T, h Handler, opts ...Option) (*RTCPeerConnection, *enginetest.Engine, *enginetest.Session) {
	t.Helper()
	eng := enginetest.New()
	pc, err := NewPeerConnection(eng, engine.Configuration{}, h, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc, eng, eng.Sessions()[0]
}

func candidate(s string) engine.ICECandidate {
	return engine.ICECandidate{Candidate: s}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	ctx := context.Background()
	pc, _, sess := newTestPC(t, HandlerFuncs{})

	require.NoError(t, pc.AddICECandidate(ctx, candidate("c1")))
	require.NoError(t, pc.AddICECandidate(ctx, candidate("c2")))
	assert.Equal(t, 2, pc.PendingCandidates())
	assert.Empty(t, sess.Applied())

	require.NoError(t, pc.SetRemoteDescription(ctx, engine.SessionDescription{Type: engine.SDPTypeOffer, SDP: "v=0"}))
	require.NoError(t, pc.AddICECandidate(ctx, candidate("c3")))

	assert.Equal(t, []engine.ICECandidate{candidate("c1"), candidate("c2"), candidate("c3")}, sess.Applied())
	assert.Zero(t, pc.PendingCandidates())
}

func TestAnsweringFlow(t *testing.T) {
	ctx := context.Background()
	pc, _, sess := newTestPC(t, HandlerFuncs{})

	offer := engine.SessionDescription{Type: engine.SDPTypeOffer, SDP: "v=0 remote"}
	require.NoError(t, pc.SetRemoteDescription(ctx, offer))
	assert.Equal(t, engine.SignalingStateHaveRemoteOffer, pc.SignalingState())

	answer, err := pc.CreateAnswer(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.SDPTypeAnswer, answer.Type)
	require.NoError(t, pc.SetLocalDescription(ctx, answer))

	assert.Equal(t, engine.SignalingStateStable, pc.SignalingState())
	assert.Equal(t, &offer, pc.RemoteDescription())
	assert.Equal(t, &answer, pc.LocalDescription())
	assert.Equal(t, []string{"SetRemoteDescription", "CreateAnswer", "SetLocalDescription"}, sess.Ops())
}

func TestNegotiationFailureIsDistinct(t *testing.T) {
	ctx := context.Background()
	pc, _, sess := newTestPC(t, HandlerFuncs{})

	cause := errors.New("no common codec")
	sess.Fail("CreateOffer", cause)

	_, err := pc.CreateOffer(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNegotiation)
	assert.ErrorIs(t, err, cause)

	var nerr *NegotiationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, StageCreateOffer, nerr.Stage)

	_, err = pc.CreateAnswer(ctx)
	assert.ErrorIs(t, err, ErrNegotiation)
	assert.Nil(t, pc.LocalDescription())
}

func TestCancelledWaitDoesNotAbortEngineStep(t *testing.T) {
	pc, _, sess := newTestPC(t, HandlerFuncs{})
	sess.Hold()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := pc.CreateOffer(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	sess.Release()
	offer, err := pc.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v=0 offer 2", offer.SDP)
	assert.Equal(t, []string{"CreateOffer", "CreateOffer"}, sess.Ops())
}

func TestAddTrackRenegotiatesAfterSignaling(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	pc, eng, sess := newTestPC(t, rec.funcs())

	first, err := CreateVideoTrack(eng, "cam", VideoFormat{Width: 2, Height: 2})
	require.NoError(t, err)
	require.NoError(t, pc.AddTrack(ctx, first, nil))
	assert.Equal(t, []string{"AddTrack"}, sess.Ops())
	assert.Equal(t, pc.ID(), sess.AddedTracks()[0].StreamID)

	offer, err := pc.CreateOffer(ctx)
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(ctx, offer))
	require.NoError(t, pc.SetRemoteDescription(ctx, engine.SessionDescription{Type: engine.SDPTypeAnswer, SDP: "v=0 answer"}))
	require.Equal(t, engine.SignalingStateStable, pc.SignalingState())

	stream, err := NewMediaStream("s1")
	require.NoError(t, err)
	defer stream.Close()
	second, err := CreateAudioTrack(eng, "mic", AudioFormat{SampleRate: 8000, Channels: 1})
	require.NoError(t, err)
	require.NoError(t, pc.AddTrack(ctx, second, stream))

	assert.Equal(t, "s1", sess.AddedTracks()[1].StreamID)
	require.Eventually(t, func() bool { return len(rec.snapshot().offers) == 1 }, time.Second, 5*time.Millisecond)
	reoffer := rec.snapshot().offers[0]
	assert.Equal(t, "v=0 offer 2", reoffer.SDP)
	assert.Equal(t, &reoffer, pc.LocalDescription())
	assert.Equal(t, engine.SignalingStateHaveLocalOffer, pc.SignalingState())
}

func TestAddTrackDuringOfferRenegotiatesWhenStable(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	pc, eng, sess := newTestPC(t, rec.funcs())

	offer, err := pc.CreateOffer(ctx)
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(ctx, offer))

	late, err := CreateVideoTrack(eng, "late", VideoFormat{Width: 2, Height: 2})
	require.NoError(t, err)
	require.NoError(t, pc.AddTrack(ctx, late, nil))
	assert.Equal(t, engine.SignalingStateHaveLocalOffer, pc.SignalingState())
	assert.Equal(t, &offer, pc.LocalDescription())
	assert.Empty(t, rec.snapshot().offers)

	require.NoError(t, pc.SetRemoteDescription(ctx, engine.SessionDescription{Type: engine.SDPTypeAnswer, SDP: "v=0 answer"}))

	require.Eventually(t, func() bool { return len(rec.snapshot().offers) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "v=0 offer 2", rec.snapshot().offers[0].SDP)
	require.Eventually(t, func() bool {
		return pc.SignalingState() == engine.SignalingStateHaveLocalOffer
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, sess.AddedTracks(), 1)
}

func TestAddTrackWhileAnsweringRenegotiatesAfterAnswer(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	pc, eng, _ := newTestPC(t, rec.funcs())

	require.NoError(t, pc.SetRemoteDescription(ctx, engine.SessionDescription{Type: engine.SDPTypeOffer, SDP: "v=0 remote"}))

	mic, err := CreateAudioTrack(eng, "mic", AudioFormat{SampleRate: 8000, Channels: 1})
	require.NoError(t, err)
	require.NoError(t, pc.AddTrack(ctx, mic, nil))
	assert.Equal(t, engine.SignalingStateHaveRemoteOffer, pc.SignalingState())

	answer, err := pc.CreateAnswer(ctx)
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(ctx, answer))

	require.Eventually(t, func() bool { return len(rec.snapshot().offers) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "v=0 offer 1", rec.snapshot().offers[0].SDP)
}

func TestAddTrackRejectsRemoteTrack(t *testing.T) {
	pc, _, sess := newTestPC(t, HandlerFuncs{})
	sess.EmitTrack(engine.KindVideo, "rv", "s")

	remote := pc.Observer().Tracks()[0]
	err := pc.AddTrack(context.Background(), remote, nil)
	assert.ErrorIs(t, err, ErrInboundTrack)
}

func TestCreateDataChannel(t *testing.T) {
	pc, _, _ := newTestPC(t, HandlerFuncs{})

	ch, err := pc.CreateDataChannel(context.Background(), "ctrl")
	require.NoError(t, err)
	assert.Equal(t, "ctrl", ch.Label())
	assert.Equal(t, ChannelStateConnecting, ch.State())
	assert.Equal(t, []*RTCDataChannel{ch}, pc.Observer().Channels())
}

func TestNewPeerConnectionAllocationFailure(t *testing.T) {
	eng := enginetest.New()
	eng.NewSessionErr = errors.New("no sockets")

	_, err := NewPeerConnection(eng, engine.Configuration{}, HandlerFuncs{})
	assert.ErrorIs(t, err, ErrNativeAllocation)
}

func TestPeerConnectionClose(t *testing.T) {
	pc, _, sess := newTestPC(t, HandlerFuncs{})
	sess.EmitTrack(engine.KindAudio, "ra", "s")

	require.NoError(t, pc.Close())
	require.NoError(t, pc.Close())
	assert.True(t, sess.Closed())
	assert.Equal(t, engine.SignalingStateClosed, pc.SignalingState())

	_, err := pc.CreateOffer(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, pc.AddICECandidate(context.Background(), candidate("c")), ErrClosed)
	assert.Empty(t, pc.Observer().Tracks())
}
