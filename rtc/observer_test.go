package rtc

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ownerofglory/go-pion-rtcbridge/engine"
	"github.com/ownerofglory/go-pion-rtcbridge/engine/enginetest"
	"github.com/ownerofglory/go-pion-rtcbridge/frame"
	"github.com/ownerofglory/go-pion-rtcbridge/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects handler events.
type recorder struct {
	mu       sync.Mutex
	states   []PeerConnectionState
	tracks   []*MediaStreamTrack
	channels []*RTCDataChannel
	errs     []error
	offers   []engine.SessionDescription
	cands    []engine.ICECandidate
}

func (r *recorder) funcs() HandlerFuncs {
	return HandlerFuncs{
		ConnectionChange: func(s PeerConnectionState) { r.mu.Lock(); r.states = append(r.states, s); r.mu.Unlock() },
		ICECandidate:     func(c engine.ICECandidate) { r.mu.Lock(); r.cands = append(r.cands, c); r.mu.Unlock() },
		Track:            func(t *MediaStreamTrack) { r.mu.Lock(); r.tracks = append(r.tracks, t); r.mu.Unlock() },
		DataChannel:      func(ch *RTCDataChannel) { r.mu.Lock(); r.channels = append(r.channels, ch); r.mu.Unlock() },
		Error:            func(err error) { r.mu.Lock(); r.errs = append(r.errs, err); r.mu.Unlock() },
		Renegotiate:      func(sd engine.SessionDescription) { r.mu.Lock(); r.offers = append(r.offers, sd); r.mu.Unlock() },
	}
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		states:   append([]PeerConnectionState(nil), r.states...),
		tracks:   append([]*MediaStreamTrack(nil), r.tracks...),
		channels: append([]*RTCDataChannel(nil), r.channels...),
		errs:     append([]error(nil), r.errs...),
		offers:   append([]engine.SessionDescription(nil), r.offers...),
		cands:    append([]engine.ICECandidate(nil), r.cands...),
	}
}

func TestObserverKeepsOrderWithSlowHandler(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var got []PeerConnectionState

	obs := NewObserver(HandlerFuncs{ConnectionChange: func(s PeerConnectionState) {
		<-release
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}})
	defer obs.Close()

	want := []PeerConnectionState{
		engine.ConnectionStateConnecting,
		engine.ConnectionStateConnected,
		engine.ConnectionStateDisconnected,
		engine.ConnectionStateConnected,
		engine.ConnectionStateFailed,
		engine.ConnectionStateClosed,
	}

	// The handler is blocked; the engine side must still return.
	emitted := make(chan struct{})
	go func() {
		for _, s := range want {
			obs.OnConnectionChange(s)
		}
		close(emitted)
	}()
	select {
	case <-emitted:
	case <-time.After(time.Second):
		t.Fatal("engine callback blocked on handler")
	}
	assert.Equal(t, engine.ConnectionStateClosed, obs.ConnectionState())

	close(release)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, got)
}

func TestObserverRoutesTrackKinds(t *testing.T) {
	eng := enginetest.New()
	rec := &recorder{}
	obs := NewObserver(rec.funcs())
	defer obs.Close()

	sess, err := eng.NewSession(engine.Configuration{}, obs)
	require.NoError(t, err)
	fake := sess.(*enginetest.Session)

	remoteVideo := fake.EmitTrack(engine.KindVideo, "rv", "s")
	remoteAudio := fake.EmitTrack(engine.KindAudio, "ra", "s")

	require.Eventually(t, func() bool { return len(rec.snapshot().tracks) == 2 }, time.Second, 5*time.Millisecond)
	tracks := rec.snapshot().tracks
	require.NotNil(t, tracks[0].Video())
	require.NotNil(t, tracks[1].Audio())
	assert.True(t, tracks[0].Remote())
	assert.Equal(t, "rv", tracks[0].ID())
	assert.Equal(t, tracks, obs.Tracks())

	videos := make(chan *frame.VideoFrame, 4)
	audios := make(chan *frame.AudioFrame, 4)
	tracks[0].Video().RegisterSink(0, sink.Func[*frame.VideoFrame](func(f *frame.VideoFrame) { videos <- f }))
	tracks[1].Audio().RegisterSink(0, sink.Func[*frame.AudioFrame](func(f *frame.AudioFrame) { audios <- f }))

	vf := i420(2, 2)
	require.True(t, remoteVideo.PushVideo(vf))

	select {
	case f := <-videos:
		assert.Same(t, vf, f)
	case <-time.After(time.Second):
		t.Fatal("video frame not delivered")
	}
	assert.Empty(t, audios)

	af := frame.NewAudioFrame(8000, 1, []int16{1, 2, 3})
	require.True(t, remoteAudio.PushAudio(af))
	select {
	case f := <-audios:
		assert.Same(t, af, f)
	case <-time.After(time.Second):
		t.Fatal("audio frame not delivered")
	}
	assert.Empty(t, videos)

	assert.ErrorIs(t, tracks[0].Video().AddFrame(vf), ErrInboundTrack)
}

func TestObserverDataChannelAndErrors(t *testing.T) {
	eng := enginetest.New()
	rec := &recorder{}
	obs := NewObserver(rec.funcs())

	sess, err := eng.NewSession(engine.Configuration{}, obs)
	require.NoError(t, err)
	fake := sess.(*enginetest.Session)

	native := fake.EmitDataChannel("chat")
	boom := errors.New("read failed")
	fake.Callbacks().OnError(boom)

	require.Eventually(t, func() bool {
		s := rec.snapshot()
		return len(s.channels) == 1 && len(s.errs) == 1
	}, time.Second, 5*time.Millisecond)
	snap := rec.snapshot()
	assert.Equal(t, "chat", snap.channels[0].Label())
	assert.ErrorIs(t, snap.errs[0], boom)

	obs.Close()
	assert.Equal(t, engine.ChannelStateClosed, native.ReadyState())
	assert.Empty(t, obs.Channels())

	// After Close new engine objects are refused and closed right away.
	late := fake.EmitDataChannel("late")
	assert.Equal(t, engine.ChannelStateClosed, late.ReadyState())
}

func TestObserverClosesRemoteTracks(t *testing.T) {
	eng := enginetest.New()
	rec := &recorder{}
	obs := NewObserver(rec.funcs())

	sess, err := eng.NewSession(engine.Configuration{}, obs)
	require.NoError(t, err)
	sess.(*enginetest.Session).EmitTrack(engine.KindVideo, "rv", "s")

	tracks := obs.Tracks()
	require.Len(t, tracks, 1)
	obs.Close()

	assert.PanicsWithError(t, `video track "rv" used after release`, func() {
		tracks[0].Video().RegisterSink(1, sink.Func[*frame.VideoFrame](func(*frame.VideoFrame) {}))
	})
}
