// Package enginetest provides an in-memory engine that records every command and lets
// tests raise engine callbacks by hand.
package enginetest

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ownerofglory/go-pion-rtcbridge/engine"
	"github.com/ownerofglory/go-pion-rtcbridge/frame"
)

// ErrNoRemoteDescription mirrors real engines, which refuse candidates before the remote
// description is applied.
var ErrNoRemoteDescription = errors.New("remote description not set")

// Engine is a fake engine.Engine.
type Engine struct {
	mu       sync.Mutex
	sessions []*Session
	tracks   []*LocalTrack

	// NewTrackErr, when set, makes NewTrack fail.
	NewTrackErr error
	// NewSessionErr, when set, makes NewSession fail.
	NewSessionErr error
}

// New creates a fake engine.
func New() *Engine {
	return &Engine{}
}

var _ engine.Engine = (*Engine)(nil)

// NewSession implements engine.Engine.
func (e *Engine) NewSession(cfg engine.Configuration, cb engine.Callbacks) (engine.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	s := &Session{cfg: cfg, cb: cb, fail: make(map[string]error)}
	e.sessions = append(e.sessions, s)
	return s, nil
}

// NewTrack implements engine.Engine.
func (e *Engine) NewTrack(opts engine.TrackOptions) (engine.LocalTrack, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.NewTrackErr != nil {
		return nil, e.NewTrackErr
	}
	t := &LocalTrack{opts: opts}
	e.tracks = append(e.tracks, t)
	return t, nil
}

// Sessions returns the sessions created so far.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.sessions...)
}

// Tracks returns the local tracks created so far.
func (e *Engine) Tracks() []*LocalTrack {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*LocalTrack(nil), e.tracks...)
}

// AddedTrack records a Session.AddTrack call.
type AddedTrack struct {
	Track    engine.LocalTrack
	StreamID string
}

// Session is a fake engine.Session.
type Session struct {
	cfg engine.Configuration
	cb  engine.Callbacks

	mu         sync.Mutex
	local      *engine.SessionDescription
	remote     *engine.SessionDescription
	applied    []engine.ICECandidate
	added      []AddedTrack
	channels   []*Channel
	ops        []string
	fail       map[string]error
	gate       chan struct{}
	offerCount int
	closed     bool
}

var _ engine.Session = (*Session)(nil)

// Fail makes the named operation ("CreateOffer", "SetRemoteDescription", ...) return err.
func (s *Session) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

// Hold makes every following operation block until Release is called.
func (s *Session) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
}

// Release unblocks operations held by Hold.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

func (s *Session) begin(op string) error {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return engine.ErrClosed
	}
	s.ops = append(s.ops, op)
	return s.fail[op]
}

// CreateOffer implements engine.Session.
func (s *Session) CreateOffer() (engine.SessionDescription, error) {
	if err := s.begin("CreateOffer"); err != nil {
		return engine.SessionDescription{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offerCount++
	return engine.SessionDescription{Type: engine.SDPTypeOffer, SDP: fmt.Sprintf("v=0 offer %d", s.offerCount)}, nil
}

// CreateAnswer implements engine.Session.
func (s *Session) CreateAnswer() (engine.SessionDescription, error) {
	if err := s.begin("CreateAnswer"); err != nil {
		return engine.SessionDescription{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote == nil || s.remote.Type != engine.SDPTypeOffer {
		return engine.SessionDescription{}, errors.New("no remote offer")
	}
	return engine.SessionDescription{Type: engine.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

// SetLocalDescription implements engine.Session.
func (s *Session) SetLocalDescription(sd engine.SessionDescription) error {
	if err := s.begin("SetLocalDescription"); err != nil {
		return err
	}
	s.mu.Lock()
	s.local = &sd
	cb := s.cb
	s.mu.Unlock()

	if sd.Type == engine.SDPTypeOffer {
		cb.OnSignalingChange(engine.SignalingStateHaveLocalOffer)
	} else {
		cb.OnSignalingChange(engine.SignalingStateStable)
	}
	return nil
}

// SetRemoteDescription implements engine.Session.
func (s *Session) SetRemoteDescription(sd engine.SessionDescription) error {
	if err := s.begin("SetRemoteDescription"); err != nil {
		return err
	}
	s.mu.Lock()
	s.remote = &sd
	cb := s.cb
	s.mu.Unlock()

	if sd.Type == engine.SDPTypeOffer {
		cb.OnSignalingChange(engine.SignalingStateHaveRemoteOffer)
	} else {
		cb.OnSignalingChange(engine.SignalingStateStable)
	}
	return nil
}

// AddICECandidate implements engine.Session.
func (s *Session) AddICECandidate(c engine.ICECandidate) error {
	if err := s.begin("AddICECandidate"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote == nil {
		return ErrNoRemoteDescription
	}
	s.applied = append(s.applied, c)
	return nil
}

// AddTrack implements engine.Session.
func (s *Session) AddTrack(t engine.LocalTrack, streamID string) error {
	if err := s.begin("AddTrack"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, AddedTrack{Track: t, StreamID: streamID})
	return nil
}

// CreateDataChannel implements engine.Session.
func (s *Session) CreateDataChannel(label string) (engine.Channel, error) {
	if err := s.begin("CreateDataChannel"); err != nil {
		return nil, err
	}
	ch := NewChannel(label)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, ch)
	return ch, nil
}

// Close implements engine.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.ops = append(s.ops, "Close")
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Ops returns the operations applied so far, in order.
func (s *Session) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

// Applied returns the candidates the session accepted, in order.
func (s *Session) Applied() []engine.ICECandidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.ICECandidate(nil), s.applied...)
}

// AddedTracks returns the tracks attached with AddTrack.
func (s *Session) AddedTracks() []AddedTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AddedTrack(nil), s.added...)
}

// Local returns the local description, if set.
func (s *Session) Local() *engine.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// Remote returns the remote description, if set.
func (s *Session) Remote() *engine.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// Callbacks returns the callbacks the session was created with, so tests can raise
// engine events directly.
func (s *Session) Callbacks() engine.Callbacks {
	return s.cb
}

// EmitTrack raises OnTrack with a new remote track and returns it.
func (s *Session) EmitTrack(kind engine.Kind, id, streamID string) *RemoteTrack {
	t := &RemoteTrack{id: id, streamID: streamID, kind: kind}
	s.cb.OnTrack(t)
	return t
}

// EmitDataChannel raises OnDataChannel with a new channel and returns it.
func (s *Session) EmitDataChannel(label string) *Channel {
	ch := NewChannel(label)
	s.cb.OnDataChannel(ch)
	return ch
}

// LocalTrack is a fake engine.LocalTrack.
type LocalTrack struct {
	opts engine.TrackOptions

	mu     sync.Mutex
	video  []*frame.VideoFrame
	audio  []*frame.AudioFrame
	closes int
}

var _ engine.LocalTrack = (*LocalTrack)(nil)

// ID implements engine.LocalTrack.
func (t *LocalTrack) ID() string { return t.opts.ID }

// Kind implements engine.LocalTrack.
func (t *LocalTrack) Kind() engine.Kind { return t.opts.Kind }

// WriteVideo implements engine.LocalTrack.
func (t *LocalTrack) WriteVideo(f *frame.VideoFrame) error {
	if t.opts.Kind != engine.KindVideo {
		return engine.ErrKindMismatch
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.video = append(t.video, f)
	return nil
}

// WriteAudio implements engine.LocalTrack.
func (t *LocalTrack) WriteAudio(f *frame.AudioFrame) error {
	if t.opts.Kind != engine.KindAudio {
		return engine.ErrKindMismatch
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.audio = append(t.audio, f)
	return nil
}

// Close implements engine.LocalTrack.
func (t *LocalTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	return nil
}

// VideoFrames returns the video frames written so far.
func (t *LocalTrack) VideoFrames() []*frame.VideoFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*frame.VideoFrame(nil), t.video...)
}

// AudioFrames returns the audio frames written so far.
func (t *LocalTrack) AudioFrames() []*frame.AudioFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*frame.AudioFrame(nil), t.audio...)
}

// CloseCount returns how many times Close was called.
func (t *LocalTrack) CloseCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// RemoteTrack is a fake engine.RemoteTrack.
type RemoteTrack struct {
	id       string
	streamID string
	kind     engine.Kind

	onVideo atomic.Pointer[func(*frame.VideoFrame)]
	onAudio atomic.Pointer[func(*frame.AudioFrame)]
}

var _ engine.RemoteTrack = (*RemoteTrack)(nil)

// ID implements engine.RemoteTrack.
func (t *RemoteTrack) ID() string { return t.id }

// StreamID implements engine.RemoteTrack.
func (t *RemoteTrack) StreamID() string { return t.streamID }

// Kind implements engine.RemoteTrack.
func (t *RemoteTrack) Kind() engine.Kind { return t.kind }

// OnVideoFrame implements engine.RemoteTrack.
func (t *RemoteTrack) OnVideoFrame(fn func(*frame.VideoFrame)) { t.onVideo.Store(&fn) }

// OnAudioFrame implements engine.RemoteTrack.
func (t *RemoteTrack) OnAudioFrame(fn func(*frame.AudioFrame)) { t.onAudio.Store(&fn) }

// PushVideo delivers f as if decoded by the engine. It reports whether a handler
// was installed.
func (t *RemoteTrack) PushVideo(f *frame.VideoFrame) bool {
	fn := t.onVideo.Load()
	if fn == nil || *fn == nil {
		return false
	}
	(*fn)(f)
	return true
}

// PushAudio delivers f as if decoded by the engine.
func (t *RemoteTrack) PushAudio(f *frame.AudioFrame) bool {
	fn := t.onAudio.Load()
	if fn == nil || *fn == nil {
		return false
	}
	(*fn)(f)
	return true
}

// Channel is a fake engine.Channel.
type Channel struct {
	label string

	mu       sync.Mutex
	state    engine.ChannelState
	buffered uint64
	sent     [][]byte
	sendErr  error
	onState  func(engine.ChannelState)
	onMsg    func([]byte)
	closed   bool
}

var _ engine.Channel = (*Channel)(nil)

// NewChannel creates a channel in the connecting state.
func NewChannel(label string) *Channel {
	return &Channel{label: label}
}

// Label implements engine.Channel.
func (c *Channel) Label() string { return c.label }

// ReadyState implements engine.Channel.
func (c *Channel) ReadyState() engine.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BufferedAmount implements engine.Channel.
func (c *Channel) BufferedAmount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

// SetBufferedAmount sets what BufferedAmount reports.
func (c *Channel) SetBufferedAmount(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffered = n
}

// SetSendError makes Send fail with err.
func (c *Channel) SetSendError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Send implements engine.Channel.
func (c *Channel) Send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), b...))
	return nil
}

// Sent returns the payloads passed to Send.
func (c *Channel) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// OnStateChange implements engine.Channel.
func (c *Channel) OnStateChange(fn func(engine.ChannelState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// OnMessage implements engine.Channel.
func (c *Channel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMsg = fn
}

// SetState moves the channel to s and raises the state callback.
func (c *Channel) SetState(s engine.ChannelState) {
	c.mu.Lock()
	c.state = s
	fn := c.onState
	c.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

// Deliver raises the message callback with b. It reports whether a handler was
// installed.
func (c *Channel) Deliver(b []byte) bool {
	c.mu.Lock()
	fn := c.onMsg
	c.mu.Unlock()

	if fn == nil {
		return false
	}
	fn(b)
	return true
}

// Close implements engine.Channel.
func (c *Channel) Close() error {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()

	if !already {
		c.SetState(engine.ChannelStateClosing)
		c.SetState(engine.ChannelStateClosed)
	}
	return nil
}
