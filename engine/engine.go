// Package engine defines the boundary between the session layer and a real-time media
// engine: the commands the layer issues and the callbacks the engine raises.
//
// Engine callbacks run on goroutines the engine owns. Implementations of Callbacks must
// return quickly and must not call back into the Session synchronously.
package engine

import (
	"errors"

	"github.com/ownerofglory/go-pion-rtcbridge/frame"
)

var (
	// ErrQueueFull is returned by Channel.Send when the engine's send queue rejects the
	// payload.
	ErrQueueFull = errors.New("engine send queue full")
	// ErrKindMismatch is returned when a frame of one kind is written to a track of the
	// other kind.
	ErrKindMismatch = errors.New("frame kind does not match track kind")
	// ErrClosed is returned by operations on a closed session or resource.
	ErrClosed = errors.New("engine resource closed")
)

// Engine allocates sessions and local tracks.
type Engine interface {
	NewSession(cfg Configuration, cb Callbacks) (Session, error)
	NewTrack(opts TrackOptions) (LocalTrack, error)
}

// Session is one peer connection inside the engine. Every method may block while the
// engine completes the step.
type Session interface {
	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(sd SessionDescription) error
	SetRemoteDescription(sd SessionDescription) error
	AddICECandidate(c ICECandidate) error
	AddTrack(t LocalTrack, streamID string) error
	CreateDataChannel(label string) (Channel, error)
	Close() error
}

// LocalTrack is an outbound track allocated by the engine.
type LocalTrack interface {
	ID() string
	Kind() Kind
	WriteVideo(f *frame.VideoFrame) error
	WriteAudio(f *frame.AudioFrame) error
	Close() error
}

// RemoteTrack is an inbound track. The engine invokes the installed frame handler on its
// own goroutine for every decoded frame; frames arriving before a handler is installed
// are dropped.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() Kind
	OnVideoFrame(fn func(*frame.VideoFrame))
	OnAudioFrame(fn func(*frame.AudioFrame))
}

// Channel is a data channel inside the engine.
type Channel interface {
	Label() string
	ReadyState() ChannelState
	BufferedAmount() uint64
	Send(b []byte) error
	OnStateChange(fn func(ChannelState))
	OnMessage(fn func([]byte))
	Close() error
}

// Callbacks is the fixed set of events an engine raises for a session.
type Callbacks interface {
	OnConnectionChange(state ConnectionState)
	OnSignalingChange(state SignalingState)
	OnICECandidate(c ICECandidate)
	OnNegotiationNeeded()
	OnTrack(t RemoteTrack)
	OnDataChannel(ch Channel)
	OnError(err error)
}
