package rtc

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ownerofglory/go-pion-rtcbridge/engine"
	"github.com/ownerofglory/go-pion-rtcbridge/sink"
)

// PeerConnectionState is the aggregate connection state.
type PeerConnectionState = engine.ConnectionState

// SignalingState follows the offer/answer exchange.
type SignalingState = engine.SignalingState

// Handler receives connection events. Its methods run one at a time, in the order the
// engine raised the events, on a goroutine owned by the Observer. They may block without
// stalling the engine.
type Handler interface {
	OnConnectionChange(state PeerConnectionState)
	OnICECandidate(c engine.ICECandidate)
	OnTrack(t *MediaStreamTrack)
	OnDataChannel(ch *RTCDataChannel)
}

// ErrorHandler is implemented by handlers that want errors raised on engine goroutines.
// Without it those errors are logged.
type ErrorHandler interface {
	OnError(err error)
}

// SignalingHandler is implemented by handlers that follow signaling state changes.
type SignalingHandler interface {
	OnSignalingChange(state SignalingState)
}

// NegotiationHandler is implemented by handlers that want the engine's
// negotiation-needed notification.
type NegotiationHandler interface {
	OnNegotiationNeeded()
}

// RenegotiationHandler is implemented by handlers that publish the offers
// RTCPeerConnection creates when a track is added mid-session.
type RenegotiationHandler interface {
	OnRenegotiate(offer engine.SessionDescription)
}

// HandlerFuncs adapts functions to Handler and the optional handler interfaces. Nil
// fields ignore the event.
type HandlerFuncs struct {
	ConnectionChange  func(PeerConnectionState)
	ICECandidate      func(engine.ICECandidate)
	Track             func(*MediaStreamTrack)
	DataChannel       func(*RTCDataChannel)
	Error             func(error)
	SignalingChange   func(SignalingState)
	NegotiationNeeded func()
	Renegotiate       func(engine.SessionDescription)
}

func (h HandlerFuncs) OnConnectionChange(s PeerConnectionState) {
	if h.ConnectionChange != nil {
		h.ConnectionChange(s)
	}
}

func (h HandlerFuncs) OnICECandidate(c engine.ICECandidate) {
	if h.ICECandidate != nil {
		h.ICECandidate(c)
	}
}

func (h HandlerFuncs) OnTrack(t *MediaStreamTrack) {
	if h.Track != nil {
		h.Track(t)
	}
}

func (h HandlerFuncs) OnDataChannel(ch *RTCDataChannel) {
	if h.DataChannel != nil {
		h.DataChannel(ch)
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

func (h HandlerFuncs) OnSignalingChange(s SignalingState) {
	if h.SignalingChange != nil {
		h.SignalingChange(s)
	}
}

func (h HandlerFuncs) OnNegotiationNeeded() {
	if h.NegotiationNeeded != nil {
		h.NegotiationNeeded()
	}
}

func (h HandlerFuncs) OnRenegotiate(offer engine.SessionDescription) {
	if h.Renegotiate != nil {
		h.Renegotiate(offer)
	}
}

// eventQueueID is the only consumer of the observer's event registry.
const eventQueueID = 0

// Observer is the engine.Callbacks implementation handed to the engine. Each callback
// wraps engine objects, records them, and enqueues the event; only the Observer's
// dispatcher goroutine calls into the Handler.
type Observer struct {
	h      Handler
	opts   options
	logger *slog.Logger

	events *sink.Registry[func()]
	state  atomic.Int32

	mx       sync.Mutex
	tracks   []*MediaStreamTrack
	channels []*RTCDataChannel
	closed   bool
	once     sync.Once
}

var _ engine.Callbacks = (*Observer)(nil)

// NewObserver starts the dispatcher for h.
func NewObserver(h Handler, opts ...Option) *Observer {
	o := newOptions(opts)
	obs := &Observer{
		h:      h,
		opts:   o,
		logger: o.logger,
		events: sink.NewRegistry[func()](sink.WithName("observer"), sink.WithLogger(o.logger)),
	}
	obs.events.Register(eventQueueID, sink.Func[func()](func(fn func()) { fn() }))
	return obs
}

func (o *Observer) enqueue(fn func()) {
	o.events.Dispatch(eventQueueID, fn)
}

// OnConnectionChange implements engine.Callbacks.
func (o *Observer) OnConnectionChange(state engine.ConnectionState) {
	o.state.Store(int32(state))
	o.enqueue(func() { o.h.OnConnectionChange(state) })
}

// OnSignalingChange implements engine.Callbacks.
func (o *Observer) OnSignalingChange(state engine.SignalingState) {
	if sh, ok := o.h.(SignalingHandler); ok {
		o.enqueue(func() { sh.OnSignalingChange(state) })
	}
}

// OnICECandidate implements engine.Callbacks.
func (o *Observer) OnICECandidate(c engine.ICECandidate) {
	o.enqueue(func() { o.h.OnICECandidate(c) })
}

// OnNegotiationNeeded implements engine.Callbacks.
func (o *Observer) OnNegotiationNeeded() {
	if nh, ok := o.h.(NegotiationHandler); ok {
		o.enqueue(nh.OnNegotiationNeeded)
	}
}

// OnTrack implements engine.Callbacks. The remote track's frames are routed to its sinks
// before the handler hears about it; frames arriving before a sink is registered are
// dropped.
func (o *Observer) OnTrack(rt engine.RemoteTrack) {
	t, err := newRemoteTrack(rt, o.opts)
	if err != nil {
		o.OnError(err)
		return
	}
	if !o.adoptTrack(t) {
		_ = t.Close()
		return
	}
	o.enqueue(func() { o.h.OnTrack(t) })
}

// OnDataChannel implements engine.Callbacks.
func (o *Observer) OnDataChannel(native engine.Channel) {
	ch := newDataChannel(native, o.opts)
	if !o.adoptChannel(ch) {
		_ = ch.Close()
		return
	}
	o.enqueue(func() { o.h.OnDataChannel(ch) })
}

// OnError implements engine.Callbacks.
func (o *Observer) OnError(err error) {
	if eh, ok := o.h.(ErrorHandler); ok {
		o.enqueue(func() { eh.OnError(err) })
		return
	}
	o.logger.Warn("Engine error", "err", err)
}

func (o *Observer) renegotiate(offer engine.SessionDescription) bool {
	rh, ok := o.h.(RenegotiationHandler)
	if !ok {
		return false
	}
	o.enqueue(func() { rh.OnRenegotiate(offer) })
	return true
}

func (o *Observer) adoptTrack(t *MediaStreamTrack) bool {
	o.mx.Lock()
	defer o.mx.Unlock()
	if o.closed {
		return false
	}
	o.tracks = append(o.tracks, t)
	return true
}

func (o *Observer) adoptChannel(ch *RTCDataChannel) bool {
	o.mx.Lock()
	defer o.mx.Unlock()
	if o.closed {
		return false
	}
	o.channels = append(o.channels, ch)
	return true
}

// ConnectionState returns the last state the engine reported.
func (o *Observer) ConnectionState() PeerConnectionState {
	return PeerConnectionState(o.state.Load())
}

// Tracks returns the inbound tracks seen so far.
func (o *Observer) Tracks() []*MediaStreamTrack {
	o.mx.Lock()
	defer o.mx.Unlock()
	return append([]*MediaStreamTrack(nil), o.tracks...)
}

// Channels returns the data channels seen so far, inbound and locally created.
func (o *Observer) Channels() []*RTCDataChannel {
	o.mx.Lock()
	defer o.mx.Unlock()
	return append([]*RTCDataChannel(nil), o.channels...)
}

// Close stops event delivery and closes every recorded track and channel.
func (o *Observer) Close() {
	o.once.Do(func() {
		o.mx.Lock()
		o.closed = true
		tracks, channels := o.tracks, o.channels
		o.tracks, o.channels = nil, nil
		o.mx.Unlock()

		o.events.Close()
		for _, t := range tracks {
			if err := t.Close(); err != nil {
				o.logger.Warn("Track close failed", "track", t.ID(), "err", err)
			}
		}
		for _, ch := range channels {
			if err := ch.Close(); err != nil {
				o.logger.Warn("Channel close failed", "channel", ch.Label(), "err", err)
			}
		}
	})
}
