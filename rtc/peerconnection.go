// Package rtc manages peer connections, media streams, tracks and data channels on top
// of an engine.Engine, and moves the engine's callbacks onto goroutines it owns so a
// slow application never stalls the engine.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/ownerofglory/go-pion-rtcbridge/engine"
)

// Signaling stages reported in NegotiationError.
const (
	StageCreateOffer          = "create-offer"
	StageCreateAnswer         = "create-answer"
	StageSetLocalDescription  = "set-local-description"
	StageSetRemoteDescription = "set-remote-description"
	StageAddICECandidate      = "add-ice-candidate"
)

// RTCPeerConnection drives one engine session through offer/answer signaling.
//
// Signaling operations run one at a time. Each waits for the engine step or for ctx;
// when ctx ends first the call returns ctx.Err() while the engine step runs to
// completion and its result is discarded.
type RTCPeerConnection struct {
	id       string
	session  engine.Session
	observer *Observer
	opts     options
	logger   *slog.Logger

	// sem serializes engine signaling steps. It is released when the step finishes, not
	// when the caller stops waiting.
	sem chan struct{}

	mx        sync.Mutex
	local     *engine.SessionDescription
	remote    *engine.SessionDescription
	signaling SignalingState
	// renegotiate once signaling is stable again
	negotiationPending bool

	// iceMx orders candidate application around the remote description.
	iceMx     sync.Mutex
	remoteSet bool
	pending   []engine.ICECandidate

	closed atomic.Bool
	once   sync.Once
}

// NewPeerConnection creates an engine session whose events are delivered to h.
func NewPeerConnection(eng engine.Engine, cfg engine.Configuration, h Handler, opts ...Option) (*RTCPeerConnection, error) {
	o := newOptions(opts)
	id := uuid.NewString()
	if o.streamID == "" {
		o.streamID = id
	}
	o.logger = o.logger.With("session", id)

	obs := NewObserver(h, WithLogger(o.logger), WithSinkCapacity(o.sinkCapacity), WithMaxBufferedAmount(o.maxBuffered))
	session, err := eng.NewSession(cfg, obs)
	if err != nil {
		obs.Close()
		return nil, fmt.Errorf("%w: session: %w", ErrNativeAllocation, err)
	}

	return &RTCPeerConnection{
		id:       id,
		session:  session,
		observer: obs,
		opts:     o,
		logger:   o.logger,
		sem:      make(chan struct{}, 1),
	}, nil
}

// ID returns the connection's session id.
func (pc *RTCPeerConnection) ID() string { return pc.id }

// Observer returns the connection's event bridge.
func (pc *RTCPeerConnection) Observer() *Observer { return pc.observer }

// run executes step on its own goroutine, one step at a time.
func (pc *RTCPeerConnection) run(ctx context.Context, stage string, step func() error) error {
	if pc.closed.Load() {
		return ErrClosed
	}

	select {
	case pc.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		defer func() { <-pc.sem }()
		done <- step()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		pc.logger.Debug("Stopped waiting for engine step", "stage", stage, "err", ctx.Err())
		return ctx.Err()
	}
}

// CreateOffer asks the engine for an offer. It does not apply it.
func (pc *RTCPeerConnection) CreateOffer(ctx context.Context) (engine.SessionDescription, error) {
	var sd engine.SessionDescription
	err := pc.run(ctx, StageCreateOffer, func() error {
		offer, err := pc.session.CreateOffer()
		if err != nil {
			return &NegotiationError{Stage: StageCreateOffer, Err: err}
		}
		sd = offer
		return nil
	})
	if err != nil {
		return engine.SessionDescription{}, err
	}
	return sd, nil
}

// CreateAnswer asks the engine for an answer to the applied remote offer.
func (pc *RTCPeerConnection) CreateAnswer(ctx context.Context) (engine.SessionDescription, error) {
	var sd engine.SessionDescription
	err := pc.run(ctx, StageCreateAnswer, func() error {
		answer, err := pc.session.CreateAnswer()
		if err != nil {
			return &NegotiationError{Stage: StageCreateAnswer, Err: err}
		}
		sd = answer
		return nil
	})
	if err != nil {
		return engine.SessionDescription{}, err
	}
	return sd, nil
}

// SetLocalDescription applies sd locally.
func (pc *RTCPeerConnection) SetLocalDescription(ctx context.Context, sd engine.SessionDescription) error {
	return pc.run(ctx, StageSetLocalDescription, func() error {
		if err := pc.session.SetLocalDescription(sd); err != nil {
			return &NegotiationError{Stage: StageSetLocalDescription, Err: err}
		}
		pc.applied(true, sd)
		return nil
	})
}

// SetRemoteDescription applies the peer's description, then applies every candidate
// buffered by AddICECandidate in arrival order before any later candidate.
func (pc *RTCPeerConnection) SetRemoteDescription(ctx context.Context, sd engine.SessionDescription) error {
	return pc.run(ctx, StageSetRemoteDescription, func() error {
		if err := pc.session.SetRemoteDescription(sd); err != nil {
			return &NegotiationError{Stage: StageSetRemoteDescription, Err: err}
		}
		pc.applied(false, sd)

		pc.iceMx.Lock()
		defer pc.iceMx.Unlock()
		pc.remoteSet = true
		pending := pc.pending
		pc.pending = nil
		for _, c := range pending {
			if err := pc.session.AddICECandidate(c); err != nil {
				pc.observer.OnError(&NegotiationError{Stage: StageAddICECandidate, Err: err})
			}
		}
		if len(pending) > 0 {
			pc.logger.Debug("Applied buffered ICE candidates", "count", len(pending))
		}
		return nil
	})
}

// AddICECandidate applies a remote candidate, or buffers it until the remote
// description is set.
func (pc *RTCPeerConnection) AddICECandidate(ctx context.Context, c engine.ICECandidate) error {
	if pc.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	pc.iceMx.Lock()
	defer pc.iceMx.Unlock()
	if !pc.remoteSet {
		pc.pending = append(pc.pending, c)
		return nil
	}
	if err := pc.session.AddICECandidate(c); err != nil {
		return &NegotiationError{Stage: StageAddICECandidate, Err: err}
	}
	return nil
}

// PendingCandidates returns the number of candidates waiting for a remote description.
func (pc *RTCPeerConnection) PendingCandidates() int {
	pc.iceMx.Lock()
	defer pc.iceMx.Unlock()
	return len(pc.pending)
}

// AddTrack attaches an outbound track under stream's id, or under the connection's
// default stream id when stream is nil. Once signaling has started a new offer is
// created, applied and handed to the RenegotiationHandler, immediately when the
// connection is stable or else as soon as the exchange in flight completes.
func (pc *RTCPeerConnection) AddTrack(ctx context.Context, t *MediaStreamTrack, stream *MediaStream) error {
	local := t.localTrack()
	if local == nil {
		return fmt.Errorf("add track %s: %w", t.ID(), ErrInboundTrack)
	}
	streamID := pc.opts.streamID
	if stream != nil {
		streamID = stream.ID()
	}

	err := pc.run(ctx, "add-track", func() error {
		if err := pc.session.AddTrack(local, streamID); err != nil {
			return fmt.Errorf("add track %s: %w", t.ID(), err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	pc.mx.Lock()
	began := pc.local != nil || pc.remote != nil
	pc.mx.Unlock()
	if !began {
		return nil
	}
	return pc.renegotiate(ctx)
}

// applied records a description applied by the engine. Returning to stable with a
// renegotiation pending starts it once the current step has released sem.
func (pc *RTCPeerConnection) applied(local bool, sd engine.SessionDescription) {
	pc.mx.Lock()
	if local {
		pc.local = &sd
	} else {
		pc.remote = &sd
	}
	pc.signaling = nextSignalingState(pc.signaling, local, sd.Type)
	resume := pc.signaling == engine.SignalingStateStable && pc.negotiationPending
	if resume {
		pc.negotiationPending = false
	}
	pc.mx.Unlock()

	if resume {
		go func() {
			if err := pc.renegotiate(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
				pc.observer.OnError(err)
			}
		}()
	}
}

// renegotiate creates and applies a new offer and hands it to the RenegotiationHandler.
// While an exchange is in flight it only marks the renegotiation pending.
func (pc *RTCPeerConnection) renegotiate(ctx context.Context) error {
	return pc.run(ctx, "renegotiate", func() error {
		pc.mx.Lock()
		if pc.signaling != engine.SignalingStateStable {
			pc.negotiationPending = true
			pc.mx.Unlock()
			pc.logger.Debug("Renegotiation deferred until signaling is stable")
			return nil
		}
		pc.mx.Unlock()

		offer, err := pc.session.CreateOffer()
		if err != nil {
			return &NegotiationError{Stage: StageCreateOffer, Err: err}
		}
		if err := pc.session.SetLocalDescription(offer); err != nil {
			return &NegotiationError{Stage: StageSetLocalDescription, Err: err}
		}
		pc.applied(true, offer)
		if !pc.observer.renegotiate(offer) {
			pc.logger.Info("Renegotiation offer applied but no handler publishes it")
		}
		return nil
	})
}

// CreateDataChannel opens a locally initiated channel.
func (pc *RTCPeerConnection) CreateDataChannel(ctx context.Context, label string) (*RTCDataChannel, error) {
	var ch *RTCDataChannel
	err := pc.run(ctx, "create-data-channel", func() error {
		native, err := pc.session.CreateDataChannel(label)
		if err != nil {
			return fmt.Errorf("%w: data channel %q: %w", ErrNativeAllocation, label, err)
		}
		ch = newDataChannel(native, pc.opts)
		if !pc.observer.adoptChannel(ch) {
			_ = ch.Close()
			return ErrClosed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// LocalDescription returns the applied local description, or nil.
func (pc *RTCPeerConnection) LocalDescription() *engine.SessionDescription {
	pc.mx.Lock()
	defer pc.mx.Unlock()
	if pc.local == nil {
		return nil
	}
	sd := *pc.local
	return &sd
}

// RemoteDescription returns the applied remote description, or nil.
func (pc *RTCPeerConnection) RemoteDescription() *engine.SessionDescription {
	pc.mx.Lock()
	defer pc.mx.Unlock()
	if pc.remote == nil {
		return nil
	}
	sd := *pc.remote
	return &sd
}

// SignalingState returns the state implied by the descriptions applied so far.
func (pc *RTCPeerConnection) SignalingState() SignalingState {
	pc.mx.Lock()
	defer pc.mx.Unlock()
	return pc.signaling
}

// ConnectionState returns the last state the engine reported.
func (pc *RTCPeerConnection) ConnectionState() PeerConnectionState {
	return pc.observer.ConnectionState()
}

// Close closes the engine session, then the observer with every track and channel it
// recorded. Later calls are no-ops.
func (pc *RTCPeerConnection) Close() error {
	var err error
	pc.once.Do(func() {
		pc.closed.Store(true)
		err = pc.session.Close()
		pc.observer.Close()
		pc.mx.Lock()
		pc.signaling = engine.SignalingStateClosed
		pc.mx.Unlock()
	})
	return err
}

func nextSignalingState(cur SignalingState, local bool, t engine.SDPType) SignalingState {
	switch t {
	case engine.SDPTypeOffer:
		if local {
			return engine.SignalingStateHaveLocalOffer
		}
		return engine.SignalingStateHaveRemoteOffer
	case engine.SDPTypePranswer:
		if local {
			return engine.SignalingStateHaveLocalPranswer
		}
		return engine.SignalingStateHaveRemotePranswer
	case engine.SDPTypeAnswer, engine.SDPTypeRollback:
		return engine.SignalingStateStable
	default:
		return cur
	}
}
