package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ownerofglory/go-pion-rtcbridge/engine"
	"github.com/ownerofglory/go-pion-rtcbridge/frame"
	"github.com/ownerofglory/go-pion-rtcbridge/rtc"
	"github.com/ownerofglory/go-pion-rtcbridge/signaling"
	"github.com/ownerofglory/go-pion-rtcbridge/sink"
)

// frameLogInterval is how many inbound frames pass between log lines.
const frameLogInterval = 300

// Media is what the handler publishes to the caller.
type Media struct {
	Stream *rtc.MediaStream
	Tracks []*rtc.MediaStreamTrack
}

// peerConnHandler answers calls arriving over signaling. It is the rtc.Handler of its
// own peer connection, so its event methods run on the connection's dispatcher.
type peerConnHandler struct {
	signalingClient signaling.Client
	pc              *rtc.RTCPeerConnection
	selfID          string
	lastCallerID    string
	mx              sync.RWMutex
	logger          *slog.Logger
}

func NewWebRTCPeerConnHandler(signalingClient signaling.Client, eng engine.Engine, cfg *engine.Configuration, opts ...rtc.Option) (*peerConnHandler, error) {
	ch := &peerConnHandler{
		signalingClient: signalingClient,
		logger:          slog.Default(),
	}
	pc, err := rtc.NewPeerConnection(eng, *cfg, ch, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewPeerConnection failed: %w", err)
	}
	ch.pc = pc
	ch.logger = slog.Default().With("session", pc.ID())
	return ch, nil
}

// HandleConnection publishes media, then serves signaling until ctx ends or the
// signaling connection fails.
func (ch *peerConnHandler) HandleConnection(ctx context.Context, media Media) error {
	for _, t := range media.Tracks {
		if err := ch.pc.AddTrack(ctx, t, media.Stream); err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
	}

	readErr := make(chan error, 1)
	go func() {
		for {
			m, err := ch.signalingClient.Read()
			if err != nil {
				slog.Error("Read message failed", "err", err)
				readErr <- err
				return
			}
			if err := ch.handleMessage(ctx, m); err != nil {
				ch.logger.Warn("Signaling message failed", "from", m.From, "err", err)
			}
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-readErr:
		return err
	}
}

func (ch *peerConnHandler) handleMessage(ctx context.Context, m *signaling.ClientMessage) error {
	// Initial hello {from: "<id>"} with no "signal"
	if m.Signal == nil {
		if m.From != "" && strings.TrimSpace(m.To) == "" {
			ch.mx.Lock()
			ch.selfID = m.From
			ch.mx.Unlock()
			ch.logger.Info("Got ID", "ID", m.From)
		}
		return nil
	}

	msg, err := m.Signal.Message()
	if err != nil {
		return err
	}

	switch msg.Kind {
	case signaling.KindOffer:
		// Remember who to answer/trickle to
		ch.mx.Lock()
		ch.lastCallerID = m.From
		ch.mx.Unlock()

		offer, err := msg.Description()
		if err != nil {
			return err
		}
		ch.logger.Info("Got offer from", "ID", m.From)
		if err := ch.pc.SetRemoteDescription(ctx, offer); err != nil {
			return err
		}
		answer, err := ch.pc.CreateAnswer(ctx)
		if err != nil {
			return err
		}
		if err := ch.pc.SetLocalDescription(ctx, answer); err != nil {
			return err
		}
		return ch.sendDescription(m.From, answer)

	case signaling.KindAnswer:
		// only expected after this side renegotiated
		answer, err := msg.Description()
		if err != nil {
			return err
		}
		if ch.pc.SignalingState() != engine.SignalingStateHaveLocalOffer {
			ch.logger.Warn("Unexpected answer (ignored)", "from", m.From)
			return nil
		}
		return ch.pc.SetRemoteDescription(ctx, answer)

	case signaling.KindCandidate:
		c, err := msg.Candidate()
		if err != nil {
			return err
		}
		return ch.pc.AddICECandidate(ctx, c)
	}
	return nil
}

func (ch *peerConnHandler) caller() string {
	ch.mx.RLock()
	defer ch.mx.RUnlock()
	return ch.lastCallerID
}

func (ch *peerConnHandler) send(to string, msg signaling.Message) error {
	sig, err := signaling.NewSignal(msg)
	if err != nil {
		return err
	}
	return ch.signalingClient.Write(&signaling.ClientMessage{Signal: sig, To: to})
}

func (ch *peerConnHandler) sendDescription(to string, sd engine.SessionDescription) error {
	msg, err := signaling.NewDescriptionMessage(sd)
	if err != nil {
		return err
	}
	if err := ch.send(to, msg); err != nil {
		return fmt.Errorf("write %s: %w", sd.Type, err)
	}
	return nil
}

func (ch *peerConnHandler) OnConnectionChange(s rtc.PeerConnectionState) {
	ch.logger.Info("PeerConnection state", "state", s.String())
}

func (ch *peerConnHandler) OnICECandidate(c engine.ICECandidate) {
	to := ch.caller()
	if to == "" {
		return
	}
	msg, err := signaling.NewCandidateMessage(c)
	if err != nil {
		ch.logger.Warn("Encode candidate failed", "err", err)
		return
	}
	if err := ch.send(to, msg); err != nil {
		ch.logger.Warn("Write candidate failed", "err", err)
	}
}

// On incoming remote track (from browser)
func (ch *peerConnHandler) OnTrack(t *rtc.MediaStreamTrack) {
	ch.logger.Info("Got remote track", "kind", t.Kind().String(), "track", t.ID())
	switch {
	case t.Video() != nil:
		t.Video().RegisterSink(0, logEvery[*frame.VideoFrame](ch.logger, t.ID()))
	case t.Audio() != nil:
		t.Audio().RegisterSink(0, logEvery[*frame.AudioFrame](ch.logger, t.ID()))
	}
}

func (ch *peerConnHandler) OnDataChannel(dc *rtc.RTCDataChannel) {
	ch.logger.Info("Data channel opened", "channel", dc.Label())
	dc.RegisterSink(0, sink.Func[[]byte](func(b []byte) {
		ch.logger.Info("Message from data channel", "channel", dc.Label(), "message", string(b))
	}))
}

// OnRenegotiate sends the offer created after a track was added mid-call.
func (ch *peerConnHandler) OnRenegotiate(offer engine.SessionDescription) {
	to := ch.caller()
	if to == "" {
		ch.logger.Warn("Renegotiation offer has no recipient")
		return
	}
	if err := ch.sendDescription(to, offer); err != nil {
		ch.logger.Warn("Write renegotiation offer failed", "err", err)
	}
}

func (ch *peerConnHandler) OnError(err error) {
	var nerr *rtc.NegotiationError
	if errors.As(err, &nerr) {
		ch.logger.Warn("Negotiation step failed", "stage", nerr.Stage, "err", nerr.Err)
		return
	}
	ch.logger.Warn("Engine error", "err", err)
}

func (ch *peerConnHandler) Shutdown() {
	err := ch.pc.Close()
	if err != nil {
		slog.Warn("PeerConnection shutdown failed", "err", err)
		return
	}
}

// logEvery returns a sink that counts frames and logs every frameLogInterval-th.
func logEvery[T any](logger *slog.Logger, track string) sink.Func[T] {
	var n atomic.Uint64
	return func(T) {
		if c := n.Add(1); c == 1 || c%frameLogInterval == 0 {
			logger.Debug("Inbound frames", "track", track, "count", c)
		}
	}
}
