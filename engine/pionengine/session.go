package pionengine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ownerofglory/go-pion-rtcbridge/engine"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

type session struct {
	pc     *webrtc.PeerConnection
	cb     engine.Callbacks
	logger *slog.Logger

	mx     sync.Mutex
	closed bool
}

func newSession(pc *webrtc.PeerConnection, cb engine.Callbacks, logger *slog.Logger) *session {
	s := &session{pc: pc, cb: cb, logger: logger}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Info("Peer connection state changed", "state", state.String())
		cb.OnConnectionChange(fromPionConnectionState(state))
	})
	pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		cb.OnSignalingChange(fromPionSignalingState(state))
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil {
			return
		}
		cb.OnICECandidate(fromPionCandidate(c.ToJSON()))
	})
	pc.OnNegotiationNeeded(func() {
		cb.OnNegotiationNeeded()
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		logger.Info("Got remote track",
			"kind", track.Kind().String(), "id", track.ID(), "codec", track.Codec().MimeType)
		rt := newRemoteTrack(track, logger)
		cb.OnTrack(rt)
		if err := rt.readLoop(); err != nil {
			cb.OnError(fmt.Errorf("remote track %s: %w", track.ID(), err))
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		logger.Info("Got data channel", "label", dc.Label())
		cb.OnDataChannel(newChannel(dc))
	})
	return s
}

func (s *session) CreateOffer() (engine.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return engine.SessionDescription{}, mapErr(err)
	}
	return fromPionSDP(offer), nil
}

func (s *session) CreateAnswer() (engine.SessionDescription, error) {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return engine.SessionDescription{}, mapErr(err)
	}
	return fromPionSDP(answer), nil
}

func (s *session) SetLocalDescription(sd engine.SessionDescription) error {
	return mapErr(s.pc.SetLocalDescription(toPionSDP(sd)))
}

func (s *session) SetRemoteDescription(sd engine.SessionDescription) error {
	return mapErr(s.pc.SetRemoteDescription(toPionSDP(sd)))
}

func (s *session) AddICECandidate(c engine.ICECandidate) error {
	return mapErr(s.pc.AddICECandidate(toPionCandidate(c)))
}

func (s *session) AddTrack(t engine.LocalTrack, streamID string) error {
	lt, ok := t.(*localTrack)
	if !ok {
		return fmt.Errorf("track %s was not allocated by this engine", t.ID())
	}
	pt, err := lt.bind(streamID)
	if err != nil {
		return err
	}
	sender, err := s.pc.AddTrack(pt)
	if err != nil {
		lt.unbind(pt)
		return mapErr(err)
	}
	go s.readRTCP(sender, lt)
	return nil
}

// readRTCP drains the sender so interceptors see receiver reports. Picture loss
// indications are only counted: raw frames are all key frames.
func (s *session) readRTCP(sender *webrtc.RTPSender, lt *localTrack) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				lt.pliCount.Add(1)
				s.logger.Debug("Picture loss indication", "track", lt.ID())
			}
		}
	}
}

func (s *session) CreateDataChannel(label string) (engine.Channel, error) {
	dc, err := s.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, mapErr(err)
	}
	return newChannel(dc), nil
}

func (s *session) Close() error {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return nil
	}
	s.closed = true
	s.mx.Unlock()

	if err := s.pc.Close(); err != nil {
		return fmt.Errorf("PeerConnection shutdown failed: %w", err)
	}
	return nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, webrtc.ErrConnectionClosed) {
		return fmt.Errorf("%w: %v", engine.ErrClosed, err)
	}
	return err
}
