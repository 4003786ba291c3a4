// Package signaling defines the messages exchanged with the signaling server.
//
// The server routes ClientMessage envelopes between peers. Each envelope's Signal
// demultiplexes to a Message of kind offer, answer or candidate, whose payload is the
// session description or ICE candidate as JSON.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ownerofglory/go-pion-rtcbridge/engine"
)

// ErrUnknownKind is returned for messages that are not an offer, answer or candidate.
var ErrUnknownKind = errors.New("unknown signaling message kind")

type Client interface {
	Write(message *ClientMessage) error
	Read() (*ClientMessage, error)
	Close() error
}

// Kind is the type of a signaling Message.
type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
)

// Message is a demultiplexed signaling message.
type Message struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// NewDescriptionMessage wraps an offer or answer.
func NewDescriptionMessage(sd engine.SessionDescription) (Message, error) {
	var kind Kind
	switch sd.Type {
	case engine.SDPTypeOffer:
		kind = KindOffer
	case engine.SDPTypeAnswer:
		kind = KindAnswer
	default:
		return Message{}, fmt.Errorf("%w: description of type %s", ErrUnknownKind, sd.Type)
	}
	b, err := json.Marshal(sd)
	if err != nil {
		return Message{}, fmt.Errorf("encode description: %w", err)
	}
	return Message{Kind: kind, Payload: b}, nil
}

// NewCandidateMessage wraps an ICE candidate.
func NewCandidateMessage(c engine.ICECandidate) (Message, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return Message{}, fmt.Errorf("encode candidate: %w", err)
	}
	return Message{Kind: KindCandidate, Payload: b}, nil
}

// Description decodes an offer or answer payload.
func (m Message) Description() (engine.SessionDescription, error) {
	if m.Kind != KindOffer && m.Kind != KindAnswer {
		return engine.SessionDescription{}, fmt.Errorf("%w: %q is not a description", ErrUnknownKind, m.Kind)
	}
	var sd engine.SessionDescription
	if err := json.Unmarshal(m.Payload, &sd); err != nil {
		return engine.SessionDescription{}, fmt.Errorf("decode %s: %w", m.Kind, err)
	}
	if sd.Type.String() != string(m.Kind) {
		return engine.SessionDescription{}, fmt.Errorf("%s message carries %s description", m.Kind, sd.Type)
	}
	return sd, nil
}

// Candidate decodes a candidate payload.
func (m Message) Candidate() (engine.ICECandidate, error) {
	if m.Kind != KindCandidate {
		return engine.ICECandidate{}, fmt.Errorf("%w: %q is not a candidate", ErrUnknownKind, m.Kind)
	}
	var c engine.ICECandidate
	if err := json.Unmarshal(m.Payload, &c); err != nil {
		return engine.ICECandidate{}, fmt.Errorf("decode candidate: %w", err)
	}
	return c, nil
}

// WebrtcSignal is the signal body the server relays.
type WebrtcSignal struct {
	Type          string  `json:"type,omitempty"` // offer/answer
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        string  `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// ClientMessage is the routed envelope. A message with only From set is the server's
// greeting carrying this client's id.
type ClientMessage struct {
	Signal *WebrtcSignal `json:"signal,omitempty"`
	To     string        `json:"to,omitempty"`
	From   string        `json:"from,omitempty"`
}

// Message demultiplexes the signal.
func (s *WebrtcSignal) Message() (Message, error) {
	switch {
	case (s.Type == "offer" || s.Type == "answer") && s.SDP != "":
		sdpType, err := engine.ParseSDPType(s.Type)
		if err != nil {
			return Message{}, err
		}
		return NewDescriptionMessage(engine.SessionDescription{Type: sdpType, SDP: s.SDP})
	case s.Candidate != "":
		return NewCandidateMessage(engine.ICECandidate{
			Candidate:     s.Candidate,
			SDPMid:        nullableStringPtr(s.SDPMid),
			SDPMLineIndex: s.SDPMLineIndex,
		})
	default:
		return Message{}, fmt.Errorf("%w: signal type %q", ErrUnknownKind, s.Type)
	}
}

// NewSignal converts a Message to the relayed signal body.
func NewSignal(m Message) (*WebrtcSignal, error) {
	switch m.Kind {
	case KindOffer, KindAnswer:
		sd, err := m.Description()
		if err != nil {
			return nil, err
		}
		return &WebrtcSignal{Type: sd.Type.String(), SDP: sd.SDP}, nil
	case KindCandidate:
		c, err := m.Candidate()
		if err != nil {
			return nil, err
		}
		var mid string
		if c.SDPMid != nil {
			mid = *c.SDPMid
		}
		return &WebrtcSignal{Candidate: c.Candidate, SDPMid: mid, SDPMLineIndex: c.SDPMLineIndex}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
}

func nullableStringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
