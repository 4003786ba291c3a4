package rtc

import (
	"errors"
	"fmt"

	"github.com/ownerofglory/go-pion-rtcbridge/engine"
	"github.com/ownerofglory/go-pion-rtcbridge/frame"
	"github.com/ownerofglory/go-pion-rtcbridge/handle"
)

var (
	// ErrNativeAllocation is returned when the engine refuses to create a resource.
	ErrNativeAllocation = errors.New("engine refused resource allocation")
	// ErrChannelNotOpen is returned by Send before the channel opens or once it is closing.
	ErrChannelNotOpen = errors.New("data channel not open")
	// ErrBackpressure is returned by Send when the engine cannot take more data right now.
	// The payload was not queued; the caller decides whether to retry or drop.
	ErrBackpressure = errors.New("data channel send buffer full")
	// ErrNegotiation matches every *NegotiationError.
	ErrNegotiation = errors.New("negotiation failed")
	// ErrInboundTrack is returned when frames are written to a track received from the peer.
	ErrInboundTrack = errors.New("track is inbound only")

	ErrEncoding     = handle.ErrEncoding
	ErrInvalidFrame = frame.ErrInvalidFrame
	ErrClosed       = engine.ErrClosed
)

// UseAfterReleaseError is the panic value raised when a released track or stream is used.
type UseAfterReleaseError = handle.UseAfterReleaseError

// NegotiationError reports the signaling stage the engine rejected.
type NegotiationError struct {
	Stage string
	Err   error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation failed at %s: %v", e.Stage, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNegotiation) match any stage.
func (e *NegotiationError) Is(target error) bool { return target == ErrNegotiation }
