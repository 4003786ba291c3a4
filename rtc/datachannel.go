package rtc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ownerofglory/go-pion-rtcbridge/engine"
	"github.com/ownerofglory/go-pion-rtcbridge/sink"
)

// ChannelState is a data channel's ready state.
type ChannelState = engine.ChannelState

const (
	ChannelStateConnecting = engine.ChannelStateConnecting
	ChannelStateOpen       = engine.ChannelStateOpen
	ChannelStateClosing    = engine.ChannelStateClosing
	ChannelStateClosed     = engine.ChannelStateClosed
)

// RTCDataChannel is a bidirectional message channel. Its state only moves forward,
// Connecting, Open, Closing, Closed, and only on engine notifications.
type RTCDataChannel struct {
	label       string
	native      engine.Channel
	logger      *slog.Logger
	maxBuffered uint64

	mx    sync.Mutex
	state ChannelState

	sinks       *sink.Registry[[]byte]
	stateSinks  *sink.Registry[ChannelState]
	stateSinkID atomic.Uint32
	once        sync.Once
}

func newDataChannel(native engine.Channel, o options) *RTCDataChannel {
	logger := o.logger.With("channel", native.Label())
	c := &RTCDataChannel{
		label:       native.Label(),
		native:      native,
		logger:      logger,
		maxBuffered: o.maxBuffered,
		state:       native.ReadyState(),
		sinks:       sink.NewRegistry[[]byte](sink.WithName("channel:"+native.Label()), sink.WithLogger(logger)),
		stateSinks:  sink.NewRegistry[ChannelState](sink.WithName("channel-state:"+native.Label()), sink.WithLogger(logger)),
	}
	native.OnStateChange(c.handleState)
	native.OnMessage(func(b []byte) {
		c.sinks.Broadcast(append([]byte(nil), b...))
	})
	return c
}

// handleState runs on an engine goroutine.
func (c *RTCDataChannel) handleState(s ChannelState) {
	c.mx.Lock()
	if s <= c.state {
		c.mx.Unlock()
		return
	}
	c.state = s
	c.mx.Unlock()

	c.logger.Info("Data channel state changed", "state", s.String())
	c.stateSinks.Broadcast(s)
}

// Label returns the channel label.
func (c *RTCDataChannel) Label() string { return c.label }

// State returns the current ready state.
func (c *RTCDataChannel) State() ChannelState {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.state
}

// BufferedAmount returns the bytes queued in the engine and not yet sent.
func (c *RTCDataChannel) BufferedAmount() uint64 {
	return c.native.BufferedAmount()
}

// OnStateChange calls fn on every later state transition, on a goroutine owned by the
// channel.
func (c *RTCDataChannel) OnStateChange(fn func(ChannelState)) {
	id := c.stateSinkID.Add(1)
	c.stateSinks.Register(id, sink.Func[ChannelState](fn))
}

// RegisterSink installs s under id for inbound messages, replacing any previous sink.
// Messages are delivered in arrival order and never dropped.
func (c *RTCDataChannel) RegisterSink(id uint32, s sink.Sink[[]byte]) {
	c.sinks.Register(id, s)
}

// UnregisterSink removes the sink at id.
func (c *RTCDataChannel) UnregisterSink(id uint32) {
	c.sinks.Unregister(id)
}

// Send hands b to the engine without blocking. It fails with ErrChannelNotOpen unless
// the channel is open and with ErrBackpressure when the engine's buffer is over the
// high-water mark. Nothing is queued or retried here.
func (c *RTCDataChannel) Send(b []byte) error {
	if st := c.State(); st != ChannelStateOpen {
		return fmt.Errorf("%w: %s is %s", ErrChannelNotOpen, c.label, st)
	}
	if buffered := c.native.BufferedAmount(); buffered+uint64(len(b)) > c.maxBuffered {
		return fmt.Errorf("%w: %d bytes buffered on %s", ErrBackpressure, buffered, c.label)
	}

	err := c.native.Send(b)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrQueueFull):
		return fmt.Errorf("%w: %w", ErrBackpressure, err)
	case errors.Is(err, engine.ErrClosed):
		return fmt.Errorf("%w: %w", ErrChannelNotOpen, err)
	default:
		return fmt.Errorf("send on %s: %w", c.label, err)
	}
}

// Close moves the channel to closing, closes the engine channel and stops message
// delivery. Later calls are no-ops.
func (c *RTCDataChannel) Close() error {
	var err error
	c.once.Do(func() {
		c.handleState(ChannelStateClosing)
		err = c.native.Close()
		c.sinks.Close()
		c.stateSinks.Close()
	})
	return err
}
