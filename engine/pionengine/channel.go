package pionengine

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/ownerofglory/go-pion-rtcbridge/engine"
	"github.com/pion/webrtc/v4"
)

type channel struct {
	dc      *webrtc.DataChannel
	onState atomic.Pointer[func(engine.ChannelState)]
}

func newChannel(dc *webrtc.DataChannel) *channel {
	return &channel{dc: dc}
}

func (c *channel) Label() string                   { return c.dc.Label() }
func (c *channel) ReadyState() engine.ChannelState { return fromPionChannelState(c.dc.ReadyState()) }
func (c *channel) BufferedAmount() uint64          { return c.dc.BufferedAmount() }

func (c *channel) Send(b []byte) error {
	err := c.dc.Send(b)
	if errors.Is(err, io.ErrClosedPipe) {
		return engine.ErrClosed
	}
	return err
}

// OnStateChange maps pion's open and close events. Pion fires OnOpen right away when
// the channel is already open.
func (c *channel) OnStateChange(fn func(engine.ChannelState)) {
	c.onState.Store(&fn)
	c.dc.OnOpen(func() { fn(engine.ChannelStateOpen) })
	c.dc.OnClose(func() { fn(engine.ChannelStateClosed) })
}

func (c *channel) OnMessage(fn func([]byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) { fn(msg.Data) })
}

// Close reports closing right away; pion raises OnClose once the stream is torn down.
func (c *channel) Close() error {
	if fn := c.onState.Load(); fn != nil && c.dc.ReadyState() == webrtc.DataChannelStateOpen {
		(*fn)(engine.ChannelStateClosing)
	}
	return c.dc.Close()
}
