package rtc

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ownerofglory/go-pion-rtcbridge/engine"
	"github.com/ownerofglory/go-pion-rtcbridge/frame"
	"github.com/ownerofglory/go-pion-rtcbridge/handle"
	"github.com/ownerofglory/go-pion-rtcbridge/sink"
)

// TrackStats counts outbound frames.
type TrackStats struct {
	FramesSent     uint64
	FramesRejected uint64
	FramesMuted    uint64
}

// MediaStreamTrack is either an audio or a video track. Exactly one of Audio and Video
// returns non-nil.
type MediaStreamTrack struct {
	audio *AudioTrack
	video *VideoTrack
}

// Audio returns the audio variant, or nil for a video track.
func (t *MediaStreamTrack) Audio() *AudioTrack { return t.audio }

// Video returns the video variant, or nil for an audio track.
func (t *MediaStreamTrack) Video() *VideoTrack { return t.video }

func (t *MediaStreamTrack) core() *trackCore {
	if t.video != nil {
		return &t.video.trackCore
	}
	return &t.audio.trackCore
}

// Kind returns KindAudio or KindVideo.
func (t *MediaStreamTrack) Kind() Kind {
	if t.video != nil {
		return KindVideo
	}
	return KindAudio
}

// ID returns the track id. It stays valid after Close.
func (t *MediaStreamTrack) ID() string { return t.core().id }

// Remote reports whether the track was received from the peer.
func (t *MediaStreamTrack) Remote() bool { return t.core().local == nil }

// Enabled reports whether outbound frames are forwarded to the engine.
func (t *MediaStreamTrack) Enabled() bool { return t.core().Enabled() }

// SetEnabled mutes or unmutes the track.
func (t *MediaStreamTrack) SetEnabled(on bool) { t.core().SetEnabled(on) }

// Stats returns outbound counters.
func (t *MediaStreamTrack) Stats() TrackStats { return t.core().Stats() }

// Close releases the engine track and the id. Later calls are no-ops.
func (t *MediaStreamTrack) Close() error {
	if t.video != nil {
		return t.video.Close()
	}
	return t.audio.Close()
}

func (t *MediaStreamTrack) localTrack() engine.LocalTrack { return t.core().local }

type trackCore struct {
	id       string
	kind     string
	idh      *handle.Handle
	local    engine.LocalTrack
	logger   *slog.Logger
	released atomic.Bool
	disabled atomic.Bool
	once     sync.Once

	sent, rejected, muted atomic.Uint64
}

func (c *trackCore) init(kind, id string, logger *slog.Logger) error {
	h, err := handle.Acquire(id)
	if err != nil {
		return err
	}
	c.id, c.kind, c.idh = id, kind, h
	c.logger = logger.With("track", id, "kind", kind)
	return nil
}

func (c *trackCore) mustBeLive() {
	if c.released.Load() {
		panic(&handle.UseAfterReleaseError{Resource: c.kind + " track", ID: c.id})
	}
}

// ID returns the track id.
func (c *trackCore) ID() string { return c.id }

// Enabled reports whether outbound frames are forwarded to the engine.
func (c *trackCore) Enabled() bool { return !c.disabled.Load() }

// SetEnabled mutes or unmutes the track. A muted track accepts frames and drops them.
func (c *trackCore) SetEnabled(on bool) { c.disabled.Store(!on) }

// Stats returns outbound counters.
func (c *trackCore) Stats() TrackStats {
	return TrackStats{
		FramesSent:     c.sent.Load(),
		FramesRejected: c.rejected.Load(),
		FramesMuted:    c.muted.Load(),
	}
}

// reject logs and counts an invalid frame.
func (c *trackCore) reject(err error) error {
	c.rejected.Add(1)
	c.logger.Warn("Dropping invalid frame", "err", err)
	return err
}

func (c *trackCore) release(closeSinks func()) error {
	var err error
	c.once.Do(func() {
		c.released.Store(true)
		closeSinks()
		if c.local != nil {
			if cerr := c.local.Close(); cerr != nil {
				err = fmt.Errorf("close %s track %s: %w", c.kind, c.id, cerr)
			}
		}
		c.idh.Release()
	})
	return err
}

// VideoTrack carries I420 frames.
type VideoTrack struct {
	trackCore
	format VideoFormat
	sinks  *sink.Registry[*frame.VideoFrame]
}

// AudioTrack carries 16-bit PCM frames.
type AudioTrack struct {
	trackCore
	format AudioFormat
	sinks  *sink.Registry[*frame.AudioFrame]
}

// CreateVideoTrack allocates an outbound video track accepting frames of format f.
func CreateVideoTrack(eng engine.Engine, id string, f VideoFormat, opts ...Option) (*MediaStreamTrack, error) {
	return CreateTrack(eng, KindVideo, id, append(opts, WithVideoFormat(f))...)
}

// CreateAudioTrack allocates an outbound audio track accepting frames of format f.
func CreateAudioTrack(eng engine.Engine, id string, f AudioFormat, opts ...Option) (*MediaStreamTrack, error) {
	return CreateTrack(eng, KindAudio, id, append(opts, WithAudioFormat(f))...)
}

// CreateTrack allocates an outbound track of the given kind. It fails with ErrEncoding
// when id cannot be represented and with ErrNativeAllocation when the engine refuses.
func CreateTrack(eng engine.Engine, kind Kind, id string, opts ...Option) (*MediaStreamTrack, error) {
	o := newOptions(opts)

	var t *MediaStreamTrack
	switch kind {
	case KindVideo:
		vt := &VideoTrack{format: o.video}
		if err := vt.init("video", id, o.logger); err != nil {
			return nil, err
		}
		t = &MediaStreamTrack{video: vt}
	case KindAudio:
		at := &AudioTrack{format: o.audio}
		if err := at.init("audio", id, o.logger); err != nil {
			return nil, err
		}
		t = &MediaStreamTrack{audio: at}
	default:
		return nil, fmt.Errorf("%w: unsupported track kind %s", ErrNativeAllocation, kind)
	}

	c := t.core()
	local, err := eng.NewTrack(engine.TrackOptions{
		Kind:  kind,
		ID:    c.idh.String(),
		Video: o.video,
		Audio: o.audio,
	})
	if err != nil {
		c.idh.Release()
		return nil, fmt.Errorf("%w: %s track %s: %w", ErrNativeAllocation, c.kind, id, err)
	}
	c.local = local

	sinkOpts := []sink.Option{sink.WithCapacity(o.sinkCapacity), sink.WithName(c.kind + ":" + id), sink.WithLogger(o.logger)}
	if t.video != nil {
		t.video.sinks = sink.NewRegistry[*frame.VideoFrame](sinkOpts...)
	} else {
		t.audio.sinks = sink.NewRegistry[*frame.AudioFrame](sinkOpts...)
	}
	return t, nil
}

// newRemoteTrack wraps an inbound engine track and routes its decoded frames to the
// track's sinks.
func newRemoteTrack(rt engine.RemoteTrack, o options) (*MediaStreamTrack, error) {
	sinkOpts := func(kind string) []sink.Option {
		return []sink.Option{sink.WithCapacity(o.sinkCapacity), sink.WithName(kind + ":" + rt.ID()), sink.WithLogger(o.logger)}
	}

	switch rt.Kind() {
	case engine.KindVideo:
		vt := &VideoTrack{sinks: sink.NewRegistry[*frame.VideoFrame](sinkOpts("video")...)}
		if err := vt.init("video", rt.ID(), o.logger); err != nil {
			return nil, err
		}
		rt.OnVideoFrame(func(f *frame.VideoFrame) { vt.sinks.Broadcast(f) })
		return &MediaStreamTrack{video: vt}, nil
	case engine.KindAudio:
		at := &AudioTrack{sinks: sink.NewRegistry[*frame.AudioFrame](sinkOpts("audio")...)}
		if err := at.init("audio", rt.ID(), o.logger); err != nil {
			return nil, err
		}
		rt.OnAudioFrame(func(f *frame.AudioFrame) { at.sinks.Broadcast(f) })
		return &MediaStreamTrack{audio: at}, nil
	default:
		return nil, fmt.Errorf("remote track %s has unknown kind", rt.ID())
	}
}

// Format returns the configured frame format. It is zero for inbound tracks.
func (t *VideoTrack) Format() VideoFormat { return t.format }

// RegisterSink installs s under id, replacing any previous sink.
func (t *VideoTrack) RegisterSink(id uint32, s sink.Sink[*frame.VideoFrame]) {
	t.mustBeLive()
	t.sinks.Register(id, s)
}

// UnregisterSink removes the sink at id.
func (t *VideoTrack) UnregisterSink(id uint32) {
	t.mustBeLive()
	t.sinks.Unregister(id)
}

// SinkStats reports the queue of the sink at id.
func (t *VideoTrack) SinkStats(id uint32) (sink.Stats, bool) {
	return t.sinks.Stats(id)
}

// AddFrame sends f to the peer. Frames that do not match the track's format are logged
// and rejected with ErrInvalidFrame. Frames on a disabled track are dropped.
func (t *VideoTrack) AddFrame(f *frame.VideoFrame) error {
	t.mustBeLive()
	if t.local == nil {
		return ErrInboundTrack
	}
	if err := f.Validate(); err != nil {
		return t.reject(err)
	}
	if f.Width != t.format.Width || f.Height != t.format.Height {
		return t.reject(fmt.Errorf("%w: got %dx%d, track is %dx%d",
			frame.ErrInvalidFrame, f.Width, f.Height, t.format.Width, t.format.Height))
	}
	if !t.Enabled() {
		t.muted.Add(1)
		return nil
	}
	if err := t.local.WriteVideo(f); err != nil {
		return fmt.Errorf("write video frame: %w", err)
	}
	t.sent.Add(1)
	return nil
}

// Close releases the engine track and the id. Later calls are no-ops.
func (t *VideoTrack) Close() error {
	return t.release(t.sinks.Close)
}

// Format returns the configured frame format. It is zero for inbound tracks.
func (t *AudioTrack) Format() AudioFormat { return t.format }

// RegisterSink installs s under id, replacing any previous sink.
func (t *AudioTrack) RegisterSink(id uint32, s sink.Sink[*frame.AudioFrame]) {
	t.mustBeLive()
	t.sinks.Register(id, s)
}

// UnregisterSink removes the sink at id.
func (t *AudioTrack) UnregisterSink(id uint32) {
	t.mustBeLive()
	t.sinks.Unregister(id)
}

// SinkStats reports the queue of the sink at id.
func (t *AudioTrack) SinkStats(id uint32) (sink.Stats, bool) {
	return t.sinks.Stats(id)
}

// AddFrame sends f to the peer. Frames whose rate or channel count differ from the
// track's format are logged and rejected with ErrInvalidFrame.
func (t *AudioTrack) AddFrame(f *frame.AudioFrame) error {
	t.mustBeLive()
	if t.local == nil {
		return ErrInboundTrack
	}
	if err := f.Validate(); err != nil {
		return t.reject(err)
	}
	if f.SampleRate != t.format.SampleRate || f.Channels != t.format.Channels {
		return t.reject(fmt.Errorf("%w: got %d Hz x%d, track is %d Hz x%d",
			frame.ErrInvalidFrame, f.SampleRate, f.Channels, t.format.SampleRate, t.format.Channels))
	}
	if !t.Enabled() {
		t.muted.Add(1)
		return nil
	}
	if err := t.local.WriteAudio(f); err != nil {
		return fmt.Errorf("write audio frame: %w", err)
	}
	t.sent.Add(1)
	return nil
}

// Close releases the engine track and the id. Later calls are no-ops.
func (t *AudioTrack) Close() error {
	return t.release(t.sinks.Close)
}
