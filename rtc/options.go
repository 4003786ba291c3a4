package rtc

import (
	"log/slog"

	"github.com/ownerofglory/go-pion-rtcbridge/engine"
)

const (
	defaultSinkCapacity     = 32
	defaultMaxBufferedBytes = 1 << 20
)

// VideoFormat is the raw layout a video track accepts.
type VideoFormat = engine.VideoFormat

// AudioFormat is the raw layout an audio track accepts.
type AudioFormat = engine.AudioFormat

// Kind is a track's media kind.
type Kind = engine.Kind

const (
	KindAudio = engine.KindAudio
	KindVideo = engine.KindVideo
)

type options struct {
	logger       *slog.Logger
	sinkCapacity int
	maxBuffered  uint64
	video        VideoFormat
	audio        AudioFormat
	streamID     string
}

// Option configures tracks, channels, observers and peer connections.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		logger:       slog.Default(),
		sinkCapacity: defaultSinkCapacity,
		maxBuffered:  defaultMaxBufferedBytes,
		video:        VideoFormat{Width: 640, Height: 480},
		audio:        AudioFormat{SampleRate: 48000, Channels: 2},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSinkCapacity bounds each media sink's queue. When a consumer falls behind the
// oldest frames are dropped. Zero means unbounded. Data channel messages are never
// dropped.
func WithSinkCapacity(n int) Option {
	return func(o *options) { o.sinkCapacity = n }
}

// WithMaxBufferedAmount sets the data channel high-water mark in bytes.
func WithMaxBufferedAmount(n uint64) Option {
	return func(o *options) { o.maxBuffered = n }
}

// WithVideoFormat sets the format CreateTrack allocates for video.
func WithVideoFormat(f VideoFormat) Option {
	return func(o *options) { o.video = f }
}

// WithAudioFormat sets the format CreateTrack allocates for audio.
func WithAudioFormat(f AudioFormat) Option {
	return func(o *options) { o.audio = f }
}

// WithStreamID sets the stream id used by AddTrack when no stream is given.
func WithStreamID(id string) Option {
	return func(o *options) { o.streamID = id }
}
