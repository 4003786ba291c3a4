// Package pionengine implements the engine contract on top of pion/webrtc. Pion's
// callback goroutines are the engine threads: every engine.Callbacks method is invoked
// from one of them.
package pionengine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ownerofglory/go-pion-rtcbridge/codec"
	"github.com/ownerofglory/go-pion-rtcbridge/engine"
	"github.com/ownerofglory/go-pion-rtcbridge/internal/logging"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

const defaultMTU = 1200

// FallbackICEServers is used when a session cannot be created with the configured servers.
var FallbackICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	mtu         uint16
	pliInterval time.Duration
	loopback    bool
	udpPortMin  uint16
	udpPortMax  uint16
}

// WithLogger routes engine and pion logs to l.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMTU sets the RTP packet size used when packetizing outbound frames. Zero keeps
// the default.
func WithMTU(mtu uint16) Option {
	return func(o *options) {
		if mtu > 0 {
			o.mtu = mtu
		}
	}
}

// WithPLIInterval makes receivers request a picture every d. Zero disables it.
func WithPLIInterval(d time.Duration) Option {
	return func(o *options) { o.pliInterval = d }
}

// WithLoopback lets ICE gather loopback candidates, for peers on the same host.
func WithLoopback() Option {
	return func(o *options) { o.loopback = true }
}

// WithUDPPortRange restricts the ephemeral UDP ports ICE may bind.
func WithUDPPortRange(min, max uint16) Option {
	return func(o *options) { o.udpPortMin, o.udpPortMax = min, max }
}

// Engine is an engine.Engine backed by a pion API instance.
type Engine struct {
	api    *webrtc.API
	logger *slog.Logger
	mtu    uint16
}

var _ engine.Engine = (*Engine)(nil)

// New builds the pion API: the codecs this engine can produce and consume, the default
// interceptors, and a setting engine logging through slog.
func New(opts ...Option) (*Engine, error) {
	o := options{
		logger:      slog.Default(),
		mtu:         defaultMTU,
		pliInterval: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &webrtc.MediaEngine{}
	for _, c := range supportedCodecs() {
		if err := m.RegisterCodec(c.params, c.kind); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.params.MimeType, err)
		}
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}
	if o.pliInterval > 0 {
		pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(o.pliInterval))
		if err != nil {
			return nil, fmt.Errorf("create PLI interceptor: %w", err)
		}
		registry.Add(pli)
	}

	se := webrtc.SettingEngine{LoggerFactory: logging.NewPionFactory(o.logger)}
	if o.loopback {
		se.SetIncludeLoopbackCandidate(true)
		se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	}
	if o.udpPortMin > 0 && o.udpPortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(o.udpPortMin, o.udpPortMax); err != nil {
			return nil, fmt.Errorf("set UDP port range: %w", err)
		}
	}

	return &Engine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
		logger: o.logger,
		mtu:    o.mtu,
	}, nil
}

// NewSession implements engine.Engine. If the configured ICE servers are rejected the
// session is retried with FallbackICEServers.
func (e *Engine) NewSession(cfg engine.Configuration, cb engine.Callbacks) (engine.Session, error) {
	pc, err := e.api.NewPeerConnection(toPionConfig(cfg))
	if err != nil {
		e.logger.Warn("webrtc PC create failed, retrying with STUN-only", "err", err)
		pc, err = e.api.NewPeerConnection(webrtc.Configuration{ICEServers: FallbackICEServers})
		if err != nil {
			return nil, fmt.Errorf("NewPeerConnection failed: %w", err)
		}
	}
	return newSession(pc, cb, e.logger), nil
}

// NewTrack implements engine.Engine.
func (e *Engine) NewTrack(opts engine.TrackOptions) (engine.LocalTrack, error) {
	return newLocalTrack(opts, e.mtu, e.logger)
}

type registeredCodec struct {
	params webrtc.RTPCodecParameters
	kind   webrtc.RTPCodecType
}

// supportedCodecs lists what the engine negotiates. Raw I420 and PCMU are the formats it
// can write and decode; VP8, H264 and Opus are accepted from browsers but not decoded.
func supportedCodecs() []registeredCodec {
	return []registeredCodec{
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: codec.MimeTypeRawI420, ClockRate: codec.VideoClockRate},
			PayloadType:        codec.RawI420PayloadType,
		}, webrtc.RTPCodecTypeVideo},
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: codec.VideoClockRate},
			PayloadType:        96,
		}, webrtc.RTPCodecTypeVideo},
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeH264,
				ClockRate:   codec.VideoClockRate,
				SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			},
			PayloadType: 102,
		}, webrtc.RTPCodecTypeVideo},
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: codec.G711SampleRate},
			PayloadType:        0,
		}, webrtc.RTPCodecTypeAudio},
		{webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			PayloadType:        111,
		}, webrtc.RTPCodecTypeAudio},
	}
}
