package pionengine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ownerofglory/go-pion-rtcbridge/codec"
	"github.com/ownerofglory/go-pion-rtcbridge/engine"
	"github.com/ownerofglory/go-pion-rtcbridge/frame"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
)

const (
	// a 1080p raw frame spans roughly 2600 packets at the default MTU
	rawMaxLate = 4096

	defaultFrameSamples = codec.VideoClockRate / 30
)

// localTrack packetizes frames once and fans the packets out to one pion track per
// AddTrack call, since pion fixes the stream id when a track is created.
type localTrack struct {
	opts       engine.TrackOptions
	capability webrtc.RTPCodecCapability
	logger     *slog.Logger

	mx         sync.Mutex
	packetizer rtp.Packetizer
	bound      []*webrtc.TrackLocalStaticRTP
	lastTS     time.Duration
	started    bool
	closed     bool

	pliCount atomic.Uint64
}

func newLocalTrack(opts engine.TrackOptions, mtu uint16, logger *slog.Logger) (*localTrack, error) {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	t := &localTrack{opts: opts, logger: logger.With("track", opts.ID)}
	switch opts.Kind {
	case engine.KindVideo:
		t.capability = webrtc.RTPCodecCapability{MimeType: codec.MimeTypeRawI420, ClockRate: codec.VideoClockRate}
		t.packetizer = rtp.NewPacketizer(mtu, codec.RawI420PayloadType, rand.Uint32(),
			&codec.RawVideoPayloader{}, rtp.NewRandomSequencer(), codec.VideoClockRate)
	case engine.KindAudio:
		t.capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: codec.G711SampleRate}
		t.packetizer = rtp.NewPacketizer(mtu, 0, rand.Uint32(),
			&codecs.G711Payloader{}, rtp.NewRandomSequencer(), codec.G711SampleRate)
	default:
		return nil, fmt.Errorf("cannot allocate track of kind %s", opts.Kind)
	}
	return t, nil
}

func (t *localTrack) ID() string        { return t.opts.ID }
func (t *localTrack) Kind() engine.Kind { return t.opts.Kind }

func (t *localTrack) bind(streamID string) (*webrtc.TrackLocalStaticRTP, error) {
	t.mx.Lock()
	defer t.mx.Unlock()

	if t.closed {
		return nil, engine.ErrClosed
	}
	pt, err := webrtc.NewTrackLocalStaticRTP(t.capability, t.opts.ID, streamID)
	if err != nil {
		return nil, fmt.Errorf("create pion track: %w", err)
	}
	t.bound = append(t.bound, pt)
	return pt, nil
}

func (t *localTrack) unbind(pt *webrtc.TrackLocalStaticRTP) {
	t.mx.Lock()
	defer t.mx.Unlock()

	for i, b := range t.bound {
		if b == pt {
			t.bound = append(t.bound[:i], t.bound[i+1:]...)
			return
		}
	}
}

func (t *localTrack) WriteVideo(f *frame.VideoFrame) error {
	if t.opts.Kind != engine.KindVideo {
		return engine.ErrKindMismatch
	}
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Format != frame.PixelFormatI420 {
		return fmt.Errorf("%w: pion engine sends %s only, got %s", frame.ErrInvalidFrame, frame.PixelFormatI420, f.Format)
	}
	if f.Width > codec.MaxRawDimension || f.Height > codec.MaxRawDimension {
		return fmt.Errorf("%w: %dx%d exceeds %d", frame.ErrInvalidFrame, f.Width, f.Height, codec.MaxRawDimension)
	}

	payload := codec.EncodeRawVideo(f)

	t.mx.Lock()
	defer t.mx.Unlock()

	samples := uint32(defaultFrameSamples)
	if t.started && f.Timestamp > t.lastTS {
		samples = uint32((f.Timestamp - t.lastTS) * codec.VideoClockRate / time.Second)
	}
	t.started = true
	t.lastTS = f.Timestamp

	return t.writeLocked(t.packetizer.Packetize(payload, samples))
}

func (t *localTrack) WriteAudio(f *frame.AudioFrame) error {
	if t.opts.Kind != engine.KindAudio {
		return engine.ErrKindMismatch
	}
	if err := f.Validate(); err != nil {
		return err
	}

	samples := f.Data
	if f.SampleRate != codec.G711SampleRate || f.Channels != 1 {
		var err error
		if samples, err = codec.ToNarrowband(f.Data, f.SampleRate, f.Channels); err != nil {
			return fmt.Errorf("%w: %v", frame.ErrInvalidFrame, err)
		}
	}
	payload := codec.EncodeMuLaw(samples)
	if len(payload) == 0 {
		return nil
	}

	t.mx.Lock()
	defer t.mx.Unlock()
	return t.writeLocked(t.packetizer.Packetize(payload, uint32(len(payload))))
}

func (t *localTrack) writeLocked(pkts []*rtp.Packet) error {
	if t.closed {
		return engine.ErrClosed
	}

	var errs []error
	for _, pt := range t.bound {
		for _, p := range pkts {
			if err := pt.WriteRTP(p); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				errs = append(errs, err)
				break
			}
		}
	}
	return errors.Join(errs...)
}

func (t *localTrack) Close() error {
	t.mx.Lock()
	defer t.mx.Unlock()

	t.closed = true
	t.bound = nil
	return nil
}

type remoteTrack struct {
	track  *webrtc.TrackRemote
	logger *slog.Logger

	onVideo atomic.Pointer[func(*frame.VideoFrame)]
	onAudio atomic.Pointer[func(*frame.AudioFrame)]
}

func newRemoteTrack(track *webrtc.TrackRemote, logger *slog.Logger) *remoteTrack {
	return &remoteTrack{track: track, logger: logger.With("track", track.ID())}
}

func (t *remoteTrack) ID() string        { return t.track.ID() }
func (t *remoteTrack) StreamID() string  { return t.track.StreamID() }
func (t *remoteTrack) Kind() engine.Kind { return fromPionKind(t.track.Kind()) }

func (t *remoteTrack) OnVideoFrame(fn func(*frame.VideoFrame)) { t.onVideo.Store(&fn) }
func (t *remoteTrack) OnAudioFrame(fn func(*frame.AudioFrame)) { t.onAudio.Store(&fn) }

// readLoop runs on the pion OnTrack goroutine until the track ends.
func (t *remoteTrack) readLoop() error {
	mime := t.track.Codec().MimeType
	switch {
	case strings.EqualFold(mime, codec.MimeTypeRawI420):
		return t.readRawVideo()
	case strings.EqualFold(mime, webrtc.MimeTypePCMU):
		return t.readPCMU()
	default:
		t.logger.Warn("No decoder for remote codec, draining", "codec", mime)
		return t.drain()
	}
}

func (t *remoteTrack) readRawVideo() error {
	sb := samplebuilder.New(rawMaxLate, &codec.RawVideoDepacketizer{}, codec.VideoClockRate)
	var base uint32
	var haveBase bool

	for {
		pkt, _, err := t.track.ReadRTP()
		if err != nil {
			return endOfTrack(err)
		}
		sb.Push(pkt)

		for s := sb.Pop(); s != nil; s = sb.Pop() {
			if !haveBase {
				base, haveBase = s.PacketTimestamp, true
			}
			ts := rtpDuration(s.PacketTimestamp-base, codec.VideoClockRate)
			f, err := codec.DecodeRawVideo(s.Data, ts)
			if err != nil {
				t.logger.Debug("Dropping malformed raw frame", "err", err)
				continue
			}
			if fn := t.onVideo.Load(); fn != nil && *fn != nil {
				(*fn)(f)
			}
		}
	}
}

func (t *remoteTrack) readPCMU() error {
	var base uint32
	var haveBase bool

	for {
		pkt, _, err := t.track.ReadRTP()
		if err != nil {
			return endOfTrack(err)
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		if !haveBase {
			base, haveBase = pkt.Timestamp, true
		}
		f := frame.NewAudioFrame(codec.G711SampleRate, 1, codec.DecodeMuLaw(pkt.Payload))
		f.Timestamp = rtpDuration(pkt.Timestamp-base, codec.G711SampleRate)
		if fn := t.onAudio.Load(); fn != nil && *fn != nil {
			(*fn)(f)
		}
	}
}

func (t *remoteTrack) drain() error {
	for {
		if _, _, err := t.track.ReadRTP(); err != nil {
			return endOfTrack(err)
		}
	}
}

func rtpDuration(ticks uint32, clockRate int64) time.Duration {
	return time.Duration(int64(ticks) * int64(time.Second) / clockRate)
}

func endOfTrack(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
