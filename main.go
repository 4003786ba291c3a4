package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/ownerofglory/go-pion-rtcbridge/config"
	"github.com/ownerofglory/go-pion-rtcbridge/engine"
	"github.com/ownerofglory/go-pion-rtcbridge/engine/pionengine"
	"github.com/ownerofglory/go-pion-rtcbridge/internal/logging"
	"github.com/ownerofglory/go-pion-rtcbridge/media"
	"github.com/ownerofglory/go-pion-rtcbridge/peer"
	"github.com/ownerofglory/go-pion-rtcbridge/rtc"
	"github.com/ownerofglory/go-pion-rtcbridge/signalws"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup(os.Stderr, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("Bridge stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// connect signaling
	header := http.Header{}
	header.Set("Origin", cfg.Signaling.Origin)

	wsClient, err := signalws.NewWebSocketClient(ctx, cfg.Signaling.URL, header)
	if err != nil {
		return fmt.Errorf("create web socket client: %w", err)
	}
	defer wsClient.Close()

	rtcCfg := iceConfig(ctx, cfg)

	eng, err := pionengine.New(
		pionengine.WithLogger(logger),
		pionengine.WithMTU(cfg.Engine.MTU),
		pionengine.WithPLIInterval(cfg.Engine.PLIInterval),
		pionengine.WithUDPPortRange(cfg.Engine.PortMin, cfg.Engine.PortMax),
	)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	streamID := cfg.StreamID
	if streamID == "" {
		streamID = uuid.NewString()
	}
	stream, err := rtc.NewMediaStream(streamID)
	if err != nil {
		return err
	}
	defer stream.Close()

	pumpCtx, stopPumps := context.WithCancel(ctx)
	defer stopPumps()
	var pumps []func()

	opts := []rtc.Option{rtc.WithLogger(logger), rtc.WithStreamID(streamID)}

	if cfg.Video.Input != config.InputNone {
		src, err := openVideo(pumpCtx, cfg.Video)
		if err != nil {
			return err
		}
		defer src.Close()

		track, err := rtc.CreateVideoTrack(eng, "video-"+streamID,
			rtc.VideoFormat{Width: cfg.Video.Width, Height: cfg.Video.Height}, opts...)
		if err != nil {
			return err
		}
		defer track.Close()
		stream.AddTrack(track)

		pumps = append(pumps, func() {
			if err := media.PumpVideo(pumpCtx, src, track.Video(), cfg.Video.FPS, "video"); err != nil {
				slog.Error("Video pump stopped", "err", err)
			}
		})
	}

	if cfg.Audio.Enabled {
		pipeline := cfg.Audio.Pipeline
		if pipeline == "" {
			pipeline = media.DefaultAudioPipeline
		}
		src, err := media.StartGstAudio(pumpCtx, pipeline, cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Audio.Frame)
		if err != nil {
			return err
		}
		defer src.Close()

		track, err := rtc.CreateAudioTrack(eng, "audio-"+streamID,
			rtc.AudioFormat{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}, opts...)
		if err != nil {
			return err
		}
		defer track.Close()
		stream.AddTrack(track)

		pumps = append(pumps, func() {
			if err := media.PumpAudio(pumpCtx, src, track.Audio(), "audio"); err != nil {
				slog.Error("Audio pump stopped", "err", err)
			}
		})
	}

	//  create PeerConnection handler
	pch, err := peer.NewWebRTCPeerConnHandler(wsClient, eng, rtcCfg, opts...)
	if err != nil {
		return err
	}
	defer pch.Shutdown()

	// pumps stop before the tracks and sources they use are closed
	var wg sync.WaitGroup
	defer func() {
		stopPumps()
		wg.Wait()
	}()
	for _, pump := range pumps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pump()
		}()
	}

	err = pch.HandleConnection(ctx, peer.Media{Stream: stream, Tracks: stream.Tracks()})
	slog.Info("Shutting down...")
	return err
}

// iceConfig prefers the served RTC configuration, then the configured servers, then STUN.
func iceConfig(ctx context.Context, cfg *config.Config) *engine.Configuration {
	if cfg.RTCConfigURL != "" {
		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		rtcCfg, err := peer.FetchRTCConfig(fetchCtx, cfg.RTCConfigURL)
		if err == nil {
			return rtcCfg
		}
		slog.Warn("rtc-config fetch failed", "err", err)
	}
	if len(cfg.ICEServers) > 0 {
		return &engine.Configuration{ICEServers: cfg.ICEServers}
	}
	slog.Warn("Falling back to STUN only")
	return &engine.Configuration{ICEServers: peer.FallbackICEServers}
}

func openVideo(ctx context.Context, v config.VideoConfig) (media.VideoSource, error) {
	if v.Input != config.InputGst {
		return media.NewFileSource(v.Input, v.Width, v.Height)
	}
	pipeline := v.Pipeline
	if pipeline == "" {
		pipeline = media.DefaultVideoPipeline
	}
	return media.StartGstVideo(ctx, pipeline, v.Width, v.Height)
}
