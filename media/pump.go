package media

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ownerofglory/go-pion-rtcbridge/frame"
)

// VideoSink accepts outbound video frames; *rtc.VideoTrack implements it.
type VideoSink interface {
	AddFrame(f *frame.VideoFrame) error
}

// AudioSink accepts outbound audio frames; *rtc.AudioTrack implements it.
type AudioSink interface {
	AddFrame(f *frame.AudioFrame) error
}

// PumpVideo reads src at fps frames per second and writes each frame to dst until ctx
// ends or src fails. Invalid frames are skipped; dst has already logged them.
func PumpVideo(ctx context.Context, src VideoSource, dst VideoSink, fps int, tag string) error {
	if fps <= 0 {
		fps = 30
	}
	interval := time.Second / time.Duration(fps)
	start := time.Now()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("PumpVideo shutting down", "tag", tag)
			return nil
		case <-ticker.C:
		}

		f, err := src.ReadVideoFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Failed to read video frame", "tag", tag, "err", err)
			return err
		}
		f.Timestamp = time.Since(start)
		if err := dst.AddFrame(f); err != nil && !errors.Is(err, frame.ErrInvalidFrame) {
			slog.Error("Failed to write video frame", "tag", tag, "err", err)
			return err
		}
	}
}

// PumpAudio writes frames from src to dst as fast as src produces them; live sources
// pace themselves.
func PumpAudio(ctx context.Context, src AudioSource, dst AudioSink, tag string) error {
	var ts time.Duration
	for {
		select {
		case <-ctx.Done():
			slog.Info("PumpAudio shutting down", "tag", tag)
			return nil
		default:
		}

		f, err := src.ReadAudioFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Failed to read audio frame", "tag", tag, "err", err)
			return err
		}
		f.Timestamp = ts
		ts += f.Duration()
		if err := dst.AddFrame(f); err != nil && !errors.Is(err, frame.ErrInvalidFrame) {
			slog.Error("Failed to write audio frame", "tag", tag, "err", err)
			return err
		}
	}
}
