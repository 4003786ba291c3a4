package media

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/ownerofglory/go-pion-rtcbridge/frame"
)

// Default pipelines produce raw buffers on stdout for GstSource.
const (
	DefaultVideoPipeline = "videotestsrc is-live=true ! video/x-raw,format=I420,width=640,height=480,framerate=30/1 ! fdsink fd=1"
	DefaultAudioPipeline = "audiotestsrc is-live=true wave=sine ! audio/x-raw,format=S16LE,layout=interleaved,rate=48000,channels=1 ! fdsink fd=1"
)

// GstSource reads fixed-size raw buffers from a gst-launch child process.
type GstSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	tag    string

	width, height int

	sampleRate, channels int
	buf                  []byte
}

var (
	_ VideoSource = (*GstSource)(nil)
	_ AudioSource = (*GstSource)(nil)
)

// StartGstVideo runs pipeline, which must end in "fdsink fd=1" producing width x height
// I420 frames.
func StartGstVideo(ctx context.Context, pipeline string, width, height int) (*GstSource, error) {
	s := &GstSource{tag: "video", width: width, height: height, buf: make([]byte, frame.I420Size(width, height))}
	if err := s.start(ctx, pipeline); err != nil {
		return nil, err
	}
	return s, nil
}

// StartGstAudio runs pipeline, which must end in "fdsink fd=1" producing interleaved
// S16LE samples. Each frame carries frameDuration of audio.
func StartGstAudio(ctx context.Context, pipeline string, sampleRate, channels int, frameDuration time.Duration) (*GstSource, error) {
	samples := int(int64(sampleRate)*int64(frameDuration)/int64(time.Second)) * channels
	if samples <= 0 {
		return nil, fmt.Errorf("%w: %d Hz x%d over %s", frame.ErrInvalidFrame, sampleRate, channels, frameDuration)
	}
	s := &GstSource{tag: "audio", sampleRate: sampleRate, channels: channels, buf: make([]byte, 2*samples)}
	if err := s.start(ctx, pipeline); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GstSource) start(ctx context.Context, pipeline string) error {
	// split command: gst-launch-1.0 <elements...>; -q keeps status lines off stdout
	args := append([]string{"-q", "-e"}, strings.Fields(pipeline)...)
	cmd := exec.CommandContext(ctx, "gst-launch-1.0", args...)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("gst-launch stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		slog.Error("Failed to start gst-launch", "tag", s.tag, "err", err)
		return fmt.Errorf("start gst-launch: %w", err)
	}
	slog.Info("Started gst-launch", "tag", s.tag, "args", cmd.Args)

	s.cmd, s.stdout = cmd, stdout
	return nil
}

func (s *GstSource) ReadVideoFrame() (*frame.VideoFrame, error) {
	if s.width == 0 {
		return nil, fmt.Errorf("gst %s source does not produce video", s.tag)
	}
	if _, err := io.ReadFull(s.stdout, s.buf); err != nil {
		return nil, fmt.Errorf("read gst %s output: %w", s.tag, err)
	}
	return frame.NewVideoFrame(s.width, s.height, s.buf), nil
}

func (s *GstSource) ReadAudioFrame() (*frame.AudioFrame, error) {
	if s.sampleRate == 0 {
		return nil, fmt.Errorf("gst %s source does not produce audio", s.tag)
	}
	if _, err := io.ReadFull(s.stdout, s.buf); err != nil {
		return nil, fmt.Errorf("read gst %s output: %w", s.tag, err)
	}
	return &frame.AudioFrame{SampleRate: s.sampleRate, Channels: s.channels, Data: decodeS16LE(s.buf)}, nil
}

// Close interrupts gst-launch so it can flush, killing it if it does not exit in time.
func (s *GstSource) Close() error {
	killProc(s.cmd)
	return nil
}

func decodeS16LE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

func killProc(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGINT)
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	case err := <-done:
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			slog.Warn("gst-launch wait failed", "err", err)
		}
	}
}
