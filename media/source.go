// Package media supplies raw outbound frames: from a YUV file or from a gst-launch
// pipeline writing raw buffers to stdout.
package media

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ownerofglory/go-pion-rtcbridge/frame"
)

// VideoSource yields raw I420 frames of a fixed size.
type VideoSource interface {
	ReadVideoFrame() (*frame.VideoFrame, error)
	Close() error
}

// AudioSource yields fixed-size chunks of 16-bit PCM.
type AudioSource interface {
	ReadAudioFrame() (*frame.AudioFrame, error)
	Close() error
}

// FileSource reads raw I420 frames from a file and starts over at EOF.
type FileSource struct {
	f      *os.File
	width  int
	height int
	buf    []byte
}

var _ VideoSource = (*FileSource)(nil)

// NewFileSource opens path holding concatenated width x height I420 frames.
func NewFileSource(path string, width, height int) (*FileSource, error) {
	size := frame.I420Size(width, height)
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", frame.ErrInvalidFrame, width, height)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open video input: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat video input: %w", err)
	}
	if st.Size() < int64(size) {
		f.Close()
		return nil, fmt.Errorf("%w: %s holds %d bytes, one %dx%d frame needs %d",
			frame.ErrInvalidFrame, path, st.Size(), width, height, size)
	}

	return &FileSource{f: f, width: width, height: height, buf: make([]byte, size)}, nil
}

// ReadVideoFrame returns the next frame, rewinding once the file is exhausted. A
// trailing partial frame is skipped.
func (s *FileSource) ReadVideoFrame() (*frame.VideoFrame, error) {
	_, err := io.ReadFull(s.f, s.buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if _, err = s.f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind video input: %w", err)
		}
		_, err = io.ReadFull(s.f, s.buf)
	}
	if err != nil {
		return nil, fmt.Errorf("read video input: %w", err)
	}
	return frame.NewVideoFrame(s.width, s.height, s.buf), nil
}

func (s *FileSource) Close() error {
	return s.f.Close()
}
