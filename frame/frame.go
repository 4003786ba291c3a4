// Package frame defines the raw media values carried by tracks.
package frame

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidFrame is returned when a frame's buffer does not match its declared layout.
var ErrInvalidFrame = errors.New("invalid frame")

// PixelFormat is a raw video layout.
type PixelFormat int

const (
	PixelFormatI420 PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12                    // YUV 4:2:0 semi-planar (Y + interleaved UV)
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	default:
		return "Unknown"
	}
}

// FrameSize returns the number of bytes a width x height frame occupies, or 0 for an
// unknown format.
func (p PixelFormat) FrameSize(width, height int) int {
	switch p {
	case PixelFormatI420, PixelFormatNV12:
		return I420Size(width, height)
	default:
		return 0
	}
}

// I420Size returns the buffer size of a 4:2:0 frame. Odd dimensions round the chroma
// planes up.
func I420Size(width, height int) int {
	cw, ch := (width+1)/2, (height+1)/2
	return width*height + 2*cw*ch
}

// VideoFrame is a raw video frame. It owns Data; once handed to a sink it is read-only.
type VideoFrame struct {
	Width     int
	Height    int
	Format    PixelFormat
	Data      []byte
	Timestamp time.Duration // capture time relative to the source start
}

// NewVideoFrame copies data into a new I420 frame.
func NewVideoFrame(width, height int, data []byte) *VideoFrame {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &VideoFrame{
		Width:  width,
		Height: height,
		Format: PixelFormatI420,
		Data:   buf,
	}
}

// Validate checks the buffer against the declared dimensions and format.
func (f *VideoFrame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil video frame", ErrInvalidFrame)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}
	want := f.Format.FrameSize(f.Width, f.Height)
	if want == 0 {
		return fmt.Errorf("%w: unsupported pixel format %s", ErrInvalidFrame, f.Format)
	}
	if len(f.Data) != want {
		return fmt.Errorf("%w: %s %dx%d needs %d bytes, got %d",
			ErrInvalidFrame, f.Format, f.Width, f.Height, want, len(f.Data))
	}
	return nil
}

// Planes splits an I420 frame into its Y, U and V planes.
func (f *VideoFrame) Planes() (y, u, v []byte) {
	ySize := f.Width * f.Height
	cSize := ((f.Width + 1) / 2) * ((f.Height + 1) / 2)
	return f.Data[:ySize], f.Data[ySize : ySize+cSize], f.Data[ySize+cSize : ySize+2*cSize]
}

// Clone creates a deep copy of the frame.
func (f *VideoFrame) Clone() *VideoFrame {
	c := *f
	c.Data = make([]byte, len(f.Data))
	copy(c.Data, f.Data)
	return &c
}

// AudioFrame is a chunk of signed 16-bit interleaved PCM.
type AudioFrame struct {
	SampleRate int
	Channels   int
	Data       []int16 // interleaved, len == SamplesPerChannel()*Channels
	Timestamp  time.Duration
}

// NewAudioFrame copies samples into a new frame.
func NewAudioFrame(sampleRate, channels int, samples []int16) *AudioFrame {
	buf := make([]int16, len(samples))
	copy(buf, samples)
	return &AudioFrame{
		SampleRate: sampleRate,
		Channels:   channels,
		Data:       buf,
	}
}

// SamplesPerChannel returns the number of samples in each channel.
func (f *AudioFrame) SamplesPerChannel() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / f.Channels
}

// Duration returns the playback duration of the frame.
func (f *AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SamplesPerChannel()) * time.Second / time.Duration(f.SampleRate)
}

// Validate checks the sample layout.
func (f *AudioFrame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil audio frame", ErrInvalidFrame)
	}
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("%w: %d Hz, %d channels", ErrInvalidFrame, f.SampleRate, f.Channels)
	}
	if len(f.Data) == 0 || len(f.Data)%f.Channels != 0 {
		return fmt.Errorf("%w: %d samples do not divide into %d channels",
			ErrInvalidFrame, len(f.Data), f.Channels)
	}
	return nil
}

// Clone creates a deep copy of the frame.
func (f *AudioFrame) Clone() *AudioFrame {
	c := *f
	c.Data = make([]int16, len(f.Data))
	copy(c.Data, f.Data)
	return &c
}
