// Package codec holds the payload formats the pion engine speaks natively: uncompressed
// I420 video carried over RTP, and G.711 µ-law audio.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ownerofglory/go-pion-rtcbridge/frame"
)

const (
	// MimeTypeRawI420 identifies uncompressed I420 video.
	MimeTypeRawI420 = "video/x-i420"
	// RawI420PayloadType is the dynamic payload type registered for MimeTypeRawI420.
	RawI420PayloadType = 125
	// VideoClockRate is the RTP clock for video.
	VideoClockRate = 90000
	// MaxRawDimension is the largest width or height the raw header can carry.
	MaxRawDimension = 0xffff

	rawHeaderSize = 4
	startOfFrame  = 0x80
)

var (
	errShortPacket = errors.New("raw video packet too short")
	errShortFrame  = errors.New("raw video frame too short")
)

// EncodeRawVideo serializes f as a 4 byte header (width, height) followed by its planes.
// Dimensions above MaxRawDimension do not fit the header; callers reject them.
func EncodeRawVideo(f *frame.VideoFrame) []byte {
	out := make([]byte, rawHeaderSize+len(f.Data))
	binary.BigEndian.PutUint16(out[0:], uint16(f.Width))
	binary.BigEndian.PutUint16(out[2:], uint16(f.Height))
	copy(out[rawHeaderSize:], f.Data)
	return out
}

// DecodeRawVideo parses a buffer produced by EncodeRawVideo.
func DecodeRawVideo(b []byte, ts time.Duration) (*frame.VideoFrame, error) {
	if len(b) < rawHeaderSize {
		return nil, errShortFrame
	}
	f := &frame.VideoFrame{
		Width:     int(binary.BigEndian.Uint16(b[0:])),
		Height:    int(binary.BigEndian.Uint16(b[2:])),
		Format:    frame.PixelFormatI420,
		Data:      b[rawHeaderSize:],
		Timestamp: ts,
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("decode raw video: %w", err)
	}
	return f, nil
}

// RawVideoPayloader splits an encoded raw frame into RTP payloads. Every payload starts
// with a one byte descriptor; the first payload of a frame has the start bit set.
type RawVideoPayloader struct{}

// Payload implements rtp.Payloader.
func (p *RawVideoPayloader) Payload(mtu uint16, payload []byte) [][]byte {
	if mtu <= 1 || len(payload) == 0 {
		return nil
	}
	max := int(mtu) - 1

	out := make([][]byte, 0, (len(payload)+max-1)/max)
	for offset := 0; offset < len(payload); offset += max {
		end := offset + max
		if end > len(payload) {
			end = len(payload)
		}
		pkt := make([]byte, 1+end-offset)
		if offset == 0 {
			pkt[0] = startOfFrame
		}
		copy(pkt[1:], payload[offset:end])
		out = append(out, pkt)
	}
	return out
}

// RawVideoDepacketizer reverses RawVideoPayloader for use with a sample builder.
type RawVideoDepacketizer struct{}

// Unmarshal implements rtp.Depacketizer.
func (d *RawVideoDepacketizer) Unmarshal(packet []byte) ([]byte, error) {
	if len(packet) < 1 {
		return nil, errShortPacket
	}
	return packet[1:], nil
}

// IsPartitionHead implements rtp.Depacketizer.
func (d *RawVideoDepacketizer) IsPartitionHead(payload []byte) bool {
	return len(payload) > 0 && payload[0]&startOfFrame != 0
}

// IsPartitionTail implements rtp.Depacketizer. The packetizer marks the last packet.
func (d *RawVideoDepacketizer) IsPartitionTail(marker bool, _ []byte) bool {
	return marker
}
