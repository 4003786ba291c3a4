package rtc

import (
	"sync"

	"github.com/ownerofglory/go-pion-rtcbridge/handle"
)

// MediaStream is an ordered group of tracks sent under one stream id. A stream
// references its tracks; tracks never reference their stream.
type MediaStream struct {
	id  string
	idh *handle.Handle

	mx     sync.RWMutex
	tracks []*MediaStreamTrack
	once   sync.Once
}

// NewMediaStream creates an empty stream. It fails only with ErrEncoding.
func NewMediaStream(id string) (*MediaStream, error) {
	h, err := handle.Acquire(id)
	if err != nil {
		return nil, err
	}
	return &MediaStream{id: id, idh: h}, nil
}

// ID returns the stream id. It stays valid after Close.
func (s *MediaStream) ID() string { return s.id }

// AddTrack appends t. Adding the same track twice is not detected.
func (s *MediaStream) AddTrack(t *MediaStreamTrack) {
	s.mustBeLive()
	s.mx.Lock()
	defer s.mx.Unlock()
	s.tracks = append(s.tracks, t)
}

// RemoveTrack removes the first occurrence of t and reports whether it was present.
func (s *MediaStream) RemoveTrack(t *MediaStreamTrack) bool {
	s.mustBeLive()
	s.mx.Lock()
	defer s.mx.Unlock()

	for i, cur := range s.tracks {
		if cur == t {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			return true
		}
	}
	return false
}

// Tracks returns the tracks in insertion order.
func (s *MediaStream) Tracks() []*MediaStreamTrack {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return append([]*MediaStreamTrack(nil), s.tracks...)
}

// VideoTracks returns the video tracks in insertion order.
func (s *MediaStream) VideoTracks() []*VideoTrack {
	s.mx.RLock()
	defer s.mx.RUnlock()

	var out []*VideoTrack
	for _, t := range s.tracks {
		if v := t.Video(); v != nil {
			out = append(out, v)
		}
	}
	return out
}

// AudioTracks returns the audio tracks in insertion order.
func (s *MediaStream) AudioTracks() []*AudioTrack {
	s.mx.RLock()
	defer s.mx.RUnlock()

	var out []*AudioTrack
	for _, t := range s.tracks {
		if a := t.Audio(); a != nil {
			out = append(out, a)
		}
	}
	return out
}

// Close releases the stream id. The tracks are left open; their owner closes them.
func (s *MediaStream) Close() {
	s.once.Do(s.idh.Release)
}

func (s *MediaStream) mustBeLive() {
	if s.idh.Released() {
		panic(&handle.UseAfterReleaseError{Resource: "stream", ID: s.id})
	}
}
