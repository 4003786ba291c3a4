package rtc

import (
	"errors"
	"testing"

	"github.com/ownerofglory/go-pion-rtcbridge/engine/enginetest"
	"github.com/ownerofglory/go-pion-rtcbridge/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i420(w, h int) *frame.VideoFrame {
	return frame.NewVideoFrame(w, h, make([]byte, frame.I420Size(w, h)))
}

func TestVideoTrackAddFrame(t *testing.T) {
	eng := enginetest.New()
	track, err := CreateVideoTrack(eng, "t1", VideoFormat{Width: 4, Height: 2})
	require.NoError(t, err)
	defer track.Close()

	require.NotNil(t, track.Video())
	assert.Nil(t, track.Audio())
	assert.Equal(t, KindVideo, track.Kind())
	assert.False(t, track.Remote())

	require.NoError(t, track.Video().AddFrame(i420(4, 2)))

	err = track.Video().AddFrame(i420(8, 8))
	assert.ErrorIs(t, err, ErrInvalidFrame)

	bad := i420(4, 2)
	bad.Data = bad.Data[:3]
	assert.ErrorIs(t, track.Video().AddFrame(bad), ErrInvalidFrame)

	track.SetEnabled(false)
	require.NoError(t, track.Video().AddFrame(i420(4, 2)))
	assert.False(t, track.Enabled())

	native := eng.Tracks()[0]
	assert.Len(t, native.VideoFrames(), 1)
	assert.Equal(t, TrackStats{FramesSent: 1, FramesRejected: 2, FramesMuted: 1}, track.Stats())
}

func TestAudioTrackAddFrame(t *testing.T) {
	eng := enginetest.New()
	track, err := CreateAudioTrack(eng, "mic", AudioFormat{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)
	defer track.Close()

	require.NotNil(t, track.Audio())
	assert.Nil(t, track.Video())

	require.NoError(t, track.Audio().AddFrame(frame.NewAudioFrame(48000, 2, make([]int16, 960))))
	assert.ErrorIs(t, track.Audio().AddFrame(frame.NewAudioFrame(8000, 1, make([]int16, 160))), ErrInvalidFrame)

	assert.Len(t, eng.Tracks()[0].AudioFrames(), 1)
}

func TestCreateTrackErrors(t *testing.T) {
	eng := enginetest.New()

	_, err := CreateVideoTrack(eng, "bad\x00id", VideoFormat{Width: 2, Height: 2})
	assert.ErrorIs(t, err, ErrEncoding)
	assert.Empty(t, eng.Tracks())

	cause := errors.New("out of encoders")
	eng.NewTrackErr = cause
	_, err = CreateAudioTrack(eng, "mic", AudioFormat{SampleRate: 8000, Channels: 1})
	assert.ErrorIs(t, err, ErrNativeAllocation)
	assert.ErrorIs(t, err, cause)
}

func TestTrackUseAfterRelease(t *testing.T) {
	eng := enginetest.New()
	track, err := CreateVideoTrack(eng, "t1", VideoFormat{Width: 2, Height: 2})
	require.NoError(t, err)

	require.NoError(t, track.Close())
	require.NoError(t, track.Close())
	assert.Equal(t, 1, eng.Tracks()[0].CloseCount())
	assert.Equal(t, "t1", track.ID())

	assert.PanicsWithError(t, `video track "t1" used after release`, func() {
		_ = track.Video().AddFrame(i420(2, 2))
	})
	assert.PanicsWithError(t, `video track "t1" used after release`, func() {
		track.Video().RegisterSink(0, nil)
	})
}
