package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
signaling:
  url: wss://signal.example/ws
  origin: https://app.example
ice_servers:
  - urls: ["stun:stun.example:3478"]
  - urls: ["turn:turn.example:3478"]
    username: u
    credential: p
video:
  input: /tmp/in.yuv
  width: 320
  height: 240
  fps: 15
audio:
  enabled: true
  frame: 10ms
engine:
  pli_interval: 1s
  port_min: 50000
  port_max: 50100
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "wss://signal.example/ws", cfg.Signaling.URL)
	require.Len(t, cfg.ICEServers, 2)
	assert.Equal(t, "p", cfg.ICEServers[1].Credential)
	assert.Equal(t, VideoConfig{Input: "/tmp/in.yuv", Width: 320, Height: 240, FPS: 15}, cfg.Video)
	assert.True(t, cfg.Audio.Enabled)
	assert.Equal(t, 10*time.Millisecond, cfg.Audio.Frame)
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
	assert.Equal(t, time.Second, cfg.Engine.PLIInterval)
	assert.Equal(t, uint16(1200), cfg.Engine.MTU)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("SIGNAL_WS_URL", "ws://localhost:8080/ws")
	t.Setenv("VIDEO_INPUT", "gst")
	t.Setenv("GST_VIDEO_PIPELINE", "videotestsrc ! fdsink fd=1")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Signaling.URL)
	assert.Equal(t, "https://app.example", cfg.Signaling.Origin)
	assert.Equal(t, InputGst, cfg.Video.Input)
	assert.Equal(t, "videotestsrc ! fdsink fd=1", cfg.Video.Pipeline)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestEnvOnly(t *testing.T) {
	t.Setenv("SIGNAL_WS_URL", "ws://localhost:8080/ws")
	t.Setenv("SIGNAL_ORIGIN", "http://localhost")
	t.Setenv("RTC_CONFIG_URL", "http://localhost/rtc-config")
	t.Setenv("GST_AUDIO_PIPELINE", "alsasrc ! fdsink fd=1")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, InputGst, cfg.Video.Input)
	assert.True(t, cfg.Audio.Enabled)
	assert.Equal(t, "alsasrc ! fdsink fd=1", cfg.Audio.Pipeline)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errInvalid)
	assert.Contains(t, err.Error(), "SIGNAL_WS_URL")
	assert.Contains(t, err.Error(), "SIGNAL_ORIGIN")

	cfg.Signaling = SignalingConfig{URL: "ws://x", Origin: "http://x"}
	cfg.RTCConfigURL = "http://x/rtc"
	require.NoError(t, cfg.Validate())

	cfg.Video.FPS = 0
	assert.Error(t, cfg.Validate())
	cfg.Video.Input = InputNone
	assert.NoError(t, cfg.Validate())

	cfg.Engine.PortMin, cfg.Engine.PortMax = 10, 5
	assert.Error(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "signaling: ["))
	assert.Error(t, err)
}
