// Package config loads the bridge configuration from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ownerofglory/go-pion-rtcbridge/engine"
	"gopkg.in/yaml.v3"
)

// Video input modes. Any other value of VideoConfig.Input is a path to a raw I420 file.
const (
	InputGst  = "gst"
	InputNone = "none"
)

var errInvalid = errors.New("invalid config")

type Config struct {
	Signaling    SignalingConfig    `yaml:"signaling"`
	RTCConfigURL string             `yaml:"rtc_config_url"`
	ICEServers   []engine.ICEServer `yaml:"ice_servers"`
	StreamID     string             `yaml:"stream_id"`
	LogLevel     string             `yaml:"log_level"`
	Video        VideoConfig        `yaml:"video"`
	Audio        AudioConfig        `yaml:"audio"`
	Engine       EngineConfig       `yaml:"engine"`
}

type SignalingConfig struct {
	URL    string `yaml:"url"`
	Origin string `yaml:"origin"`
}

type VideoConfig struct {
	Input    string `yaml:"input"`
	Pipeline string `yaml:"pipeline"`
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	FPS      int    `yaml:"fps"`
}

type AudioConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Pipeline   string        `yaml:"pipeline"`
	SampleRate int           `yaml:"sample_rate"`
	Channels   int           `yaml:"channels"`
	Frame      time.Duration `yaml:"frame"`
}

type EngineConfig struct {
	MTU         uint16        `yaml:"mtu"`
	PortMin     uint16        `yaml:"port_min"`
	PortMax     uint16        `yaml:"port_max"`
	PLIInterval time.Duration `yaml:"pli_interval"`
}

// Default returns the configuration used when neither file nor environment set a value.
func Default() Config {
	return Config{
		LogLevel: "debug",
		Video: VideoConfig{
			Input:  InputGst,
			Width:  640,
			Height: 480,
			FPS:    30,
		},
		Audio: AudioConfig{
			SampleRate: 48000,
			Channels:   1,
			Frame:      20 * time.Millisecond,
		},
		Engine: EngineConfig{
			MTU:         1200,
			PLIInterval: 3 * time.Second,
		},
	}
}

// Load reads path when it is not empty, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("SIGNAL_WS_URL", &c.Signaling.URL)
	set("SIGNAL_ORIGIN", &c.Signaling.Origin)
	set("RTC_CONFIG_URL", &c.RTCConfigURL)
	set("VIDEO_INPUT", &c.Video.Input)
	set("GST_VIDEO_PIPELINE", &c.Video.Pipeline)
	set("STREAM_ID", &c.StreamID)
	set("LOG_LEVEL", &c.LogLevel)
	if v, ok := lookup("GST_AUDIO_PIPELINE"); ok && v != "" {
		c.Audio.Pipeline = v
		c.Audio.Enabled = true
	}
}

// Validate reports every missing or inconsistent setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Signaling.URL == "" {
		errs = append(errs, fmt.Errorf("%w: missing signaling url (SIGNAL_WS_URL)", errInvalid))
	}
	if c.Signaling.Origin == "" {
		errs = append(errs, fmt.Errorf("%w: missing signaling origin (SIGNAL_ORIGIN)", errInvalid))
	}
	if c.RTCConfigURL == "" && len(c.ICEServers) == 0 {
		errs = append(errs, fmt.Errorf("%w: need rtc_config_url (RTC_CONFIG_URL) or ice_servers", errInvalid))
	}
	if strings.TrimSpace(c.Video.Input) == "" {
		errs = append(errs, fmt.Errorf("%w: empty video input", errInvalid))
	}
	if c.Video.Input != InputNone && (c.Video.Width <= 0 || c.Video.Height <= 0 || c.Video.FPS <= 0) {
		errs = append(errs, fmt.Errorf("%w: video %dx%d at %d fps", errInvalid, c.Video.Width, c.Video.Height, c.Video.FPS))
	}
	if c.Audio.Enabled && (c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0 || c.Audio.Frame <= 0) {
		errs = append(errs, fmt.Errorf("%w: audio %d Hz x%d per %s", errInvalid, c.Audio.SampleRate, c.Audio.Channels, c.Audio.Frame))
	}
	if c.Engine.PortMin > c.Engine.PortMax {
		errs = append(errs, fmt.Errorf("%w: port range %d-%d", errInvalid, c.Engine.PortMin, c.Engine.PortMax))
	}
	return errors.Join(errs...)
}
