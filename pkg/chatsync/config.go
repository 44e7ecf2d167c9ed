package chatsync

import (
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

type Config struct {
	// ChatAPIURL is the base URL of the message/media REST collaborators.
	ChatAPIURL string `yaml:"chat_api_url"`

	// RealtimeURL is the websocket endpoint of the push transport.
	RealtimeURL string `yaml:"realtime_url"`

	// CachePath is the sqlite file backing the warm-start cache.
	// Empty disables warm starts.
	CachePath string `yaml:"cache_path"`

	// LogLevel is a zerolog level name (trace..error). Default "info".
	LogLevel string `yaml:"log_level"`

	Typing  TypingConfig  `yaml:"typing"`
	Capture CaptureConfig `yaml:"capture"`
}

type TypingConfig struct {
	// DebounceMS is the outbound quiet window in milliseconds. Default 450.
	DebounceMS int `yaml:"debounce_ms"`

	// IndicatorTTLMS is how long an inbound typing/speaking indicator stays
	// visible after the last event, in milliseconds. Default 2500.
	IndicatorTTLMS int `yaml:"indicator_ttl_ms"`
}

func (c *TypingConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

func (c *TypingConfig) IndicatorTTL() time.Duration {
	return time.Duration(c.IndicatorTTLMS) * time.Millisecond
}

type CaptureConfig struct {
	// VideoCeilingSeconds is the auto-stop limit for video recording. Default 60.
	VideoCeilingSeconds int `yaml:"video_ceiling_seconds"`

	// ThumbnailEdge is the square thumbnail size in pixels. Default 320.
	ThumbnailEdge int `yaml:"thumbnail_edge"`

	// ThumbnailQuality is the JPEG quality for derived thumbnails. Default 75.
	ThumbnailQuality int `yaml:"thumbnail_quality"`
}

func (c *CaptureConfig) VideoCeiling() time.Duration {
	return time.Duration(c.VideoCeilingSeconds) * time.Second
}

type umConfig Config

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	err := node.Decode((*umConfig)(c))
	if err != nil {
		return err
	}
	return c.PostProcess()
}

// PostProcess fills defaults and validates the required endpoints.
func (c *Config) PostProcess() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Typing.DebounceMS <= 0 {
		c.Typing.DebounceMS = int(DefaultTypingDebounce / time.Millisecond)
	}
	if c.Typing.IndicatorTTLMS <= 0 {
		c.Typing.IndicatorTTLMS = int(DefaultIndicatorTTL / time.Millisecond)
	}
	if c.Capture.VideoCeilingSeconds <= 0 {
		c.Capture.VideoCeilingSeconds = int(VideoCeiling / time.Second)
	}
	if c.Capture.ThumbnailEdge <= 0 {
		c.Capture.ThumbnailEdge = DefaultThumbnailEdge
	}
	if c.Capture.ThumbnailQuality <= 0 || c.Capture.ThumbnailQuality > 100 {
		c.Capture.ThumbnailQuality = DefaultThumbnailQuality
	}
	if c.ChatAPIURL == "" {
		return fmt.Errorf("chat_api_url is required")
	}
	if c.RealtimeURL == "" {
		return fmt.Errorf("realtime_url is required")
	}
	return nil
}

// ParseConfig parses and post-processes a yaml config document.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	// yaml.Unmarshal only calls UnmarshalYAML for non-empty documents.
	if cfg.LogLevel == "" {
		if err := cfg.PostProcess(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}
