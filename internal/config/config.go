package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dj-oyu/face-status-server/internal/logger"
	"github.com/dj-oyu/face-status-server/pkg/types"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides. Nested keys use a double
// underscore: FACESTATUS_PIPELINE__QUEUE_SIZE sets pipeline.queue_size.
const EnvPrefix = "FACESTATUS_"

const (
	ProviderReplay    = "replay"
	ProviderWebSocket = "websocket"
)

type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Provider ProviderConfig `koanf:"provider"`
	WebRTC   WebRTCConfig   `koanf:"webrtc"`
	Recorder RecorderConfig `koanf:"recorder"`
	Log      LogConfig      `koanf:"log"`
	Status   StatusConfig   `koanf:"status"`
}

type HTTPConfig struct {
	Addr          string        `koanf:"addr"`
	MJPEGInterval time.Duration `koanf:"mjpeg_interval"`
}

type MetricsConfig struct {
	Path string `koanf:"path"`
}

type PipelineConfig struct {
	QueueSize     int               `koanf:"queue_size"`
	FPS           float64           `koanf:"fps"` // synthetic source rate, 0 disables it
	Width         int               `koanf:"width"`
	Height        int               `koanf:"height"`
	DetectTimeout time.Duration     `koanf:"detect_timeout"`
	Orientation   types.Orientation `koanf:"orientation"`
}

type ProviderConfig struct {
	Kind         string        `koanf:"kind"`
	URL          string        `koanf:"url"`
	ReplayFile   string        `koanf:"replay_file"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	PingInterval time.Duration `koanf:"ping_interval"`
}

type WebRTCConfig struct {
	STUN       []string `koanf:"stun"`
	MaxClients int      `koanf:"max_clients"`
}

type RecorderConfig struct {
	Path string `koanf:"path"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	Color bool   `koanf:"color"`
	File  string `koanf:"file"`
}

type StatusConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:          ":8080",
			MJPEGInterval: 100 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Pipeline: PipelineConfig{
			QueueSize:     30,
			FPS:           0,
			Width:         640,
			Height:        480,
			DetectTimeout: 2 * time.Second,
			Orientation:   types.OrientationUp,
		},
		Provider: ProviderConfig{
			Kind:         ProviderReplay,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 5 * time.Second,
			PingInterval: 30 * time.Second,
		},
		WebRTC: WebRTCConfig{
			STUN:       []string{"stun:stun.l.google.com:19302"},
			MaxClients: 10,
		},
		Recorder: RecorderConfig{
			Path: "./recordings",
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
		Status: StatusConfig{
			Interval: 2 * time.Second,
		},
	}
}

// Load layers an optional YAML file and FACESTATUS_* environment variables
// over the defaults
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks value ranges and cross-field requirements
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Pipeline.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_size must be positive, got %d", c.Pipeline.QueueSize))
	}
	if c.Pipeline.FPS < 0 {
		errs = append(errs, fmt.Errorf("pipeline.fps must not be negative, got %v", c.Pipeline.FPS))
	}
	if c.Pipeline.DetectTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.detect_timeout must not be negative, got %v", c.Pipeline.DetectTimeout))
	}

	switch c.Provider.Kind {
	case ProviderReplay:
	case ProviderWebSocket:
		if c.Provider.URL == "" {
			errs = append(errs, errors.New("provider.url is required for the websocket provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("provider.kind must be %q or %q, got %q", ProviderReplay, ProviderWebSocket, c.Provider.Kind))
	}

	if c.WebRTC.MaxClients <= 0 {
		errs = append(errs, fmt.Errorf("webrtc.max_clients must be positive, got %d", c.WebRTC.MaxClients))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Status.Interval <= 0 {
		errs = append(errs, fmt.Errorf("status.interval must be positive, got %v", c.Status.Interval))
	}

	return errors.Join(errs...)
}
