// Package config loads the bridge and relay settings.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "REALTIME_BRIDGE_CONFIG"

// Backend kinds.
const (
	BackendBedrock = "bedrock"
	BackendEcho    = "echo"
	BackendFramed  = "framed"
)

// History drivers.
const (
	HistoryGoChannel = "gochannel"
	HistoryRedis     = "redis"
)

// Config holds all settings.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Backend BackendConfig `yaml:"backend"`
	History HistoryConfig `yaml:"history"`
	Relay   RelayConfig   `yaml:"relay"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig configures the HTTP listener and client sockets.
type ServerConfig struct {
	Listen         string        `yaml:"listen"`
	Path           string        `yaml:"path"`
	HealthPath     string        `yaml:"health_path"`
	StatusPath     string        `yaml:"status_path"`
	MetricsPath    string        `yaml:"metrics_path"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

// BridgeConfig configures every session.
type BridgeConfig struct {
	Retention    time.Duration `yaml:"retention"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// BackendConfig selects and configures the backend.
type BackendConfig struct {
	Kind         string        `yaml:"kind"`
	ModelID      string        `yaml:"model_id"`
	Region       string        `yaml:"region"`
	Profile      string        `yaml:"profile"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	MaxInFlight  int           `yaml:"max_in_flight"`
	FramedAddr   string        `yaml:"framed_addr"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	MaxFrameSize int           `yaml:"max_frame_size"`
}

// HistoryConfig configures the conversation history tap.
type HistoryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Driver    string `yaml:"driver"`
	Topic     string `yaml:"topic"`
	RedisAddr string `yaml:"redis_addr"`
	Group     string `yaml:"group"`
	Consumer  string `yaml:"consumer"`
}

// RelayConfig configures the framed relay process.
type RelayConfig struct {
	Listen  string `yaml:"listen"`
	Backend string `yaml:"backend"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level"`
	WithCaller bool   `yaml:"with_caller"`
}

// DefaultConfig returns a configuration that serves Nova Sonic on :8081.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:         ":8081",
			Path:           "/interact-s2s",
			HealthPath:     "/health",
			StatusPath:     "/status.json",
			MetricsPath:    "/metrics",
			IdleTimeout:    5 * time.Minute,
			WriteTimeout:   10 * time.Second,
			MaxMessageSize: 1 << 20,
			ShutdownGrace:  10 * time.Second,
		},
		Bridge: BridgeConfig{
			Retention:    time.Minute,
			DrainTimeout: 5 * time.Second,
		},
		Backend: BackendConfig{
			Kind:         BackendBedrock,
			ModelID:      "amazon.nova-sonic-v1:0",
			Region:       "us-east-1",
			ReadTimeout:  180 * time.Second,
			MaxInFlight:  20,
			DialTimeout:  10 * time.Second,
			MaxFrameSize: 4 << 20,
		},
		History: HistoryConfig{
			Driver:   HistoryGoChannel,
			Topic:    "conversation.history",
			Group:    "history-tail",
			Consumer: "realtime-bridge",
		},
		Relay: RelayConfig{
			Listen:  ":9090",
			Backend: BackendBedrock,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, or the file named by REALTIME_BRIDGE_CONFIG when
// path is empty, or the defaults when neither is set.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Server.Listen == "":
		return errors.New("server.listen is required")
	case !strings.HasPrefix(c.Server.Path, "/"):
		return errors.Errorf("server.path %q must start with /", c.Server.Path)
	case c.Server.MaxMessageSize < 0:
		return errors.New("server.max_message_size must not be negative")
	case c.Bridge.Retention <= 0:
		return errors.New("bridge.retention must be positive")
	case c.Bridge.DrainTimeout < 0:
		return errors.New("bridge.drain_timeout must not be negative")
	case c.Backend.MaxInFlight < 0:
		return errors.New("backend.max_in_flight must not be negative")
	}

	if err := validKind("backend.kind", c.Backend.Kind); err != nil {
		return err
	}
	if c.Backend.Kind == BackendFramed && c.Backend.FramedAddr == "" {
		return errors.New("backend.framed_addr is required for the framed backend")
	}
	if c.Relay.Backend == BackendFramed {
		return errors.New("relay.backend cannot be framed")
	}
	if err := validKind("relay.backend", c.Relay.Backend); err != nil {
		return err
	}

	if c.History.Enabled {
		switch c.History.Driver {
		case HistoryGoChannel:
		case HistoryRedis:
			if c.History.RedisAddr == "" {
				return errors.New("history.redis_addr is required for the redis driver")
			}
		default:
			return errors.Errorf("history.driver %q is not supported", c.History.Driver)
		}
		if c.History.Topic == "" {
			return errors.New("history.topic is required")
		}
	}
	return nil
}

func validKind(field, kind string) error {
	switch kind {
	case BackendBedrock, BackendEcho, BackendFramed:
		return nil
	default:
		return errors.Errorf("%s %q is not supported", field, kind)
	}
}
