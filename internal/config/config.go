package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Sink mode names accepted by OutputConfig.
const (
	SinkNATS    = "nats"
	SinkWAV     = "wav"
	SinkDiscard = "discard"
)

// Config represents the complete service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	HTTP       HTTPConfig       `yaml:"http"`
	Reassembly ReassemblyConfig `yaml:"reassembly"`
	Output     OutputConfig     `yaml:"output"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains TCP ingest server configuration.
type ServerConfig struct {
	TCPPort        int    `yaml:"tcp_port"`
	BindAddress    string `yaml:"bind_address"`
	ReadBufferSize int    `yaml:"read_buffer_size"` // also announced to peers as MTU
	MaxConnections int    `yaml:"max_connections"`
	IdleTimeout    int    `yaml:"idle_timeout"` // seconds
}

// HTTPConfig contains HTTP admin API configuration.
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// ReassemblyConfig bounds per-session frame reassembly state.
type ReassemblyConfig struct {
	MaxPendingFrames int     `yaml:"max_pending_frames"`
	FrameTimeout     float64 `yaml:"frame_timeout"` // seconds
}

// OutputConfig selects where reassembled frames go.
type OutputConfig struct {
	Mode string     `yaml:"mode"` // nats, wav or discard
	NATS NATSConfig `yaml:"nats"`
	WAV  WAVConfig  `yaml:"wav"`
}

// NATSConfig contains NATS frame publisher configuration.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// WAVConfig contains WAV capture sink configuration.
type WAVConfig struct {
	Directory  string `yaml:"directory"`
	SampleRate int    `yaml:"sample_rate"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate checks every configuration section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if err := c.Reassembly.Validate(); err != nil {
		return fmt.Errorf("reassembly config: %w", err)
	}
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates TCP server configuration.
func (s *ServerConfig) Validate() error {
	if s.TCPPort < 1 || s.TCPPort > 65535 {
		return fmt.Errorf("tcp_port must be between 1 and 65535, got %d", s.TCPPort)
	}
	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}
	if s.ReadBufferSize < 512 {
		return fmt.Errorf("read_buffer_size must be at least 512 bytes, got %d", s.ReadBufferSize)
	}
	if s.ReadBufferSize > 65535 {
		// The buffer size is announced over a 2-byte MTU control payload.
		return fmt.Errorf("read_buffer_size cannot exceed 65535 bytes, got %d", s.ReadBufferSize)
	}
	if s.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be at least 1, got %d", s.MaxConnections)
	}
	if s.IdleTimeout < 1 {
		return fmt.Errorf("idle_timeout must be at least 1 second, got %d", s.IdleTimeout)
	}
	return nil
}

// Validate validates HTTP configuration.
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}
		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}
	return nil
}

// Validate validates reassembly bounds.
func (r *ReassemblyConfig) Validate() error {
	if r.MaxPendingFrames < 1 {
		return fmt.Errorf("max_pending_frames must be at least 1, got %d", r.MaxPendingFrames)
	}
	if r.FrameTimeout <= 0 {
		return fmt.Errorf("frame_timeout must be positive, got %f", r.FrameTimeout)
	}
	return nil
}

// Validate validates the output sink selection.
func (o *OutputConfig) Validate() error {
	switch o.Mode {
	case SinkNATS:
		if o.NATS.URL == "" {
			return fmt.Errorf("nats url cannot be empty")
		}
		if o.NATS.SubjectPrefix == "" {
			return fmt.Errorf("nats subject_prefix cannot be empty")
		}
	case SinkWAV:
		if o.WAV.Directory == "" {
			return fmt.Errorf("wav directory cannot be empty")
		}
		if o.WAV.SampleRate < 1 {
			return fmt.Errorf("wav sample_rate must be positive, got %d", o.WAV.SampleRate)
		}
	case SinkDiscard:
	default:
		return fmt.Errorf("mode must be one of [nats, wav, discard], got '%s'", o.Mode)
	}
	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetIdleTimeout returns the connection idle timeout as a time.Duration.
func (s *ServerConfig) GetIdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetFrameTimeout returns the frame eviction timeout as a time.Duration.
func (r *ReassemblyConfig) GetFrameTimeout() time.Duration {
	return time.Duration(r.FrameTimeout * float64(time.Second))
}
