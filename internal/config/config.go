// Package config provides configuration management for camtrap-video.
// Agent-level settings are loaded from environment variables with sensible
// defaults; per-run settings live in Options.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	// Default values
	DefaultPort      = 8797
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultDataDir   = ".camtrap-video"

	// Environment variable prefix
	EnvPrefix = "CAMTRAP_"

	// Database filename
	DBFilename = "ledger.db"

	// Detector defaults
	DefaultDetectorModule = "megadetector.detection.run_detector_batch"
	DefaultFFmpeg         = "ffmpeg"
	DefaultFFprobe        = "ffprobe"
)

// Config defines the agent configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFormat() string
	DataDir() string
	DBPath() string
	LedgerEnabled() bool
	Python() string
	DetectorModule() string
	FFmpegPath() string
	FFprobePath() string
	DetectTimeout() time.Duration
	OTLPEndpoint() string
	APIToken() string
}

type envSettings struct {
	Port           int           `env:"PORT" envDefault:"8797"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `env:"LOG_FORMAT" envDefault:"text"`
	DataDir        string        `env:"DATA_DIR"`
	Ledger         bool          `env:"LEDGER" envDefault:"true"`
	Python         string        `env:"PYTHON"`
	DetectorModule string        `env:"DETECTOR_MODULE" envDefault:"megadetector.detection.run_detector_batch"`
	FFmpeg         string        `env:"FFMPEG" envDefault:"ffmpeg"`
	FFprobe        string        `env:"FFPROBE" envDefault:"ffprobe"`
	DetectTimeout  time.Duration `env:"DETECT_TIMEOUT" envDefault:"0s"`
	OTLPEndpoint   string        `env:"OTLP_ENDPOINT"`
	APIToken       string        `env:"API_TOKEN"`
}

// EnvConfig reads configuration from CAMTRAP_* environment variables
type EnvConfig struct {
	s envSettings
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	var s envSettings
	if err := env.ParseWithOptions(&s, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if s.Port < 1 || s.Port > 65535 {
		return nil, fmt.Errorf("invalid %sPORT: port must be between 1 and 65535", EnvPrefix)
	}

	switch strings.ToLower(s.LogFormat) {
	case "json", "text":
	default:
		return nil, fmt.Errorf("invalid %sLOG_FORMAT %q: want json or text", EnvPrefix, s.LogFormat)
	}

	if s.DetectTimeout < 0 {
		return nil, fmt.Errorf("invalid %sDETECT_TIMEOUT: must not be negative", EnvPrefix)
	}

	if s.DataDir == "" {
		s.DataDir = defaultDataDir()
	}

	return &EnvConfig{s: s}, nil
}

// Port returns the status API port
func (c *EnvConfig) Port() int {
	return c.s.Port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.s.LogLevel
}

// LogFormat returns json or text
func (c *EnvConfig) LogFormat() string {
	return strings.ToLower(c.s.LogFormat)
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.s.DataDir
}

// DBPath returns the full path to the SQLite run ledger
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.s.DataDir, DBFilename)
}

func (c *EnvConfig) LedgerEnabled() bool {
	return c.s.Ledger
}

func (c *EnvConfig) Python() string {
	return c.s.Python
}

func (c *EnvConfig) DetectorModule() string {
	if c.s.DetectorModule != "" {
		return c.s.DetectorModule
	}
	return DefaultDetectorModule
}

func (c *EnvConfig) FFmpegPath() string {
	return c.s.FFmpeg
}

func (c *EnvConfig) FFprobePath() string {
	return c.s.FFprobe
}

// DetectTimeout bounds a single detector subprocess; zero means no bound.
func (c *EnvConfig) DetectTimeout() time.Duration {
	return c.s.DetectTimeout
}

func (c *EnvConfig) OTLPEndpoint() string {
	return c.s.OTLPEndpoint
}

func (c *EnvConfig) APIToken() string {
	return c.s.APIToken
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
