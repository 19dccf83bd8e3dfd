// Package config loads daemon settings from built-in defaults, an optional
// YAML file and CLIPDL_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const (
	envVarPrefix = "CLIPDL"
	appName      = "clipdl"
)

type Config struct {
	HTTPAddr       string        `envconfig:"HTTP_ADDR"        yaml:"httpAddr"`
	LibraryDir     string        `envconfig:"LIBRARY_DIR"      yaml:"libraryDir"`
	StateDir       string        `envconfig:"STATE_DIR"        yaml:"stateDir"`
	DBPath         string        `envconfig:"DB"               yaml:"db"`
	YTDLP          string        `envconfig:"YTDLP"            yaml:"ytdlp"`
	FFmpegLocation string        `envconfig:"FFMPEG_LOCATION"  yaml:"ffmpegLocation"`
	StaticDir      string        `envconfig:"STATIC_DIR"       yaml:"staticDir"`
	GracePeriod    time.Duration `envconfig:"GRACE_PERIOD"     yaml:"gracePeriod"`
	CleanupDelay   time.Duration `envconfig:"CLEANUP_DELAY"    yaml:"cleanupDelay"`
	DeleteAttempts int           `envconfig:"DELETE_ATTEMPTS"  yaml:"deleteAttempts"`
	DeleteInterval time.Duration `envconfig:"DELETE_INTERVAL"  yaml:"deleteInterval"`
	ProbeCacheTTL  time.Duration `envconfig:"PROBE_CACHE_TTL"  yaml:"probeCacheTTL"`
	ProbeCacheSize int           `envconfig:"PROBE_CACHE_SIZE" yaml:"probeCacheSize"`
	SweepInterval  time.Duration `envconfig:"SWEEP_INTERVAL"   yaml:"sweepInterval"`
	LogLevel       string        `envconfig:"LOG_LEVEL"        yaml:"logLevel"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		HTTPAddr:       "127.0.0.1:8000",
		LibraryDir:     "downloads",
		StateDir:       ".",
		YTDLP:          "yt-dlp",
		GracePeriod:    5 * time.Second,
		CleanupDelay:   time.Second,
		DeleteAttempts: 20,
		DeleteInterval: 500 * time.Millisecond,
		ProbeCacheTTL:  10 * time.Minute,
		ProbeCacheSize: 256,
		SweepInterval:  10 * time.Minute,
		LogLevel:       "info",
	}
}

// Load reads CLIPDL_CONFIG_FILE (default $HOME/.config/clipdl.yaml when it
// exists) and then applies environment overrides.
func Load() (*Config, error) {
	c := Default()
	configFile := os.Getenv(envVarPrefix + "_CONFIG_FILE")
	explicit := configFile != ""
	if !explicit {
		if home, err := os.UserHomeDir(); err == nil {
			configFile = filepath.Join(home, ".config", appName+".yaml")
		}
	}
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		switch {
		case err == nil:
			if err := yaml.UnmarshalStrict(data, &c); err != nil {
				return nil, fmt.Errorf("unmarshaling config file %s: %w", configFile, err)
			}
		case !errors.Is(err, os.ErrNotExist) || explicit:
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.StateDir, appName+".db")
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if y, e := func() (string, string) {
		if strings.TrimSpace(c.HTTPAddr) == "" {
			return "httpAddr", "HTTP_ADDR"
		}
		if strings.TrimSpace(c.LibraryDir) == "" {
			return "libraryDir", "LIBRARY_DIR"
		}
		if strings.TrimSpace(c.StateDir) == "" {
			return "stateDir", "STATE_DIR"
		}
		if strings.TrimSpace(c.YTDLP) == "" {
			return "ytdlp", "YTDLP"
		}
		return "", ""
	}(); y != "" {
		return fmt.Errorf("missing required configuration: %s / %s_%s", y, envVarPrefix, e)
	}
	if c.DeleteAttempts <= 0 {
		return fmt.Errorf("deleteAttempts must be positive, got %d", c.DeleteAttempts)
	}
	if c.ProbeCacheSize <= 0 {
		return fmt.Errorf("probeCacheSize must be positive, got %d", c.ProbeCacheSize)
	}
	for name, d := range map[string]time.Duration{
		"gracePeriod":    c.GracePeriod,
		"cleanupDelay":   c.CleanupDelay,
		"deleteInterval": c.DeleteInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	if c.ProbeCacheTTL <= 0 {
		return fmt.Errorf("probeCacheTTL must be positive, got %s", c.ProbeCacheTTL)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
