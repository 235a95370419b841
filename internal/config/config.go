// Package config loads Keywave configuration from file, environment, and
// flags via viper. Precedence is flags > environment (KEYWAVE_ prefix) >
// config file (.keywave.yml) > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	// DataDir is the root for packs and runtime state. Empty selects the
	// per-user config location.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// BundledSource is the directory bundled packs are synced from on
	// startup. Empty skips the sync.
	BundledSource string `mapstructure:"bundled_source" yaml:"bundled_source"`

	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Audio   AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Bridge  BridgeConfig  `mapstructure:"bridge" yaml:"bridge"`
	Watcher WatcherConfig `mapstructure:"watcher" yaml:"watcher"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// ServerConfig configures the local control API.
type ServerConfig struct {
	Bind string `mapstructure:"bind" yaml:"bind"`
}

// AudioConfig configures the playback engine.
type AudioConfig struct {
	SampleRate int `mapstructure:"sample_rate" yaml:"sample_rate"`
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
	MaxVoices  int `mapstructure:"max_voices" yaml:"max_voices"`
}

// BridgeConfig configures the key-event bridge.
type BridgeConfig struct {
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

// WatcherConfig configures the user-pack filesystem watcher.
type WatcherConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers every default on v. Called before binding flags
// so explicit settings win.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "")
	v.SetDefault("bundled_source", "")
	v.SetDefault("server.bind", "127.0.0.1:8417")
	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.buffer_size", 256)
	v.SetDefault("audio.max_voices", 32)
	v.SetDefault("bridge.queue_size", 128)
	v.SetDefault("watcher.enabled", true)
	v.SetDefault("watcher.debounce", 300*time.Millisecond)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration into a Config. A missing config file is fine;
// a malformed one is an error.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	v.SetConfigName(".keywave")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}

	v.SetEnvPrefix("KEYWAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = "."
		}
		cfg.DataDir = filepath.Join(base, "keywave")
	}

	return &cfg, nil
}

// BundledPacksDir is the bundled pack root under the data dir.
func (c *Config) BundledPacksDir() string {
	return filepath.Join(c.DataDir, "soundpacks")
}

// UserPacksDir is the user pack root under the data dir.
func (c *Config) UserPacksDir() string {
	return filepath.Join(c.DataDir, "custom-soundpacks")
}
