// Package cmd provides the keywave command-line interface.
//
// Configuration precedence, highest first: command-line flags, KEYWAVE_*
// environment variables, the .keywave.yml config file, built-in defaults.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/keywave/internal/config"
	"github.com/conneroisu/keywave/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "keywave",
	Short: "Per-keystroke sound effects with switchable sound packs",
	Long: `Keywave plays a sound effect for every keystroke, chosen from a
user-selectable sound pack. Packs are plain directories holding a
pack.json manifest and the sound files it references; bundled packs are
read-only, user packs are created and edited through the CLI or the
control API.

Quick start:
  keywave serve                   Start the daemon and control API
  keywave packs                   List installed sound packs
  keywave play KeyA               Preview the sound for a key`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	fs := rootCmd.PersistentFlags()
	fs.String("data-dir", "", "data directory holding packs and settings")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "text", "log format (text, json)")

	bindFlags(fs, map[string]string{
		"data_dir":   "data-dir",
		"log.level":  "log-level",
		"log.format": "log-format",
	})
}

// bindFlags wires flags into viper keys so flag values take precedence
// over file and environment settings.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		_ = viper.BindPFlag(key, fs.Lookup(flag))
	}
}

// loadConfig loads configuration with flag bindings applied.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// newLogger builds the process logger from configuration.
func newLogger(cfg *config.Config) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}
