// Package config loads layered TOML configuration: a global file overlaid
// by a local file, local wins, via viper.MergeInConfig.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// GlobalDir returns the per-user config directory, ~/.kirosu.
func GlobalDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".kirosu")
}

// LocalDir returns the per-project config directory, ./.kiro.
func LocalDir() string {
	cwd, _ := os.Getwd()
	return filepath.Join(cwd, ".kiro")
}

// DefaultDBPath returns ~/.kirosu/kirosu.db, used when no database.path is
// configured.
func DefaultDBPath() string {
	return filepath.Join(GlobalDir(), "kirosu.db")
}

// Config is the merged view of global + local config.toml, consumed by the
// CLI, Hub and worker agent.
type Config struct {
	Model           string
	Workdir         string
	DatabasePath    string
	HubHost         string
	HubPort         int
	HubLeaseSeconds int
	v               *viper.Viper
}

// Load reads ~/.kirosu/config.toml, then overlays ./.kiro/config.toml on
// top (local wins on conflicting keys), and returns the merged Config.
// A missing file at either layer is not an error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	v.SetDefault("hub.host", "127.0.0.1")
	v.SetDefault("hub.port", 8765)
	v.SetDefault("hub.lease_seconds", 300)

	if err := mergeFile(v, filepath.Join(GlobalDir(), "config.toml")); err != nil {
		return nil, err
	}
	if err := mergeFile(v, filepath.Join(LocalDir(), "config.toml")); err != nil {
		return nil, err
	}

	dbPath := v.GetString("database.path")
	if dbPath == "" {
		dbPath = DefaultDBPath()
	} else {
		dbPath = expandHome(dbPath)
	}

	return &Config{
		Model:           v.GetString("model"),
		Workdir:         v.GetString("workdir"),
		DatabasePath:    dbPath,
		HubHost:         v.GetString("hub.host"),
		HubPort:         v.GetInt("hub.port"),
		HubLeaseSeconds: v.GetInt("hub.lease_seconds"),
		v:               v,
	}, nil
}

// Agent returns the overlay config.toml for a named agent profile
// (agents.<name>.*).
func (c *Config) Agent(name string) (model string, workdir string) {
	if c.v == nil || name == "" {
		return "", ""
	}
	prefix := "agents." + name + "."
	return c.v.GetString(prefix + "model"), c.v.GetString(prefix + "workdir")
}

func mergeFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil // absent file is not an error
	}
	v.SetConfigFile(path)
	return v.MergeInConfig()
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
