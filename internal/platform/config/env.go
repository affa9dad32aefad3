package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

const appDirName = "world-to-obsidian"

// Env holds the environment overrides for CLI flags. Flags given on the
// command line win over these values.
type Env struct {
	Input     string  `env:"W2O_INPUT"`
	Data      string  `env:"W2O_DATA"`
	Output    string  `env:"W2O_OUTPUT" envDefault:"vault"`
	Templates string  `env:"W2O_TEMPLATES"`
	Settings  string  `env:"W2O_SETTINGS"`
	Ledger    string  `env:"W2O_LEDGER"`
	Locale    string  `env:"W2O_LOCALE" envDefault:"en-US"`
	FetchRate float64 `env:"W2O_FETCH_RATE" envDefault:"4"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadEnv parses Env and fills the per-user file locations that were not
// set explicitly.
func LoadEnv() (Env, error) {
	var cfg Env
	if err := ParseEnv(&cfg); err != nil {
		return Env{}, err
	}
	if cfg.Settings == "" || cfg.Ledger == "" {
		dir, err := UserDir()
		if err != nil {
			return Env{}, err
		}
		if cfg.Settings == "" {
			cfg.Settings = filepath.Join(dir, "settings.toml")
		}
		if cfg.Ledger == "" {
			cfg.Ledger = filepath.Join(dir, "runs.db")
		}
	}
	return cfg, nil
}

// UserDir is the per-user directory for settings and the run ledger.
func UserDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("locate config dir: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appDirName), nil
}
