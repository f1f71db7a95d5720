// Package config loads process configuration from defaults, an optional
// YAML file, and IMPACT_-prefixed environment variables.
package config

import (
	"errors"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config contains process configuration.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBPath is the SQLite database file path.
	DBPath string `koanf:"db_path"`

	// BrokerURL overrides the broker stored in settings when non-empty,
	// e.g. "tcp://broker.mqtt.cool:1883".
	BrokerURL string `koanf:"broker_url"`

	// Namespace is the MQTT topic namespace; sensors publish under
	// <namespace>/sensors/<device-id>.
	Namespace string `koanf:"namespace"`
}

// New returns a Config with defaults.
func New() *Config {
	return &Config{
		Addr:      ":8080",
		DBPath:    "impact.db",
		Namespace: "espboxing",
	}
}

// Load builds a Config by layering defaults, an optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if IMPACT_CONFIG is set
//  3. env (prefix IMPACT_)
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("IMPACT_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// IMPACT_ADDR -> addr, IMPACT_DB_PATH -> db_path, ...
	envProvider := env.Provider("IMPACT_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "impact_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if cfg.Addr == "" {
		return nil, errors.New("addr must not be empty")
	}
	if cfg.DBPath == "" {
		return nil, errors.New("db_path must not be empty")
	}
	if cfg.Namespace == "" {
		return nil, errors.New("namespace must not be empty")
	}
	return &cfg, nil
}
