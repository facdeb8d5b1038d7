package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.marketchat/config.toml.
type Config struct {
	// DefaultSession is the uid used when no --session flag is given.
	DefaultSession string `toml:"default_session"`

	Store  StoreConfig  `toml:"store"`
	HTTP   HTTPConfig   `toml:"http"`
	Events EventsConfig `toml:"events"`
}

// StoreConfig selects and addresses the backing document store.
type StoreConfig struct {
	// Driver is "mongo" (default) or "memory" for local development.
	Driver   string `toml:"driver"`
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

// HTTPConfig configures the local API surface.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// EventsConfig configures best-effort Kafka publication of chat events.
// Leaving Brokers empty disables publishing.
type EventsConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// Default returns the configuration used when no file or field is present.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:   "mongo",
			URI:      "mongodb://localhost:27017",
			Database: "marketchat",
		},
		HTTP:   HTTPConfig{Addr: "127.0.0.1:8787"},
		Events: EventsConfig{Topic: "chat.events"},
	}
}

// Load reads config from the given path and fills unset fields with
// defaults. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.URI == "" {
		c.Store.URI = def.Store.URI
	}
	if c.Store.Database == "" {
		c.Store.Database = def.Store.Database
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = def.HTTP.Addr
	}
	if c.Events.Topic == "" {
		c.Events.Topic = def.Events.Topic
	}
}
