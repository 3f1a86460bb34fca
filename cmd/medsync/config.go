package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultDBPath = "./medsync.db"

// Config is loaded from an optional YAML file; flags override file values.
type Config struct {
	ServerURL        string  `yaml:"server_url"`
	AuthToken        string  `yaml:"auth_token"`
	DBPath           string  `yaml:"db_path"`
	Strategy         string  `yaml:"strategy"`
	Remote           string  `yaml:"remote"` // "http", "redis", or "memory"
	RedisAddr        string  `yaml:"redis_addr"`
	ProbeIntervalSec int     `yaml:"probe_interval_seconds"`
	WritesPerSecond  float64 `yaml:"writes_per_second"`
}

// ProbeInterval returns the connectivity probe interval.
func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSec) * time.Second
}

// LoadConfig reads the YAML file at path. A missing file yields defaults; a
// malformed one is an error.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		DBPath:           defaultDBPath,
		Remote:           "http",
		ProbeIntervalSec: 15,
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.Remote == "" {
		cfg.Remote = "http"
	}
	if cfg.ProbeIntervalSec <= 0 {
		cfg.ProbeIntervalSec = 15
	}
	return cfg, nil
}

// BindFlags registers overrides on the flag set.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ServerURL, "server", c.ServerURL, "sync server base URL")
	fs.StringVar(&c.AuthToken, "token", c.AuthToken, "bearer token for the sync server")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "path to local SQLite db")
	fs.StringVar(&c.Strategy, "strategy", c.Strategy, "conflict strategy (newer-wins, server-wins, client-wins, merge-or-newer-wins)")
	fs.StringVar(&c.Remote, "remote", c.Remote, "remote adapter: http, redis, or memory")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "redis address when -remote=redis")
}
