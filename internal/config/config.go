// Package config loads the YAML configuration for a beaver-raft
// service process, following the nested-struct-with-yaml-tags shape
// the teacher's demo command used for its own worker/WAL/snapshot
// settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document for a single service
// process: one executor plus the log segment(s) it reads committed
// operations from.
type Config struct {
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Segment struct {
		Dir          string `yaml:"dir"`
		Base         string `yaml:"base"`
		FlushOnWrite bool   `yaml:"flush_on_write"`
	} `yaml:"segment"`

	Executor struct {
		TickInterval time.Duration `yaml:"tick_interval"`
	} `yaml:"executor"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

// Default returns the built-in configuration used when no file is
// supplied.
func Default() Config {
	var c Config
	c.Log.Level = "info"
	c.Segment.Dir = "data"
	c.Segment.Base = "segment"
	c.Segment.FlushOnWrite = false
	c.Executor.TickInterval = 100 * time.Millisecond
	c.Metrics.Enabled = true
	c.Metrics.Port = 9090
	return c
}

// Load reads and parses a YAML configuration file at path, starting
// from Default() so any field the file omits keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
