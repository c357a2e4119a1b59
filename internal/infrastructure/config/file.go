package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// fileConfig is the on-disk shape of a project config file. Every field is
// optional; durations are Go duration strings ("250ms", "10s").
type fileConfig struct {
	Relay struct {
		Port         *int     `yaml:"port" toml:"port"`
		PortOffset   *int     `yaml:"port_offset" toml:"port_offset"`
		Host         *string  `yaml:"host" toml:"host"`
		PingInterval *string  `yaml:"ping_interval" toml:"ping_interval"`
		Rooms        []string `yaml:"rooms" toml:"rooms"`
	} `yaml:"relay" toml:"relay"`
	Bridge struct {
		Timeout    *string `yaml:"timeout" toml:"timeout"`
		TargetRoom *string `yaml:"target_room" toml:"target_room"`
	} `yaml:"bridge" toml:"bridge"`
	Executor struct {
		PoolSize *int    `yaml:"pool_size" toml:"pool_size"`
		Timeout  *string `yaml:"timeout" toml:"timeout"`
	} `yaml:"executor" toml:"executor"`
	Watcher struct {
		Dir      *string  `yaml:"dir" toml:"dir"`
		Patterns []string `yaml:"patterns" toml:"patterns"`
		Debounce *string  `yaml:"debounce" toml:"debounce"`
		Enabled  *bool    `yaml:"enabled" toml:"enabled"`
	} `yaml:"watcher" toml:"watcher"`
	Logging struct {
		Level       *string `yaml:"level" toml:"level"`
		Development *bool   `yaml:"development" toml:"development"`
	} `yaml:"logging" toml:"logging"`
}

// LoadFile loads configuration from the environment and then overlays the
// YAML (.yaml, .yml) or TOML (.toml) file at path. Values present in the
// file win over the environment.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	default:
		return nil, fmt.Errorf("unsupported config file type %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := fc.apply(cfg); err != nil {
		return nil, fmt.Errorf("apply %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	setInt(&cfg.Relay.BasePort, fc.Relay.Port)
	setInt(&cfg.Relay.PortOffset, fc.Relay.PortOffset)
	setString(&cfg.Relay.Host, fc.Relay.Host)
	if len(fc.Relay.Rooms) > 0 {
		cfg.Relay.Rooms = fc.Relay.Rooms
	}
	setString(&cfg.Bridge.TargetRoom, fc.Bridge.TargetRoom)
	setInt(&cfg.Executor.PoolSize, fc.Executor.PoolSize)
	setString(&cfg.Watcher.Dir, fc.Watcher.Dir)
	if len(fc.Watcher.Patterns) > 0 {
		cfg.Watcher.Patterns = fc.Watcher.Patterns
	}
	if fc.Watcher.Enabled != nil {
		cfg.Watcher.Enabled = *fc.Watcher.Enabled
	}
	setString(&cfg.Logging.Level, fc.Logging.Level)
	if fc.Logging.Development != nil {
		cfg.Logging.Development = *fc.Logging.Development
	}

	durations := []struct {
		dst *time.Duration
		src *string
	}{
		{&cfg.Relay.PingInterval, fc.Relay.PingInterval},
		{&cfg.Bridge.Timeout, fc.Bridge.Timeout},
		{&cfg.Executor.Timeout, fc.Executor.Timeout},
		{&cfg.Watcher.Debounce, fc.Watcher.Debounce},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return err
		}
		*d.dst = parsed
	}
	return nil
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
