package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses yaml scalars either as time.ParseDuration strings ("5s")
// or as integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var asInt int64
	if err := node.Decode(&asInt); err == nil {
		*d = Duration(asInt)
		return nil
	}
	var asStr string
	if err := node.Decode(&asStr); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(asStr)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", asStr, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Gdb      GdbConfig      `yaml:"gdb"`
	Timeouts TimeoutConfig  `yaml:"timeouts"`
	Dump     DumpConfig     `yaml:"dump"`
	Observer ObserverConfig `yaml:"observer"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type GdbConfig struct {
	Path string `yaml:"path"` // empty: $GDB, then "gdb"
}

type TimeoutConfig struct {
	Query Duration `yaml:"query"`
	Exec  Duration `yaml:"exec"`
}

type DumpConfig struct {
	MaxBytes int `yaml:"max_bytes"`
}

type ObserverConfig struct {
	Addr string `yaml:"addr"` // loaded but not read by the CLI; --serve takes its own address
}

type LoggingConfig struct {
	File string `yaml:"file"`
}

func Default() *Config {
	return &Config{
		Timeouts: TimeoutConfig{
			Query: Duration(5 * time.Second),
			Exec:  Duration(60 * time.Second),
		},
		Dump: DumpConfig{
			MaxBytes: 512,
		},
		Observer: ObserverConfig{
			Addr: ":8089",
		},
	}
}

// Load config from yml
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}
