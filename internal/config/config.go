// Package config loads hubd configuration from YAML.
//
// A file is first checked against an embedded CUE schema, so unknown keys
// and out-of-range values are reported with their field path, then decoded
// over Default. Every key is optional.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/hubd/internal/engine"
	"github.com/roach88/hubd/internal/hubsync"
	"github.com/roach88/hubd/internal/message"
)

// Config is the decoded configuration file.
type Config struct {
	Network  string                  `yaml:"network" json:"network"`
	DBPath   string                  `yaml:"db_path" json:"db_path"`
	LogLevel string                  `yaml:"log_level" json:"log_level"`
	Prune    map[string]PolicyConfig `yaml:"prune" json:"prune"`
	Sync     SyncConfig              `yaml:"sync" json:"sync"`
	Jobs     JobsConfig              `yaml:"jobs" json:"jobs"`
}

// PolicyConfig bounds one message set. A set listed in the file replaces
// its default policy as a whole.
type PolicyConfig struct {
	MaxCount      int    `yaml:"max_count" json:"max_count"`
	MaxAgeSeconds uint32 `yaml:"max_age_seconds" json:"max_age_seconds"`
}

type SyncConfig struct {
	Interval              Duration     `yaml:"interval" json:"interval"`
	SessionTimeout        Duration     `yaml:"session_timeout" json:"session_timeout"`
	MaxConcurrentSessions int          `yaml:"max_concurrent_sessions" json:"max_concurrent_sessions"`
	HashBatchThreshold    int          `yaml:"hash_batch_threshold" json:"hash_batch_threshold"`
	FetchBatchSize        int          `yaml:"fetch_batch_size" json:"fetch_batch_size"`
	Retry                 RetryConfig  `yaml:"retry" json:"retry"`
	Peers                 []PeerConfig `yaml:"peers" json:"peers,omitempty"`
}

type RetryConfig struct {
	MaxAttempts    int      `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff" json:"max_backoff"`
}

// PeerConfig names another hub database to reconcile with.
type PeerConfig struct {
	ID     string `yaml:"id" json:"id"`
	DBPath string `yaml:"db_path" json:"db_path"`
}

type JobsConfig struct {
	PruneInterval Duration `yaml:"prune_interval" json:"prune_interval"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	sc := hubsync.DefaultConfig()
	prune := make(map[string]PolicyConfig)
	for set, p := range engine.DefaultPrunePolicies() {
		prune[set.String()] = PolicyConfig{MaxCount: p.MaxCount, MaxAgeSeconds: p.MaxAgeSeconds}
	}
	return &Config{
		Network:  message.NetworkDevnet.String(),
		DBPath:   "hubd.db",
		LogLevel: "info",
		Prune:    prune,
		Sync: SyncConfig{
			Interval:              Duration{sc.Interval},
			SessionTimeout:        Duration{sc.SessionTimeout},
			MaxConcurrentSessions: sc.MaxConcurrentSessions,
			HashBatchThreshold:    sc.HashBatchThreshold,
			FetchBatchSize:        sc.FetchBatchSize,
			Retry: RetryConfig{
				MaxAttempts:    sc.Retry.MaxAttempts,
				InitialBackoff: Duration{sc.Retry.InitialBackoff},
				MaxBackoff:     Duration{sc.Retry.MaxBackoff},
			},
		},
		Jobs: JobsConfig{PruneInterval: Duration{time.Hour}},
	}
}

// Load reads and validates the file at path. An empty path yields Default.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates data against the schema and decodes it over Default.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validate(raw); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Sync.Retry.MaxBackoff.Duration < cfg.Sync.Retry.InitialBackoff.Duration {
		return nil, &FieldError{
			Field:   "sync.retry.max_backoff",
			Message: fmt.Sprintf("%s is below initial_backoff %s", cfg.Sync.Retry.MaxBackoff, cfg.Sync.Retry.InitialBackoff),
		}
	}
	seen := make(map[string]bool)
	for i, p := range cfg.Sync.Peers {
		if seen[p.ID] {
			return nil, &FieldError{Field: fmt.Sprintf("sync.peers.%d.id", i), Message: fmt.Sprintf("duplicate peer id %q", p.ID)}
		}
		seen[p.ID] = true
	}
	return cfg, nil
}

// NetworkID returns the configured network.
func (c *Config) NetworkID() (message.Network, error) {
	return message.ParseNetwork(c.Network)
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// PrunePolicies converts the prune section for engine.WithPrunePolicies.
func (c *Config) PrunePolicies() (map[message.SetType]engine.PrunePolicy, error) {
	out := make(map[message.SetType]engine.PrunePolicy, len(c.Prune))
	for name, p := range c.Prune {
		set, err := message.ParseSetType(name)
		if err != nil {
			return nil, err
		}
		out[set] = engine.PrunePolicy{MaxCount: p.MaxCount, MaxAgeSeconds: p.MaxAgeSeconds}
	}
	return out, nil
}

// SyncerConfig converts the sync section for hubsync.WithConfig.
func (c *Config) SyncerConfig() hubsync.Config {
	s := c.Sync
	return hubsync.Config{
		Interval:              s.Interval.Duration,
		SessionTimeout:        s.SessionTimeout.Duration,
		MaxConcurrentSessions: s.MaxConcurrentSessions,
		HashBatchThreshold:    s.HashBatchThreshold,
		FetchBatchSize:        s.FetchBatchSize,
		Retry: hubsync.RetryConfig{
			MaxAttempts:    s.Retry.MaxAttempts,
			InitialBackoff: s.Retry.InitialBackoff.Duration,
			MaxBackoff:     s.Retry.MaxBackoff.Duration,
		},
	}
}
