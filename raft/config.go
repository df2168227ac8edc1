package raft

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config carries the configuration keys §6 names, plus the cluster wiring
// a runnable server needs. Heartbeat and TermTimeout have the defaults
// spec.md §4.4 specifies; the invariant TermTimeout > Heartbeat is
// enforced by Validate, not left to the role engine to discover at
// runtime.
type Config struct {
	// ServerID identifies this server within Members.
	ServerID uint64

	// StateDir is where server.state lives (required, §6: "state.dir").
	StateDir string

	// LogDir is where the durable log's commands file lives (required
	// for a durable log, §6: "logDir"). Leave empty to use a MemoryLog.
	LogDir string

	// Heartbeat is the leader's heartbeat period ("raft.heartbeat",
	// milliseconds in the config file). Defaults to 5000ms.
	Heartbeat time.Duration

	// TermTimeout is the follower/candidate election timeout
	// ("raft.termtimeout", milliseconds in the config file). Defaults to
	// 2x Heartbeat.
	TermTimeout time.Duration

	// WorkerPoolSize overrides the Proxy's per-pool worker count (§12).
	// 0 means runtime.GOMAXPROCS(0).
	WorkerPoolSize int

	// Members is the static cluster membership by server id -> address,
	// used by cmd/raftd to build a StaticMembership. The core itself is
	// transport-agnostic; this field only matters to bootstrap.
	Members map[uint64]string
}

const defaultHeartbeat = 5000 * time.Millisecond

// DefaultConfig returns a Config with the documented defaults and no state
// or log directory set — callers must fill those in.
func DefaultConfig() Config {
	return Config{
		Heartbeat:   defaultHeartbeat,
		TermTimeout: 2 * defaultHeartbeat,
	}
}

// configFile is the literal on-disk shape (§6's key names): heartbeat and
// termtimeout are plain millisecond integers, not duration strings, since
// that's the unit the spec's configuration keys are defined in.
type configFile struct {
	ServerID       uint64            `yaml:"server_id"`
	StateDir       string            `yaml:"state.dir"`
	LogDir         string            `yaml:"logDir"`
	HeartbeatMS    uint64            `yaml:"raft.heartbeat"`
	TermTimeoutMS  uint64            `yaml:"raft.termtimeout"`
	WorkerPoolSize int               `yaml:"workerPoolSize"`
	Members        map[uint64]string `yaml:"members"`
}

// LoadConfigFile reads and parses a YAML config file, applying defaults for
// any zero-valued timing fields, then validating.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("raft: read config: %w", err)
	}
	var raw configFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("raft: parse config: %w", err)
	}

	cfg := DefaultConfig()
	cfg.ServerID = raw.ServerID
	cfg.StateDir = raw.StateDir
	cfg.LogDir = raw.LogDir
	cfg.WorkerPoolSize = raw.WorkerPoolSize
	cfg.Members = raw.Members
	if raw.HeartbeatMS > 0 {
		cfg.Heartbeat = time.Duration(raw.HeartbeatMS) * time.Millisecond
	}
	if raw.TermTimeoutMS > 0 {
		cfg.TermTimeout = time.Duration(raw.TermTimeoutMS) * time.Millisecond
	} else {
		cfg.TermTimeout = 2 * cfg.Heartbeat
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the construction-time invariant from §8: heartbeat must
// be strictly less than the term timeout, and StateDir must be set.
func (c Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("raft: config: state.dir is required")
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("raft: config: raft.heartbeat must be positive")
	}
	if c.TermTimeout <= c.Heartbeat {
		return fmt.Errorf("raft: config: raft.termtimeout (%s) must exceed raft.heartbeat (%s)",
			c.TermTimeout, c.Heartbeat)
	}
	return nil
}
