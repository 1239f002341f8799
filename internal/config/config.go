package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"kvcoord/internal/handoff"
	"kvcoord/internal/health"
	"kvcoord/internal/logger"
	"kvcoord/internal/quorum"
)

// InMemoryAddr as a peer address makes an in-process node.
const InMemoryAddr = "inmem"

// Hint store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Peer represents a storage node in the cluster.
type Peer struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// InMemory reports whether the peer is served in-process.
func (p Peer) InMemory() bool {
	return strings.EqualFold(p.Addr, InMemoryAddr)
}

// Redis holds the connection settings of the redis hint store.
type Redis struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

// Handoff configures hint storage and replay.
type Handoff struct {
	Backend        string        `yaml:"backend"`
	HintTTL        time.Duration `yaml:"hint_ttl"`
	Buffer         int           `yaml:"buffer"`
	BatchSize      int           `yaml:"batch_size"`
	ReplayInterval time.Duration `yaml:"replay_interval"`
	Redis          Redis         `yaml:"redis"`
}

// Config holds the coordinator configuration.
type Config struct {
	ReplicationFactor int           `yaml:"replication_factor"`
	NodeTimeout       time.Duration `yaml:"node_timeout"`
	Peers             []Peer        `yaml:"peers"`
	Handoff           Handoff       `yaml:"handoff"`
	Health            health.Config `yaml:"health"`
	Log               logger.Config `yaml:"log"`
}

// Default returns a configuration with every field but Peers set.
func Default() Config {
	return Config{
		ReplicationFactor: 3,
		NodeTimeout:       quorum.DefaultPerReplicaTimeout,
		Handoff: Handoff{
			Backend:        BackendMemory,
			HintTTL:        handoff.DefaultHintTTL,
			Buffer:         handoff.DefaultBuffer,
			BatchSize:      handoff.DefaultBatchSize,
			ReplayInterval: handoff.DefaultReplayInterval,
			Redis: Redis{
				Prefix: "kvcoord",
			},
		},
		Health: health.DefaultConfig(),
		Log: logger.Config{
			Env:     "dev",
			Level:   "info",
			Service: "kvcoord",
		},
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnv loads .env files into the process environment without overriding
// variables that are already set. Missing files are ignored.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// applyEnv overrides fields from KVCOORD_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup("KVCOORD_" + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("PEERS"); ok {
		peers, err := ParsePeers(v)
		if err != nil {
			return fmt.Errorf("KVCOORD_PEERS: %w", err)
		}
		c.Peers = peers
	}
	if v, ok := get("REPLICATION_FACTOR"); ok {
		rf, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KVCOORD_REPLICATION_FACTOR: %w", err)
		}
		c.ReplicationFactor = rf
	}
	if v, ok := get("NODE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("KVCOORD_NODE_TIMEOUT: %w", err)
		}
		c.NodeTimeout = d
	}
	if v, ok := get("HANDOFF_BACKEND"); ok {
		c.Handoff.Backend = strings.ToLower(v)
	}
	if v, ok := get("HINT_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("KVCOORD_HINT_TTL: %w", err)
		}
		c.Handoff.HintTTL = d
	}
	if v, ok := get("REDIS_ADDR"); ok {
		c.Handoff.Redis.Addr = v
	}
	if v, ok := get("REDIS_PASSWORD"); ok {
		c.Handoff.Redis.Password = v
	}
	if v, ok := get("REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KVCOORD_REDIS_DB: %w", err)
		}
		c.Handoff.Redis.DB = db
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("LOG_ENV"); ok {
		c.Log.Env = v
	}
	return nil
}

// Validate checks the configuration for errors that would otherwise show
// up at the first request.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Peers) == 0 {
		errs = append(errs, errors.New("at least one peer is required"))
	}
	seen := make(map[string]bool, len(c.Peers))
	for _, p := range c.Peers {
		switch {
		case p.ID == "" || p.Addr == "":
			errs = append(errs, fmt.Errorf("peer ID and address cannot be empty: %q=%q", p.ID, p.Addr))
		case seen[p.ID]:
			errs = append(errs, fmt.Errorf("duplicate peer ID: %s", p.ID))
		}
		seen[p.ID] = true
	}

	if c.ReplicationFactor < 1 {
		errs = append(errs, fmt.Errorf("replication_factor must be >= 1, got %d", c.ReplicationFactor))
	}
	if c.NodeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("node_timeout must be positive, got %s", c.NodeTimeout))
	}

	switch c.Handoff.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Handoff.Redis.Addr == "" {
			errs = append(errs, errors.New("handoff.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown handoff backend %q", c.Handoff.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
// Order is kept since it defines the ring.
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{
			ID:   id,
			Addr: addr,
		})
	}

	return peers, nil
}

// PeerIDs returns the peer IDs in ring order.
func (c *Config) PeerIDs() []string {
	ids := make([]string, 0, len(c.Peers))
	for _, p := range c.Peers {
		ids = append(ids, p.ID)
	}
	return ids
}
