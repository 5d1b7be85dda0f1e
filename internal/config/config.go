// Package config loads the YAML configuration surface of §6: node identity
// and concurrency, failover bounds, cluster/ensemble partitioning, gossip
// membership, and logging. Grounded on the reference corpus's
// storage-node/internal/config/config.go LoadConfig/setDefaults/Validate
// shape.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeConfig is the local node's identity and worker-pool sizing (§6:
// node.id, node.concurrency, node.timeout).
type NodeConfig struct {
	ID          string        `yaml:"id"`
	RPCAddr     string        `yaml:"rpc_addr"`
	Concurrency int           `yaml:"concurrency"`
	QueueSize   int           `yaml:"queue_size"`
	Timeout     time.Duration `yaml:"timeout"`
}

// FailoverConfig bounds FailureDecorator retries (§6: failover.retries,
// failover.interval).
type FailoverConfig struct {
	Retries  int           `yaml:"retries"`
	Interval time.Duration `yaml:"interval"`
}

// ClusterConfig sizes the per-cluster consistent-hash ring (§6:
// cluster.partitions).
type ClusterConfig struct {
	Name       string `yaml:"name"`
	Partitions int    `yaml:"partitions"`
}

// RemoteCluster names one remote cluster the EnsembleManager polls, plus
// the seed addresses ("contacts", §4.9) it dials before it has ever
// reconciled a real membership view for that cluster.
type RemoteCluster struct {
	Name     string   `yaml:"name"`
	Contacts []string `yaml:"contacts"`
}

// EnsembleConfig names the remote clusters plus the EnsembleManager's
// polling strategy (§6: ensemble.clusters, ensemble.strategy,
// ensemble.interval; §4.9). Each cluster entry's Contacts seeds the
// manager's initial poll set — without at least one, the manager has no
// address to send a Membership command to and can never discover that
// cluster's real members.
type EnsembleConfig struct {
	Clusters []RemoteCluster `yaml:"clusters"`
	Strategy string          `yaml:"strategy"` // "fixed" or "adaptive"
	Interval time.Duration   `yaml:"interval"`
}

// GossipConfig configures the memberlist-backed GroupMembership (§4.9).
type GossipConfig struct {
	BindAddr  string   `yaml:"bind_addr"`
	BindPort  int      `yaml:"bind_port"`
	SeedNodes []string `yaml:"seed_nodes"`
}

// MetricsConfig configures the Prometheus exposition endpoint (§11 domain
// stack: StatsService).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds the logging level and format (§10.1). LoadConfig
// parses and defaults these fields; cmd/node builds its zap logger before
// loading the configuration, at info level in JSON form, and does not read
// them.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Config is the complete configuration surface of §6.
type Config struct {
	Node     NodeConfig     `yaml:"node"`
	Failover FailoverConfig `yaml:"failover"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Ensemble EnsembleConfig `yaml:"ensemble"`
	Gossip   GossipConfig   `yaml:"gossip"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoadConfig reads and validates a YAML config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Node.Concurrency == 0 {
		cfg.Node.Concurrency = 16
	}
	if cfg.Node.QueueSize == 0 {
		cfg.Node.QueueSize = 256
	}
	if cfg.Node.Timeout == 0 {
		cfg.Node.Timeout = 5 * time.Second
	}

	if cfg.Failover.Retries == 0 {
		cfg.Failover.Retries = 3
	}
	if cfg.Failover.Interval == 0 {
		cfg.Failover.Interval = 200 * time.Millisecond
	}

	if cfg.Cluster.Partitions == 0 {
		cfg.Cluster.Partitions = 1024
	}

	if cfg.Ensemble.Strategy == "" {
		cfg.Ensemble.Strategy = "fixed"
	}
	if cfg.Ensemble.Interval == 0 {
		cfg.Ensemble.Interval = 10 * time.Second
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks invariants LoadConfig relies on setDefaults to not have
// already fixed (§6).
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}
	if c.Cluster.Name == "" {
		return fmt.Errorf("cluster.name is required")
	}
	if c.Cluster.Partitions <= 0 {
		return fmt.Errorf("cluster.partitions must be positive")
	}
	if c.Failover.Retries < 0 {
		return fmt.Errorf("failover.retries must be non-negative")
	}
	switch c.Ensemble.Strategy {
	case "fixed", "adaptive":
	default:
		return fmt.Errorf("ensemble.strategy must be \"fixed\" or \"adaptive\", got %q", c.Ensemble.Strategy)
	}
	for _, remote := range c.Ensemble.Clusters {
		if remote.Name == "" {
			return fmt.Errorf("ensemble.clusters: name is required")
		}
		if len(remote.Contacts) == 0 {
			return fmt.Errorf("ensemble.clusters: cluster %q must list at least one contact address", remote.Name)
		}
	}
	return nil
}
