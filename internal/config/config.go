package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/web3ekko/node-manager/pkg/common"
)

// NodeEntry holds the launch configuration for one managed node.
type NodeEntry struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name,omitempty"`
	Network     string   `yaml:"network"` // e.g. "mainnet", "sepolia"
	SyncMode    string   `yaml:"sync_mode,omitempty"`
	BinaryPath  string   `yaml:"binary"`
	DataDir     string   `yaml:"data_dir,omitempty"`
	WebSocket   string   `yaml:"websocket_url"`
	ExtraArgs   []string `yaml:"extra_args,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// Config holds the daemon configuration.
type Config struct {
	// Nodes to manage
	Nodes []NodeEntry `yaml:"nodes"`

	// Redis configuration
	RedisURL string

	// NATS configuration
	NatsURL       string
	NatsStream    string
	SubjectPrefix string

	// History (DuckDB) configuration
	HistoryPath string

	// Manager timers
	PollInterval time.Duration
	SettleDelay  time.Duration
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	nodesStr := os.Getenv("NODEMAN_NODES")
	if nodesStr == "" {
		return nil, fmt.Errorf("NODEMAN_NODES is required (comma-separated list of node ids)")
	}

	ids := strings.Split(nodesStr, ",")
	nodes := make([]NodeEntry, 0, len(ids))

	for _, id := range ids {
		id = strings.TrimSpace(id)
		prefix := "NODEMAN_" + strings.ToUpper(strings.ReplaceAll(id, "-", "_"))

		binary := os.Getenv(prefix + "_BINARY")
		if binary == "" {
			return nil, fmt.Errorf("%s_BINARY is required", prefix)
		}
		wsURL := os.Getenv(prefix + "_WEBSOCKET_URL")
		if wsURL == "" {
			return nil, fmt.Errorf("%s_WEBSOCKET_URL is required", prefix)
		}

		var extraArgs []string
		if args := os.Getenv(prefix + "_EXTRA_ARGS"); args != "" {
			extraArgs = strings.Fields(args)
		}

		nodes = append(nodes, NodeEntry{
			ID:         id,
			Name:       getEnvWithDefault(prefix+"_NAME", id),
			Network:    getEnvWithDefault(prefix+"_NETWORK", "mainnet"),
			SyncMode:   getEnvWithDefault(prefix+"_SYNC_MODE", "snap"),
			BinaryPath: binary,
			DataDir:    os.Getenv(prefix + "_DATA_DIR"),
			WebSocket:  wsURL,
			ExtraArgs:  extraArgs,
		})
	}

	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		// Default to localhost if not specified
		natsURL = "nats://localhost:4222"
	}

	return &Config{
		Nodes:         nodes,
		RedisURL:      getEnvWithDefault("REDIS_URL", "localhost:6379"),
		NatsURL:       natsURL,
		NatsStream:    getEnvWithDefault("NATS_STREAM", "NODEMAN"),
		SubjectPrefix: getEnvWithDefault("NATS_SUBJECT_PREFIX", "nodeman.updates"),
		HistoryPath:   getEnvWithDefault("HISTORY_PATH", "nodeman-history.db"),
		PollInterval:  getEnvAsDuration("POLL_INTERVAL", 3*time.Second),
		SettleDelay:   getEnvAsDuration("SETTLE_DELAY", 2*time.Second),
	}, nil
}

// Load reads a YAML config file (path), falls back to environment loader on
// error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadFromEnv()
	}
	var fileCfg struct {
		Nodes []NodeEntry `yaml:"nodes"`
	}
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	// Expand env in paths and URLs
	for i := range fileCfg.Nodes {
		n := &fileCfg.Nodes[i]
		n.BinaryPath = os.ExpandEnv(n.BinaryPath)
		n.DataDir = os.ExpandEnv(n.DataDir)
		n.WebSocket = os.ExpandEnv(n.WebSocket)
	}
	// Load base config (env or defaults) then override nodes entirely from YAML
	cfg := &Config{
		RedisURL:      getEnvWithDefault("REDIS_URL", "localhost:6379"),
		NatsURL:       getEnvWithDefault("NATS_URL", "nats://localhost:4222"),
		NatsStream:    getEnvWithDefault("NATS_STREAM", "NODEMAN"),
		SubjectPrefix: getEnvWithDefault("NATS_SUBJECT_PREFIX", "nodeman.updates"),
		HistoryPath:   getEnvWithDefault("HISTORY_PATH", "nodeman-history.db"),
		PollInterval:  getEnvAsDuration("POLL_INTERVAL", 3*time.Second),
		SettleDelay:   getEnvAsDuration("SETTLE_DELAY", 2*time.Second),
	}
	cfg.Nodes = fileCfg.Nodes
	for i := range cfg.Nodes {
		if cfg.Nodes[i].Name == "" {
			cfg.Nodes[i].Name = cfg.Nodes[i].ID
		}
		if cfg.Nodes[i].Network == "" {
			cfg.Nodes[i].Network = "mainnet"
		}
	}
	return cfg, nil
}

// NodeConfig converts a config entry into the collaborator's config bag.
func (n NodeEntry) NodeConfig() common.NodeConfig {
	return common.NodeConfig{
		ID:          n.ID,
		Name:        n.Name,
		Network:     n.Network,
		SyncMode:    n.SyncMode,
		BinaryPath:  n.BinaryPath,
		DataDir:     n.DataDir,
		WssURL:      n.WebSocket,
		ExtraArgs:   n.ExtraArgs,
		Description: n.Description,
	}
}

// getEnvWithDefault returns environment variable value or default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt returns environment variable as integer or default if not set
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvAsDuration returns environment variable as duration or default if not set
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
