package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// HTTPConfiguration for the metrics and admin listener
type HTTPConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"` // PSK for /admin, empty disables auth
}

// Configuration is the host process configuration
type Configuration struct {
	NodeID        uint64 `toml:"node_id"`
	DataDir       string `toml:"data_dir"`
	DrcConfigPath string `toml:"drc_config"` // JSON replicator config

	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	HTTP       HTTPConfiguration       `toml:"http"`
}

// Command line flags
var (
	ConfigPathFlag    = flag.String("config", "drc.toml", "Path to configuration file")
	DrcConfigPathFlag = flag.String("drc-config", "", "Path to replicator JSON config (overrides config)")
	DataDirFlag       = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag        = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	HTTPPortFlag      = flag.Int("http-port", 0, "HTTP port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	NodeID:        0, // Auto-generate
	DataDir:       "./drc-data",
	DrcConfigPath: "./drc.json",

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},

	HTTP: HTTPConfiguration{
		Enabled:     true,
		BindAddress: "0.0.0.0",
		Port:        9480,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DrcConfigPathFlag != "" {
		Config.DrcConfigPath = *DrcConfigPathFlag
	}
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *HTTPPortFlag != 0 {
		Config.HTTP.Port = *HTTPPortFlag
	}

	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("drc")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.HTTP.Enabled && (Config.HTTP.Port < 1 || Config.HTTP.Port > 65535) {
		return fmt.Errorf("invalid HTTP port: %d", Config.HTTP.Port)
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	if Config.DrcConfigPath == "" {
		return fmt.Errorf("drc_config path is required")
	}

	return nil
}

// IsAdminAuthEnabled reports whether /admin requires a secret
func IsAdminAuthEnabled() bool {
	return Config.HTTP.Secret != ""
}

// GetAdminSecret returns the admin PSK
func GetAdminSecret() string {
	return Config.HTTP.Secret
}
