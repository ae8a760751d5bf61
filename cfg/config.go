package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// StoreConfiguration controls the SQLite database and identity cache
type StoreConfiguration struct {
	DBFile        string `toml:"db_file"`         // Relative to data_dir unless absolute
	PoolSize      int    `toml:"pool_size"`       // Open connections; pull streams each hold one
	BusyTimeoutMS int    `toml:"busy_timeout_ms"` // SQLite busy timeout
	CacheEnabled  bool   `toml:"cache_enabled"`   // Identity map on/off
	CacheSize     int    `toml:"cache_size"`      // Max cached records
}

// LiveQueryConfiguration controls re-evaluation of live queries
type LiveQueryConfiguration struct {
	Workers               int `toml:"workers"`                  // Concurrent re-evaluations across all queries
	ReEvaluationTimeoutMS int `toml:"reevaluation_timeout_ms"` // 0 = no timeout
}

// PullConfiguration controls pull streams
type PullConfiguration struct {
	BatchSize int `toml:"batch_size"` // Max rows delivered per delivery round
}

// WriteExecutorConfiguration controls the asynchronous write executor
type WriteExecutorConfiguration struct {
	QueueSize int `toml:"queue_size"`
}

// FieldConfiguration declares one entity field
type FieldConfiguration struct {
	Name      string `toml:"name"`
	Kind      string `toml:"kind"` // integer, real, text, blob, bool, time
	Key       bool   `toml:"key"`
	Generated bool   `toml:"generated"`
	Nullable  bool   `toml:"nullable"`
}

// RelationConfiguration declares that Field references Target's key
type RelationConfiguration struct {
	Field  string `toml:"field"`
	Target string `toml:"target"`
}

// EntityConfiguration declares one entity type for the daemon
type EntityConfiguration struct {
	Name      string                  `toml:"name"`
	Fields    []FieldConfiguration    `toml:"fields"`
	Relations []RelationConfiguration `toml:"relations"`
}

// SinkConfiguration configures one CDC sink
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"`   // "nats" or "kafka"
	Format          string   `toml:"format"` // "json" or "debezium"
	NatsURL         string   `toml:"nats_url"`
	Brokers         []string `toml:"brokers"`
	TopicPrefix     string   `toml:"topic_prefix"`
	FilterEntities  []string `toml:"filter_entities"` // Glob patterns, empty = all
	BatchSize       int      `toml:"batch_size"`
	PollIntervalMS  int      `toml:"poll_interval_ms"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
}

// PublisherConfiguration controls CDC export of committed mutations
type PublisherConfiguration struct {
	Enabled bool                `toml:"enabled"`
	Sinks   []SinkConfiguration `toml:"sinks"`
}

// AdminConfiguration controls the admin HTTP server
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"` // Empty disables auth
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled             bool `toml:"enabled"`
	CollectorIntervalMS int  `toml:"collector_interval_ms"`
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID uint64 `toml:"instance_id"`
	DataDir    string `toml:"data_dir"`

	Store         StoreConfiguration         `toml:"store"`
	LiveQuery     LiveQueryConfiguration     `toml:"live_query"`
	Pull          PullConfiguration          `toml:"pull"`
	WriteExecutor WriteExecutorConfiguration `toml:"write_executor"`
	Entities      []EntityConfiguration      `toml:"entity"`
	Publisher     PublisherConfiguration     `toml:"publisher"`
	Admin         AdminConfiguration         `toml:"admin"`
	Logging       LoggingConfiguration       `toml:"logging"`
	Prometheus    PrometheusConfiguration    `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	InstanceIDFlag = flag.Uint64("instance-id", 0, "Instance ID (overrides config, 0=auto)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
	WatchFlag      = flag.String("watch", "", "Entity type to watch as a live query, printed as JSON lines")
)

// Default configuration
var Config = &Configuration{
	InstanceID: 0, // Auto-generate
	DataDir:    "./livestore-data",

	Store: StoreConfiguration{
		DBFile:        "livestore.db",
		PoolSize:      8,
		BusyTimeoutMS: 5000,
		CacheEnabled:  true,
		CacheSize:     10000,
	},

	LiveQuery: LiveQueryConfiguration{
		Workers:               4,
		ReEvaluationTimeoutMS: 30000,
	},

	Pull: PullConfiguration{
		BatchSize: 64,
	},

	WriteExecutor: WriteExecutorConfiguration{
		QueueSize: 256,
	},

	Publisher: PublisherConfiguration{
		Enabled: false,
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "127.0.0.1",
		Port:        8089,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled:             true,
		CollectorIntervalMS: 5000,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
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
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *InstanceIDFlag != 0 {
		Config.InstanceID = *InstanceIDFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	// Auto-generate instance ID if not set
	if Config.InstanceID == 0 {
		var err error
		Config.InstanceID, err = generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		log.Info().Uint64("instance_id", Config.InstanceID).Msg("Auto-generated instance ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateInstanceID creates a stable ID based on machine ID
func generateInstanceID() (uint64, error) {
	id, err := machineid.ProtectedID("livestore")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// DBPath returns the database file path
func DBPath() string {
	if filepath.IsAbs(Config.Store.DBFile) {
		return Config.Store.DBFile
	}
	return filepath.Join(Config.DataDir, Config.Store.DBFile)
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Store.DBFile == "" {
		return fmt.Errorf("store db_file is required")
	}

	if Config.Store.PoolSize < 1 {
		return fmt.Errorf("store pool size must be >= 1")
	}

	if Config.Store.BusyTimeoutMS < 0 {
		return fmt.Errorf("store busy timeout must be >= 0")
	}

	if Config.Store.CacheEnabled && Config.Store.CacheSize < 1 {
		return fmt.Errorf("store cache size must be >= 1 when the cache is enabled")
	}

	if Config.LiveQuery.Workers < 1 {
		return fmt.Errorf("live query workers must be >= 1")
	}

	if Config.LiveQuery.ReEvaluationTimeoutMS < 0 {
		return fmt.Errorf("live query re-evaluation timeout must be >= 0")
	}

	if Config.Pull.BatchSize < 1 {
		return fmt.Errorf("pull batch size must be >= 1")
	}

	if Config.WriteExecutor.QueueSize < 1 {
		return fmt.Errorf("write executor queue size must be >= 1")
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	if Config.Prometheus.Enabled && Config.Prometheus.CollectorIntervalMS < 1 {
		return fmt.Errorf("prometheus collector interval must be >= 1ms")
	}

	// Validate publisher sinks
	if Config.Publisher.Enabled {
		seen := make(map[string]bool, len(Config.Publisher.Sinks))
		for i, sink := range Config.Publisher.Sinks {
			if sink.Name == "" {
				return fmt.Errorf("publisher sink %d has no name", i)
			}
			if seen[sink.Name] {
				return fmt.Errorf("duplicate publisher sink name: %s", sink.Name)
			}
			seen[sink.Name] = true

			if sink.Type == "" {
				return fmt.Errorf("publisher sink %s has no type", sink.Name)
			}
			if sink.Format == "" {
				return fmt.Errorf("publisher sink %s has no format", sink.Name)
			}
			if sink.RetryMultiplier != 0 && sink.RetryMultiplier < 1 {
				return fmt.Errorf("publisher sink %s retry multiplier must be >= 1", sink.Name)
			}
		}
	}

	// Entity declarations are fully checked when the model is built
	for i, ent := range Config.Entities {
		if ent.Name == "" {
			return fmt.Errorf("entity %d has no name", i)
		}
		if len(ent.Fields) == 0 {
			return fmt.Errorf("entity %s has no fields", ent.Name)
		}
	}

	return nil
}
