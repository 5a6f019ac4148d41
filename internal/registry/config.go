package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/strata/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. STRATA_KVSTORE_TYPE.
const EnvPrefix = "STRATA"

// ConfigValidator is the Strategy interface for validating configuration.
// Each backend provides its own validator to validate backend-specific
// configuration using the Strategy pattern.
type ConfigValidator interface {
	// Validate validates the section of the configuration owned by this backend.
	Validate(config *InternalConfig) error

	// Type returns the type identifier for this validator (e.g., "redis", "sqlite").
	Type() string
}

// ValidationStrategyRegistry holds config validators by type.
type ValidationStrategyRegistry struct {
	mu         sync.RWMutex
	validators map[string]ConfigValidator
}

// NewValidationStrategyRegistry creates an empty registry.
func NewValidationStrategyRegistry() *ValidationStrategyRegistry {
	return &ValidationStrategyRegistry{validators: make(map[string]ConfigValidator)}
}

// Register registers a config validator.
// Panics if validator is nil, type is empty, or type is already registered.
func (r *ValidationStrategyRegistry) Register(validator ConfigValidator) {
	if validator == nil {
		panic("validator cannot be nil")
	}
	if validator.Type() == "" {
		panic("validator type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.validators[validator.Type()]; exists {
		panic(fmt.Sprintf("validator for type %q is already registered", validator.Type()))
	}
	r.validators[validator.Type()] = validator
}

// Get retrieves a validator by type.
func (r *ValidationStrategyRegistry) Get(validatorType string) (ConfigValidator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	validator, exists := r.validators[validatorType]
	return validator, exists
}

var (
	// kvValidationRegistry holds validators of KV store types.
	kvValidationRegistry = NewValidationStrategyRegistry()

	// adapterValidationRegistry holds validators of adapter types.
	adapterValidationRegistry = NewValidationStrategyRegistry()
)

// RegisterValidator registers a KV store validator. Called from init functions.
func RegisterValidator(validator ConfigValidator) {
	kvValidationRegistry.Register(validator)
}

// GetValidator retrieves a KV store validator by type.
func GetValidator(validatorType string) (ConfigValidator, bool) {
	return kvValidationRegistry.Get(validatorType)
}

// RegisterAdapterValidator registers an adapter validator. Called from init functions.
func RegisterAdapterValidator(validator ConfigValidator) {
	adapterValidationRegistry.Register(validator)
}

// GetAdapterValidator retrieves an adapter validator by type.
func GetAdapterValidator(validatorType string) (ConfigValidator, bool) {
	return adapterValidationRegistry.Get(validatorType)
}

// ConfigManager handles loading and managing configuration from various sources.
type ConfigManager struct {
	config *InternalConfig
}

// NewConfigManager creates a new configuration manager with default configuration.
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config: DefaultConfig(),
	}
}

// DefaultConfig returns a configuration with sensible defaults: an
// in-memory database and no change queue.
func DefaultConfig() *InternalConfig {
	return &InternalConfig{
		Database: InternalDatabaseConfig{
			Name:    "strata",
			Adapter: "memory",
		},
		KVStore: InternalKVStoreConfig{
			Type:      "memory",
			Namespace: "strata",
			KeyPrefix: "strata",
			RedisConfig: InternalRedisConfig{
				Endpoints:    []string{"localhost:6379"},
				DB:           0,
				PoolSize:     10,
				MinIdleConns: 5,
			},
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		SQLite: InternalSQLiteConfig{
			Path:        "strata.db",
			BusyTimeout: 5 * time.Second,
		},
		WASM: InternalSQLiteConfig{
			Path:        "strata-wasm.db",
			BusyTimeout: 5 * time.Second,
		},
		MySQL: InternalMySQLConfig{
			Host:              "localhost",
			Port:              3306,
			MaxOpenConns:      25,
			MaxIdleConns:      5,
			ConnMaxLifetime:   5 * time.Minute,
			ConnMaxIdleTime:   10 * time.Minute,
			ConnectionTimeout: 10 * time.Second,
		},
		Notify: InternalNotifyConfig{
			QueueType:       "none",
			QueueBufferSize: 10000,
			DrainRate:       50,
			BatchSize:       100,
			KafkaConfig: InternalKafkaConfig{
				Brokers:         []string{"localhost:9092"},
				Topic:           "strata-changes",
				GroupID:         "strata-changes",
				BatchSize:       100,
				BatchTimeout:    10 * time.Millisecond,
				WriteTimeout:    10 * time.Second,
				ReadTimeout:     10 * time.Second,
				RequiredAcks:    -1,      // All replicas
				MaxMessageBytes: 1000000, // 1MB
				MinBytes:        1,
				MaxBytes:        10 * 1024 * 1024, // 10MB
				MaxWait:         100 * time.Millisecond,
			},
		},
		Server: InternalServerConfig{
			Addr:            ":8080",
			RequestRate:     100,
			RequestBurst:    200,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: InternalLoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file. STRATA_*
// environment variables override values from the file.
func (cm *ConfigManager) LoadFromFile(filePath string) error {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml", ".json":
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
	if _, err := os.Stat(filePath); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v, err := newViper()
	if err != nil {
		return err
	}
	v.SetConfigFile(filePath)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	config, err := decode(v)
	if err != nil {
		return err
	}
	if config.Tables, err = tablesFromFile(filePath); err != nil {
		return err
	}
	return cm.set(config)
}

// tablesFromFile reads the tables section with yaml.v3, which, unlike
// viper, keeps the case of column names. JSON files parse as YAML.
func tablesFromFile(filePath string) ([]InternalTableConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var doc struct {
		Tables []InternalTableConfig `yaml:"tables"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse tables: %w", err)
	}
	return doc.Tables, nil
}

// LoadFromEnv loads the defaults overridden by environment variables.
// Variables follow the pattern STRATA_<SECTION>_<KEY>, for example:
//   - STRATA_DATABASE_ADAPTER=kv
//   - STRATA_KVSTORE_TYPE=redis
//   - STRATA_MYSQL_HOST=localhost
//   - STRATA_NOTIFY_DRAIN_RATE=100
func (cm *ConfigManager) LoadFromEnv() error {
	v, err := newViper()
	if err != nil {
		return err
	}
	return cm.load(v)
}

// LoadFromYAML loads configuration from YAML data.
func (cm *ConfigManager) LoadFromYAML(data []byte) error {
	config := DefaultConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	return cm.set(config)
}

// LoadFromJSON loads configuration from JSON data.
func (cm *ConfigManager) LoadFromJSON(data []byte) error {
	config := DefaultConfig()
	if len(data) > 0 {
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}
	return cm.set(config)
}

// newViper returns a viper instance that knows every key, so that
// environment variables can override keys missing from the file.
func newViper() (*viper.Viper, error) {
	defaults, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to encode default config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func (cm *ConfigManager) load(v *viper.Viper) error {
	config, err := decode(v)
	if err != nil {
		return err
	}
	return cm.set(config)
}

func decode(v *viper.Viper) (*InternalConfig, error) {
	config := DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return config, nil
}

func (cm *ConfigManager) set(config *InternalConfig) error {
	if err := ValidateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cm.config = config
	return nil
}

// GetConfig returns the current internal configuration.
func (cm *ConfigManager) GetConfig() *InternalConfig {
	return cm.config
}

// ValidateConfig validates the configuration and returns an error if invalid.
// Backend sections are checked by the validator registered for the adapter.
func ValidateConfig(config *InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if config.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if config.Database.Adapter == "" {
		return fmt.Errorf("database.adapter is required")
	}

	validator, exists := GetAdapterValidator(config.Database.Adapter)
	if !exists {
		return fmt.Errorf("unsupported adapter type: %s", config.Database.Adapter)
	}
	if err := validator.Validate(config); err != nil {
		return fmt.Errorf("%s validation failed: %w", config.Database.Adapter, err)
	}

	// Validate notification configuration
	switch config.Notify.QueueType {
	case "", "none":
	case "memory", "kafka":
		if config.Notify.QueueBufferSize <= 0 {
			return fmt.Errorf("notify.queue_buffer_size must be greater than 0")
		}
		if config.Notify.DrainRate <= 0 {
			return fmt.Errorf("notify.drain_rate must be greater than 0")
		}
		if config.Notify.BatchSize <= 0 {
			return fmt.Errorf("notify.batch_size must be greater than 0")
		}
	default:
		return fmt.Errorf("notify.queue_type must be 'none', 'memory', or 'kafka'")
	}
	if config.Notify.QueueType == "kafka" {
		if len(config.Notify.KafkaConfig.Brokers) == 0 {
			return fmt.Errorf("kafka_config.brokers is required when queue_type is 'kafka'")
		}
		if config.Notify.KafkaConfig.Topic == "" {
			return fmt.Errorf("kafka_config.topic is required when queue_type is 'kafka'")
		}
	}

	// Validate server configuration
	if config.Server.RequestRate < 0 {
		return fmt.Errorf("server.request_rate must be non-negative")
	}
	if config.Server.RequestRate > 0 && config.Server.RequestBurst <= 0 {
		return fmt.Errorf("server.request_burst must be greater than 0 when request_rate is set")
	}

	if _, err := logging.ParseLevel(config.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	seen := make(map[string]bool, len(config.Tables))
	for i, table := range config.Tables {
		if table.Name == "" {
			return fmt.Errorf("tables[%d].name is required", i)
		}
		if seen[table.Name] {
			return fmt.Errorf("table %q is declared twice", table.Name)
		}
		seen[table.Name] = true
		if len(table.Columns) == 0 {
			return fmt.Errorf("table %q has no columns", table.Name)
		}
	}
	return nil
}
