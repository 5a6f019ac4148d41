package registry

import (
	"time"
)

// InternalConfig represents the internal configuration structure.
// The public strata package maps it onto adapter configurations, so this
// package does not import any backend.
type InternalConfig struct {
	Database InternalDatabaseConfig `yaml:"database" json:"database" mapstructure:"database"`
	KVStore  InternalKVStoreConfig  `yaml:"kvstore" json:"kvstore" mapstructure:"kvstore"`
	SQLite   InternalSQLiteConfig   `yaml:"sqlite" json:"sqlite" mapstructure:"sqlite"`
	WASM     InternalSQLiteConfig   `yaml:"wasm" json:"wasm" mapstructure:"wasm"`
	MySQL    InternalMySQLConfig    `yaml:"mysql" json:"mysql" mapstructure:"mysql"`
	Notify   InternalNotifyConfig   `yaml:"notify" json:"notify" mapstructure:"notify"`
	Server   InternalServerConfig   `yaml:"server" json:"server" mapstructure:"server"`
	Logging  InternalLoggingConfig  `yaml:"logging" json:"logging" mapstructure:"logging"`

	// Tables declares the tables of a database served from configuration.
	// Each entry becomes one migration step, so entries are only ever
	// appended.
	Tables []InternalTableConfig `yaml:"tables,omitempty" json:"tables,omitempty" mapstructure:"tables"`
}

// InternalTableConfig declares one table.
type InternalTableConfig struct {
	Name    string                          `yaml:"name" json:"name" mapstructure:"name"`
	Columns map[string]InternalColumnConfig `yaml:"columns" json:"columns" mapstructure:"columns"`

	// ReadOnly refuses writes to the table through the RPC server.
	ReadOnly bool `yaml:"read_only,omitempty" json:"read_only,omitempty" mapstructure:"read_only"`
}

// InternalColumnConfig declares one column.
type InternalColumnConfig struct {
	Type       string `yaml:"type" json:"type" mapstructure:"type"` // text, integer, double, boolean, datetime, date, time, interval, uuid or json
	PrimaryKey bool   `yaml:"primary_key,omitempty" json:"primary_key,omitempty" mapstructure:"primary_key"`
	Nullable   bool   `yaml:"nullable,omitempty" json:"nullable,omitempty" mapstructure:"nullable"`
	Indexed    bool   `yaml:"indexed,omitempty" json:"indexed,omitempty" mapstructure:"indexed"`
	Unique     bool   `yaml:"unique,omitempty" json:"unique,omitempty" mapstructure:"unique"`
}

// InternalDatabaseConfig names the database and the adapter that stores it.
type InternalDatabaseConfig struct {
	Name    string `yaml:"name" json:"name" mapstructure:"name"`
	Adapter string `yaml:"adapter" json:"adapter" mapstructure:"adapter"` // memory, kv, sqlite, wasm or mysql
}

// InternalKVStoreConfig contains configuration for the key-value store behind the kv adapter.
// Supports multiple backends (Redis, DynamoDB, in-process) through a plugin-based architecture.
type InternalKVStoreConfig struct {
	Type           string                 `yaml:"type" json:"type" mapstructure:"type"`
	Namespace      string                 `yaml:"namespace,omitempty" json:"namespace,omitempty" mapstructure:"namespace"`
	KeyPrefix      string                 `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty" mapstructure:"key_prefix"`
	RedisConfig    InternalRedisConfig    `yaml:"redis_config,omitempty" json:"redis_config,omitempty" mapstructure:"redis_config"`
	DynamoDBConfig InternalDynamoDBConfig `yaml:"dynamodb_config,omitempty" json:"dynamodb_config,omitempty" mapstructure:"dynamodb_config"`
	MaxRetries     int                    `yaml:"max_retries,omitempty" json:"max_retries,omitempty" mapstructure:"max_retries"`
	DialTimeout    time.Duration          `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty" mapstructure:"dial_timeout"`
	ReadTimeout    time.Duration          `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration          `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty" mapstructure:"write_timeout"`
}

// InternalRedisConfig contains Redis-specific configuration.
type InternalRedisConfig struct {
	Endpoints    []string `yaml:"endpoints" json:"endpoints" mapstructure:"endpoints"`
	ClusterMode  bool     `yaml:"cluster_mode" json:"cluster_mode" mapstructure:"cluster_mode"`
	Password     string   `yaml:"password" json:"password" mapstructure:"password"`
	DB           int      `yaml:"db" json:"db" mapstructure:"db"`
	PoolSize     int      `yaml:"pool_size" json:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int      `yaml:"min_idle_conns" json:"min_idle_conns" mapstructure:"min_idle_conns"`
}

// InternalDynamoDBConfig contains DynamoDB-specific configuration.
type InternalDynamoDBConfig struct {
	Region          string `yaml:"region" json:"region" mapstructure:"region"`
	TableName       string `yaml:"table_name" json:"table_name" mapstructure:"table_name"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" mapstructure:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
}

// InternalSQLiteConfig configures an embedded SQLite database, native or WASM.
type InternalSQLiteConfig struct {
	Path        string        `yaml:"path" json:"path" mapstructure:"path"` // ":memory:" for a private in-memory database
	BusyTimeout time.Duration `yaml:"busy_timeout,omitempty" json:"busy_timeout,omitempty" mapstructure:"busy_timeout"`
}

// InternalMySQLConfig contains configuration for the MySQL database.
type InternalMySQLConfig struct {
	Host              string        `yaml:"host" json:"host" mapstructure:"host"`
	Port              int           `yaml:"port" json:"port" mapstructure:"port"`
	Database          string        `yaml:"database" json:"database" mapstructure:"database"`
	Username          string        `yaml:"username" json:"username" mapstructure:"username"`
	Password          string        `yaml:"password" json:"password" mapstructure:"password"`
	MaxOpenConns      int           `yaml:"max_open_conns" json:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns      int           `yaml:"max_idle_conns" json:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout" mapstructure:"connection_timeout"`
}

// InternalNotifyConfig configures how change notifications leave the process.
type InternalNotifyConfig struct {
	QueueType       string              `yaml:"queue_type" json:"queue_type" mapstructure:"queue_type"` // none, memory or kafka
	QueueBufferSize int                 `yaml:"queue_buffer_size" json:"queue_buffer_size" mapstructure:"queue_buffer_size"`
	DrainRate       int                 `yaml:"drain_rate" json:"drain_rate" mapstructure:"drain_rate"` // notifications per second
	BatchSize       int                 `yaml:"batch_size" json:"batch_size" mapstructure:"batch_size"`
	KafkaConfig     InternalKafkaConfig `yaml:"kafka_config" json:"kafka_config" mapstructure:"kafka_config"`
}

// InternalKafkaConfig contains Kafka-specific configuration.
type InternalKafkaConfig struct {
	Brokers         []string      `yaml:"brokers" json:"brokers" mapstructure:"brokers"`
	Topic           string        `yaml:"topic" json:"topic" mapstructure:"topic"`
	GroupID         string        `yaml:"group_id" json:"group_id" mapstructure:"group_id"`
	BatchSize       int           `yaml:"batch_size" json:"batch_size" mapstructure:"batch_size"`
	BatchTimeout    time.Duration `yaml:"batch_timeout" json:"batch_timeout" mapstructure:"batch_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" mapstructure:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" mapstructure:"read_timeout"`
	RequiredAcks    int           `yaml:"required_acks" json:"required_acks" mapstructure:"required_acks"`
	MaxMessageBytes int           `yaml:"max_message_bytes" json:"max_message_bytes" mapstructure:"max_message_bytes"`
	MinBytes        int           `yaml:"min_bytes" json:"min_bytes" mapstructure:"min_bytes"`
	MaxBytes        int           `yaml:"max_bytes" json:"max_bytes" mapstructure:"max_bytes"`
	MaxWait         time.Duration `yaml:"max_wait" json:"max_wait" mapstructure:"max_wait"`
}

// InternalServerConfig configures the RPC server.
type InternalServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr" mapstructure:"addr"`
	RequestRate     float64       `yaml:"request_rate" json:"request_rate" mapstructure:"request_rate"` // requests per second, 0 disables limiting
	RequestBurst    int           `yaml:"request_burst" json:"request_burst" mapstructure:"request_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// InternalLoggingConfig configures the process logger.
type InternalLoggingConfig struct {
	Level       string `yaml:"level" json:"level" mapstructure:"level"`
	Development bool   `yaml:"development" json:"development" mapstructure:"development"`
}
