package projection

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ProjectionConfig holds the four declarative directives exactly as they are
// supplied by the user.
type ProjectionConfig struct {
	// Comma-separated list of fields to drop, e.g. "field1,field2".
	Drop string `json:"drop,omitempty"`
	// Comma-separated list of fields to keep. Cannot be combined with Drop.
	Keep string `json:"keep,omitempty"`
	// Comma-separated old:new pairs, e.g. "datestr:date,timestamp:ts".
	Rename string `json:"rename,omitempty"`
	// Comma-separated name:type pairs, e.g. "count:long,price:double".
	Convert string `json:"convert,omitempty"`
}

// Config consolidates the engine and pipeline settings.
type Config struct {
	Projection ProjectionConfig `json:"projection"`
	Cache      CacheConfig      `json:"cache"`
	Source     SourceConfig     `json:"source"`
	Sink       SinkConfig       `json:"sink"`
	Pipeline   PipelineConfig   `json:"pipeline"`
	Logging    LoggingConfig    `json:"logging"`
}

// CacheConfig bounds the per-engine schema cache.
type CacheConfig struct {
	// MaxEntries caps the number of cached output schemas. Zero means unbounded.
	MaxEntries int `json:"maxEntries"`
}

// SourceConfig describes where input records come from.
type SourceConfig struct {
	Paths     []string `json:"paths"`
	Format    string   `json:"format"` // csv, parquet, json; empty infers from extension
	PathField string   `json:"pathField,omitempty"`
	SchemaDir string   `json:"schemaDir,omitempty"`
	Schema    string   `json:"schema,omitempty"` // known input schema name in SchemaDir
	DuckDB    string   `json:"duckdb,omitempty"` // DuckDB DSN, empty for in-memory
}

// SinkKind selects an output adapter.
type SinkKind string

const (
	SinkStdout   SinkKind = "stdout"
	SinkFile     SinkKind = "file"
	SinkPostgres SinkKind = "postgres"
	SinkS3       SinkKind = "s3"
)

// SinkConfig describes where projected records go.
type SinkConfig struct {
	Kind      SinkKind       `json:"kind"`
	Path      string         `json:"path,omitempty"`
	BatchSize int            `json:"batchSize"`
	Postgres  PostgresConfig `json:"postgres"`
	S3        S3Config       `json:"s3"`
}

// PostgresConfig contains database connection settings
type PostgresConfig struct {
	URL            string        `json:"url"`
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	Database       string        `json:"database"`
	Username       string        `json:"username"`
	Password       string        `json:"password"`
	SSLMode        string        `json:"sslMode"`
	Table          string        `json:"table"`
	MaxConnections int           `json:"maxConnections"`
	Timeout        time.Duration `json:"timeout"`
	// UseIAM replaces the password with an Aurora DSQL auth token.
	UseIAM bool   `json:"useIAM"`
	Region string `json:"region,omitempty"`
}

// S3Config contains object storage settings.
type S3Config struct {
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint,omitempty"`
	AccessKey string `json:"accessKey,omitempty"`
	SecretKey string `json:"secretKey,omitempty"`
	PathStyle bool   `json:"pathStyle"`
}

// ErrorPolicy decides what happens to a record that fails conversion.
type ErrorPolicy string

const (
	ErrorPolicyFail ErrorPolicy = "fail"
	ErrorPolicySkip ErrorPolicy = "skip"
)

// PipelineConfig controls the record pipeline.
type PipelineConfig struct {
	Workers        int         `json:"workers"`
	BufferSize     int         `json:"bufferSize"`
	OnError        ErrorPolicy `json:"onError"`
	ValidateOutput bool        `json:"validateOutput"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{},
		Sink: SinkConfig{
			Kind:      SinkStdout,
			BatchSize: 500,
			Postgres: PostgresConfig{
				Host:           "localhost",
				Port:           5432,
				SSLMode:        "disable",
				MaxConnections: 4,
				Timeout:        30 * time.Second,
			},
			S3: S3Config{
				Region: "us-east-1",
				Prefix: "projected",
			},
		},
		Pipeline: PipelineConfig{
			Workers:    1,
			BufferSize: 256,
			OnError:    ErrorPolicyFail,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads a JSON config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Cache.MaxEntries < 0 {
		return &ConfigError{Field: "cache.maxEntries", Message: "must be greater than or equal to 0"}
	}
	if c.Pipeline.Workers <= 0 {
		return &ConfigError{Field: "pipeline.workers", Message: "must be greater than 0"}
	}
	if c.Pipeline.BufferSize < 0 {
		return &ConfigError{Field: "pipeline.bufferSize", Message: "must be greater than or equal to 0"}
	}
	switch c.Pipeline.OnError {
	case ErrorPolicyFail, ErrorPolicySkip:
	default:
		return &ConfigError{Field: "pipeline.onError", Message: "must be 'fail' or 'skip'"}
	}
	if c.Sink.BatchSize <= 0 {
		return &ConfigError{Field: "sink.batchSize", Message: "must be greater than 0"}
	}
	switch c.Sink.Kind {
	case SinkStdout:
	case SinkFile:
		if c.Sink.Path == "" {
			return &ConfigError{Field: "sink.path", Message: "is required for the file sink"}
		}
	case SinkPostgres:
		if c.Sink.Postgres.Table == "" {
			return &ConfigError{Field: "sink.postgres.table", Message: "is required for the postgres sink"}
		}
		if c.Sink.Postgres.URL == "" && c.Sink.Postgres.Host == "" {
			return &ConfigError{Field: "sink.postgres.url", Message: "url or host is required"}
		}
	case SinkS3:
		if c.Sink.S3.Bucket == "" {
			return &ConfigError{Field: "sink.s3.bucket", Message: "is required for the s3 sink"}
		}
	default:
		return &ConfigError{Field: "sink.kind", Message: fmt.Sprintf("unknown sink '%s'", c.Sink.Kind)}
	}
	if c.Source.Schema != "" && c.Source.SchemaDir == "" {
		return &ConfigError{Field: "source.schemaDir", Message: "is required when source.schema is set"}
	}
	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
