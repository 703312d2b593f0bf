// Package config provides configuration management for the portfolio optimizer.
package config

import (
	"strconv"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Env       string          `yaml:"env"`
	Server    ServerConfig    `yaml:"server"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Export    ExportConfig    `yaml:"export"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	HTTPPort        int    `yaml:"http_port" split_words:"true"`
	ShutdownTimeout string `yaml:"shutdown_timeout" split_words:"true"`
}

// ShutdownTimeoutDuration returns the graceful shutdown timeout, 30s when unparsable.
func (s *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return parseDuration(s.ShutdownTimeout, 30*time.Second)
}

// OptimizerConfig contains settings of the remote optimization service.
type OptimizerConfig struct {
	BaseURL        string `yaml:"base_url" split_words:"true"`
	RecommendMode  string `yaml:"recommend_mode" split_words:"true"`
	RequestTimeout string `yaml:"request_timeout" split_words:"true"`
}

// Timeout returns the per-request timeout, 60s when unparsable.
func (o *OptimizerConfig) Timeout() time.Duration {
	return parseDuration(o.RequestTimeout, 60*time.Second)
}

// WorkflowConfig contains the initial form inputs.
type WorkflowConfig struct {
	DefaultRiskLevel string `yaml:"default_risk_level" split_words:"true"`
	DefaultTickers   string `yaml:"default_tickers" split_words:"true"`
}

// ExportConfig contains settings of the file export sink.
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// The result archive is only used when Enabled is set.
type DatabaseConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	Name               string `yaml:"name"`
	SSLMode            string `yaml:"sslmode" split_words:"true"`
	MaxConnections     int    `yaml:"max_connections" split_words:"true"`
	MaxIdleConnections int    `yaml:"max_idle_connections" split_words:"true"`
	ConnMaxLifetime    string `yaml:"conn_max_lifetime" split_words:"true"`
}

// ConnectionString returns the PostgreSQL connection string.
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" +
		strconv.Itoa(d.Port) + "/" + d.Name + "?sslmode=" + d.SSLMode
}

// RabbitMQConfig contains RabbitMQ connection settings.
// An empty URL disables event publishing.
type RabbitMQConfig struct {
	URL              string `yaml:"url"`
	Exchange         string `yaml:"exchange"`
	PrefetchCount    int    `yaml:"prefetch_count" split_words:"true"`
	ReconnectDelay   string `yaml:"reconnect_delay" split_words:"true"`
	MaxReconnectWait string `yaml:"max_reconnect_wait" split_words:"true"`
}

// Enabled returns true when a broker URL is configured.
func (r *RabbitMQConfig) Enabled() bool {
	return r.URL != ""
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputPath string `yaml:"output_path" split_words:"true"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			HTTPPort:        8082,
			ShutdownTimeout: "30s",
		},
		Optimizer: OptimizerConfig{
			BaseURL:        "http://localhost:8000",
			RecommendMode:  "post",
			RequestTimeout: "60s",
		},
		Workflow: WorkflowConfig{
			DefaultRiskLevel: "medium",
			DefaultTickers:   "",
		},
		Export: ExportConfig{
			Dir: ".",
		},
		Database: DatabaseConfig{
			Enabled:            false,
			Host:               "localhost",
			Port:               5432,
			User:               "postgres",
			Password:           "postgres",
			Name:               "portfolio_dev",
			SSLMode:            "disable",
			MaxConnections:     10,
			MaxIdleConnections: 2,
			ConnMaxLifetime:    "1h",
		},
		RabbitMQ: RabbitMQConfig{
			URL:              "",
			Exchange:         "portfolio.events",
			PrefetchCount:    10,
			ReconnectDelay:   "5s",
			MaxReconnectWait: "30s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return fallback
}
