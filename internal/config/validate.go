package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/saltfish/portfolio-optimizer/internal/domain"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "validation errors: " + strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[cfg.Env] {
		errs = append(errs, ValidationError{
			Field:   "env",
			Message: "must be one of: development, staging, production, test",
		})
	}

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateOptimizer(&cfg.Optimizer)...)
	errs = append(errs, validateWorkflow(&cfg.Workflow)...)

	if cfg.Database.Enabled {
		errs = append(errs, validateDatabase(&cfg.Database)...)
	}
	if cfg.RabbitMQ.Enabled() {
		errs = append(errs, validateRabbitMQ(&cfg.RabbitMQ)...)
	}

	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServer(s *ServerConfig) ValidationErrors {
	var errs ValidationErrors

	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.http_port",
			Message: "must be a valid port number (1-65535)",
		})
	}
	if !isDuration(s.ShutdownTimeout) {
		errs = append(errs, ValidationError{
			Field:   "server.shutdown_timeout",
			Message: "must be a positive duration (e.g. 30s)",
		})
	}

	return errs
}

func validateOptimizer(o *OptimizerConfig) ValidationErrors {
	var errs ValidationErrors

	if o.BaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "optimizer.base_url",
			Message: "is required",
		})
	} else if u, err := url.Parse(o.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "optimizer.base_url",
			Message: "must be an absolute http:// or https:// URL",
		})
	}

	if o.RecommendMode != "post" && o.RecommendMode != "get" {
		errs = append(errs, ValidationError{
			Field:   "optimizer.recommend_mode",
			Message: "must be one of: post, get",
		})
	}

	if !isDuration(o.RequestTimeout) {
		errs = append(errs, ValidationError{
			Field:   "optimizer.request_timeout",
			Message: "must be a positive duration (e.g. 60s)",
		})
	}

	return errs
}

func validateWorkflow(w *WorkflowConfig) ValidationErrors {
	var errs ValidationErrors

	if !domain.RiskLevel(w.DefaultRiskLevel).IsValid() {
		errs = append(errs, ValidationError{
			Field:   "workflow.default_risk_level",
			Message: "must be one of: low, medium, high",
		})
	}

	return errs
}

func validateDatabase(db *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if db.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "database.host",
			Message: "is required",
		})
	}
	if db.Port <= 0 || db.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "database.port",
			Message: "must be a valid port number (1-65535)",
		})
	}
	if db.User == "" {
		errs = append(errs, ValidationError{
			Field:   "database.user",
			Message: "is required",
		})
	}
	if db.Name == "" {
		errs = append(errs, ValidationError{
			Field:   "database.name",
			Message: "is required",
		})
	}

	validSSLModes := map[string]bool{
		"disable":     true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if !validSSLModes[db.SSLMode] {
		errs = append(errs, ValidationError{
			Field:   "database.sslmode",
			Message: "must be one of: disable, require, verify-ca, verify-full",
		})
	}

	if db.MaxConnections <= 0 {
		errs = append(errs, ValidationError{
			Field:   "database.max_connections",
			Message: "must be greater than 0",
		})
	}
	if db.MaxIdleConnections < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.max_idle_connections",
			Message: "must be non-negative",
		})
	}
	if db.MaxIdleConnections > db.MaxConnections {
		errs = append(errs, ValidationError{
			Field:   "database.max_idle_connections",
			Message: "must not exceed max_connections",
		})
	}

	return errs
}

func validateRabbitMQ(mq *RabbitMQConfig) ValidationErrors {
	var errs ValidationErrors

	if !strings.HasPrefix(mq.URL, "amqp://") && !strings.HasPrefix(mq.URL, "amqps://") {
		errs = append(errs, ValidationError{
			Field:   "rabbitmq.url",
			Message: "must start with amqp:// or amqps://",
		})
	}

	if mq.Exchange == "" {
		errs = append(errs, ValidationError{
			Field:   "rabbitmq.exchange",
			Message: "is required",
		})
	}

	if mq.PrefetchCount <= 0 {
		errs = append(errs, ValidationError{
			Field:   "rabbitmq.prefetch_count",
			Message: "must be greater than 0",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[l.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: debug, info, warn, error",
		})
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validFormats[l.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be one of: json, console",
		})
	}

	return errs
}

func isDuration(s string) bool {
	d, err := time.ParseDuration(s)
	return err == nil && d > 0
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve ValidationError
	var ves ValidationErrors
	return errors.As(err, &ve) || errors.As(err, &ves)
}
