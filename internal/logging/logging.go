// Package logging builds the zap logger used by every binary.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saltfish/portfolio-optimizer/internal/config"
)

// New initializes the zap logger based on configuration.
// The json format uses the production preset, anything else the development one.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapCfg, err := NewConfig(cfg)
	if err != nil {
		return nil, err
	}
	return zapCfg.Build()
}

// NewConfig returns the zap.Config New builds from.
func NewConfig(cfg config.LoggingConfig) (zap.Config, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.TimeKey = "timestamp"
		zapCfg.EncoderConfig.MessageKey = "message"
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zap.Config{}, err
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	if cfg.OutputPath != "" {
		zapCfg.OutputPaths = []string{cfg.OutputPath}
	}

	return zapCfg, nil
}

// ParseLevel maps a config level to a zap level. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zap.DebugLevel, nil
	case "", "info":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}
