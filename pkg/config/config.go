package config

import (
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemesh/scanner"
)

// Config holds application configuration
type Config struct {
	LogLevel       logrus.Level   `json:"log_level"`
	ScanTimeout    time.Duration  `json:"scan_timeout" default:"30s"`
	ConnectTimeout time.Duration  `json:"connect_timeout" default:"10s"`
	OutputFormat   string         `json:"output_format" default:"text"`
	Policy         scanner.Policy `json:"policy"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{LogLevel: logrus.InfoLevel}
	defaults.SetDefaults(cfg)
	return cfg
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
