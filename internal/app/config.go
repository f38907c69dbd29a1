package app

import (
	"errors"
	"fmt"
	"time"
)

// DefaultReadTimeout bounds each result read when neither the CLI nor the
// graph file sets one.
const DefaultReadTimeout = 30 * time.Second

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	GraphPath string // hcl file

	LogFormat   string
	LogLevel    string
	MetricsPort int
	// WorkerCount and ReadTimeout override the graph file's engine block
	// when positive.
	WorkerCount int
	ReadTimeout time.Duration
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.GraphPath == "" {
		return nil, errors.New("GraphPath is a required configuration field and cannot be empty")
	}
	if cfg.WorkerCount < 0 {
		return nil, fmt.Errorf("WorkerCount must not be negative, got %d", cfg.WorkerCount)
	}
	if cfg.ReadTimeout < 0 {
		return nil, fmt.Errorf("ReadTimeout must not be negative, got %s", cfg.ReadTimeout)
	}
	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return nil, fmt.Errorf("MetricsPort out of range: %d", cfg.MetricsPort)
	}
	return &cfg, nil
}
