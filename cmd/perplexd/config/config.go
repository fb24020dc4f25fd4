package config

import "fmt"

// Config holds the daemon's runtime configuration, assembled from flags.
type Config struct {
	Port          int
	Host          string
	ModelPath     string
	TokenizerPath string
	BatchSize     int
}

func DefaultConfig() Config {
	return Config{
		Port:      8080,
		Host:      "0.0.0.0",
		BatchSize: 512,
	}
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ModelPath == "" {
		return fmt.Errorf("model path is required")
	}
	if c.TokenizerPath == "" {
		return fmt.Errorf("tokenizer path is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	return nil
}
