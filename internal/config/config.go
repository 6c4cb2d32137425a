package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir        string `yaml:"data_dir"`
	APIPort        int    `yaml:"api_port"`
	IndexDSN       string `yaml:"index_dsn"`
	RateLimitRPS   int    `yaml:"rate_limit_rps"`
	RateLimitBurst int    `yaml:"rate_limit_burst"`
}

func defaults() Config {
	return Config{
		DataDir:        "./ledgerflow_data",
		APIPort:        8070,
		RateLimitRPS:   20,
		RateLimitBurst: 40,
	}
}

// Load reads a YAML config file and applies environment overrides on top.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaults()
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	return &cfg, nil
}

// FromEnv builds a config purely from environment variables.
func FromEnv() *Config {
	cfg := defaults()
	applyEnv(&cfg)
	return &cfg
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("LEDGERFLOW_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("LEDGERFLOW_INDEX_DSN")); v != "" {
		cfg.IndexDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.APIPort = n
		}
	}
}
