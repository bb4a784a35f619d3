package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/graymantle/crucible/internal/api"
)

type Config struct {
	API       API       `yaml:"api"`
	Execution Execution `yaml:"execution"`
	Results   Results   `yaml:"results"`
	Telemetry Telemetry `yaml:"telemetry"`
}

type API struct {
	Endpoint          string            `yaml:"endpoint"`
	Model             string            `yaml:"model"`
	Headers           map[string]string `yaml:"headers"`
	TimeoutSeconds    int               `yaml:"timeout_seconds"`
	RetryAttempts     int               `yaml:"retry_attempts"`
	RetryDelaySeconds float64           `yaml:"retry_delay_seconds"`
}

type Execution struct {
	Workers                int     `yaml:"workers"`
	SequentialDelaySeconds float64 `yaml:"sequential_delay_seconds"`
}

type Results struct {
	Dir       string `yaml:"dir"`
	HistoryDB string `yaml:"history_db"`
}

type Telemetry struct {
	DockerContainer string `yaml:"docker_container"`
	NvidiaSMI       bool   `yaml:"nvidia_smi"`
}

// Default returns the configuration used when no config file exists.
// The values match a local single-model inference server setup.
func Default() *Config {
	return &Config{
		API: API{
			Endpoint:          "http://127.0.0.1:8004/v1/completions",
			Model:             "default-model",
			TimeoutSeconds:    600,
			RetryAttempts:     3,
			RetryDelaySeconds: 1.0,
		},
		Execution: Execution{
			Workers:                3,
			SequentialDelaySeconds: 1.0,
		},
		Results: Results{
			Dir: "test_results",
		},
	}
}

// Load reads a YAML config file. A missing file is not an error: the
// defaults apply. An unreadable or invalid file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.API.Endpoint == "" {
		return fmt.Errorf("api.endpoint is required")
	}
	if cfg.API.Model == "" {
		return fmt.Errorf("api.model is required")
	}
	if cfg.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be positive")
	}
	if cfg.API.RetryAttempts < 0 {
		return fmt.Errorf("api.retry_attempts must not be negative")
	}
	if cfg.Execution.Workers < 1 {
		return fmt.Errorf("execution.workers must be at least 1")
	}
	if cfg.Results.Dir == "" {
		return fmt.Errorf("results.dir is required")
	}
	return nil
}

// APIConfig derives the per-run endpoint configuration. The boolean
// reports whether the API style was recognized from the endpoint path;
// callers should warn when it was assumed.
func (c *Config) APIConfig() (*api.Config, bool) {
	style, known := api.DetectStyle(c.API.Endpoint)
	return &api.Config{
		Endpoint:      c.API.Endpoint,
		Model:         c.API.Model,
		Headers:       c.API.Headers,
		Timeout:       time.Duration(c.API.TimeoutSeconds) * time.Second,
		RetryAttempts: c.API.RetryAttempts,
		RetryDelay:    time.Duration(c.API.RetryDelaySeconds * float64(time.Second)),
		Style:         style,
	}, known
}

// SequentialDelay converts the configured inter-test delay.
func (c *Config) SequentialDelay() time.Duration {
	return time.Duration(c.Execution.SequentialDelaySeconds * float64(time.Second))
}
