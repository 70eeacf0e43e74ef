package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Queue backends accepted by Config.Queue.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// Config holds every tunable of the scanner and the API service.
type Config struct {
	Ranges      []string      `yaml:"ranges"`
	Workers     int           `yaml:"workers"`
	Port        int           `yaml:"port"`
	Path        string        `yaml:"path"`
	Timeout     time.Duration `yaml:"timeout"`
	Output      string        `yaml:"output"`
	Rate        float64       `yaml:"rate"`
	MaxHosts    int64         `yaml:"max_hosts"`
	Queue       string        `yaml:"queue"`
	SynPrecheck bool          `yaml:"syn_precheck"`
	LogLevel    string        `yaml:"log_level"`

	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`

	API struct {
		Listen      string        `yaml:"listen"`
		Key         string        `yaml:"key"`
		RateLimit   int64         `yaml:"rate_limit"`
		RateWindow  time.Duration `yaml:"rate_window"`
		TaskWorkers int           `yaml:"task_workers"`
	} `yaml:"api"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	cfg := &Config{
		Workers:  500,
		Port:     3000,
		Path:     "/api/sessions?all=true",
		Timeout:  2 * time.Second,
		Output:   "found_servers.txt",
		MaxHosts: 1 << 20,
		Queue:    QueueMemory,
		LogLevel: "info",
	}
	cfg.Redis.Addr = "localhost:6379"
	cfg.API.Listen = ":8080"
	cfg.API.RateLimit = 60
	cfg.API.RateWindow = time.Minute
	cfg.API.TaskWorkers = 2
	return cfg
}

// Load builds a Config from defaults, the optional YAML file at path,
// any .env file in the working directory and the process environment.
// An empty path skips the YAML step.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error
	if c.Workers, err = envInt("SCAN_WORKERS", c.Workers); err != nil {
		return err
	}
	if c.Port, err = envInt("SCAN_PORT", c.Port); err != nil {
		return err
	}
	if c.Timeout, err = envDuration("SCAN_TIMEOUT", c.Timeout); err != nil {
		return err
	}
	if c.Rate, err = envFloat("SCAN_RATE", c.Rate); err != nil {
		return err
	}
	if c.MaxHosts, err = envInt64("SCAN_MAX_HOSTS", c.MaxHosts); err != nil {
		return err
	}
	if c.SynPrecheck, err = envBool("SCAN_SYN_PRECHECK", c.SynPrecheck); err != nil {
		return err
	}
	if c.API.RateLimit, err = envInt64("API_RATE_LIMIT", c.API.RateLimit); err != nil {
		return err
	}
	if c.API.RateWindow, err = envDuration("API_RATE_WINDOW", c.API.RateWindow); err != nil {
		return err
	}
	if c.API.TaskWorkers, err = envInt("API_WORKERS", c.API.TaskWorkers); err != nil {
		return err
	}

	c.Path = getenv("SCAN_PATH", c.Path)
	c.Output = getenv("SCAN_OUTPUT", c.Output)
	c.Queue = getenv("SCAN_QUEUE", c.Queue)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.Redis.Addr = getenv("REDIS_ADDR", c.Redis.Addr)
	c.API.Listen = getenv("LISTEN_ADDR", c.API.Listen)
	c.API.Key = getenv("API_KEY", c.API.Key)
	return nil
}

// Validate rejects parameters the scanner cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be within 1-65535, got %d", c.Port))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, fmt.Errorf("path must start with /, got %q", c.Path))
	}
	if c.MaxHosts < 1 {
		errs = append(errs, fmt.Errorf("max_hosts must be at least 1, got %d", c.MaxHosts))
	}
	if c.Rate < 0 {
		errs = append(errs, fmt.Errorf("rate must not be negative, got %v", c.Rate))
	}
	switch c.Queue {
	case QueueMemory, QueueRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown queue %q (use memory or redis)", c.Queue))
	}
	return errors.Join(errs...)
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s is not a number: %s", key, raw)
	}
	return v, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s is not a number: %s", key, raw)
	}
	return v, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s is not a number: %s", key, raw)
	}
	return v, nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s is not a boolean: %s", key, raw)
	}
	return v, nil
}

// envDuration accepts Go durations ("1500ms") or plain seconds ("2").
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s is not a duration: %s", key, raw)
	}
	return d, nil
}
