package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/0xPuncker/flow-scheduler/internal/store"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Store     store.Config    `json:"store" yaml:"store"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Dispatch  DispatchConfig  `json:"dispatch" yaml:"dispatch"`
}

type ServerConfig struct {
	Port         string `json:"port" yaml:"port"`
	ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
}

type SchedulerConfig struct {
	// Timezone is an IANA name. Empty means the process local zone.
	Timezone       string `json:"timezone" yaml:"timezone"`
	ResyncInterval string `json:"resync_interval" yaml:"resync_interval"`
	HistoryTTL     string `json:"history_ttl" yaml:"history_ttl"`
}

type DispatchConfig struct {
	Timeout    string                  `json:"timeout" yaml:"timeout"`
	RatePerSec float64                 `json:"rate_per_sec" yaml:"rate_per_sec"`
	Engines    map[string]EngineConfig `json:"engines" yaml:"engines"`
}

type EngineConfig struct {
	BaseURL     string `json:"base_url" yaml:"base_url"`
	TriggerPath string `json:"trigger_path" yaml:"trigger_path"`
	APIKey      string `json:"api_key" yaml:"api_key"`
	AuthHeader  string `json:"auth_header" yaml:"auth_header"`
}

// Load reads the config file at configPath. YAML is used for .yaml/.yml
// files and JSON otherwise. When the file is missing the configuration comes
// from .env, .env.local and the process environment. Environment overrides
// and defaults are applied in both cases.
func Load(configPath string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := decode(configPath, data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
		if err := godotenv.Load(); err != nil {
			if err := godotenv.Load(".env.local"); err != nil {
				fmt.Printf("No .env or .env.local file found. Using environment variables.\n")
			}
		}
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config.applyEnv()
	config.applyDefaults()

	if _, err := config.Location(); err != nil {
		return nil, err
	}
	return &config, nil
}

func DefaultConfig() *Config {
	config := &Config{}
	config.applyDefaults()
	return config
}

func decode(path string, data []byte, config *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	default:
		return json.Unmarshal(data, config)
	}
}

func (c *Config) applyEnv() {
	setFromEnv(&c.Server.Port, "PORT")
	setFromEnv(&c.LogLevel, "LOG_LEVEL")
	setFromEnv(&c.Store.Driver, "STORE_DRIVER")
	setFromEnv(&c.Store.Path, "CRON_JOBS_FILE")
	setFromEnv(&c.Scheduler.Timezone, "SCHEDULER_TIMEZONE")

	for _, engine := range []struct {
		name   string
		prefix string
	}{
		{"n8n", "N8N"},
		{"langflow", "LANGFLOW"},
	} {
		ec := c.Dispatch.Engines[engine.name]
		changed := setFromEnv(&ec.BaseURL, engine.prefix+"_BASE_URL")
		changed = setFromEnv(&ec.APIKey, engine.prefix+"_API_KEY") || changed
		if !changed {
			continue
		}
		if c.Dispatch.Engines == nil {
			c.Dispatch.Engines = make(map[string]EngineConfig)
		}
		c.Dispatch.Engines[engine.name] = ec
	}
}

func (c *Config) applyDefaults() {
	setDefault(&c.Server.Port, "8080")
	setDefault(&c.Server.ReadTimeout, "15s")
	setDefault(&c.Server.WriteTimeout, "15s")
	setDefault(&c.LogLevel, "info")
	setDefault(&c.Store.Driver, "file")
	if c.Store.Path == "" && c.Store.Driver == "file" {
		c.Store.Path = store.DefaultPath
	}
	setDefault(&c.Scheduler.ResyncInterval, "30s")
	setDefault(&c.Scheduler.HistoryTTL, "24h")
	setDefault(&c.Dispatch.Timeout, "5s")
	if c.Dispatch.RatePerSec <= 0 {
		c.Dispatch.RatePerSec = 5
	}
}

// Location resolves the scheduler timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone %q: %w", c.Scheduler.Timezone, err)
	}
	return loc, nil
}

// Duration parses one of the string durations of the config, returning
// fallback when value is empty or malformed.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func setFromEnv(target *string, key string) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		*target = value
		return true
	}
	return false
}

func setDefault(target *string, fallback string) {
	if *target == "" {
		*target = fallback
	}
}
