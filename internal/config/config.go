// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads fiuctl settings from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. FIUCTL_PORT
const EnvPrefix = "FIUCTL_"

// Config is the root configuration structure.
// Precedence, lowest first: defaults, YAML file, environment, command line.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	FIU       FIUConfig       `yaml:"fiu"`
	Logging   LoggingConfig   `yaml:"logging"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

// TransportConfig selects and configures the bus link. URL wins over Port
// when both are set.
type TransportConfig struct {
	Port        string `yaml:"port"`
	BaudRate    int    `yaml:"baud_rate"`
	DataBits    int    `yaml:"data_bits"`
	Parity      string `yaml:"parity"`
	StopBits    int    `yaml:"stop_bits"`
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
}

// FIUConfig describes the modules on the bus and driver timing
type FIUConfig struct {
	Modules           []int `yaml:"modules"`
	SharedDMM         bool  `yaml:"shared_dmm"`
	ResponseTimeoutMs int   `yaml:"response_timeout_ms"`
	PollIntervalMs    int   `yaml:"poll_interval_ms"`
}

// LoggingConfig contains log output settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text or console
	Output string `yaml:"output"` // stdout or stderr
}

// MQTTConfig controls the state-change publisher
type MQTTConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Broker        string `yaml:"broker"`
	ClientID      string `yaml:"client_id"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	TopicPrefix   string `yaml:"topic_prefix"`
	QoS           int    `yaml:"qos"`
	Retained      bool   `yaml:"retained"`
	PayloadFormat string `yaml:"payload_format"` // json or cbor
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			BaudRate: 115200,
			DataBits: 8,
			Parity:   "N",
			StopBits: 1,
		},
		FIU: FIUConfig{
			Modules:           []int{0},
			ResponseTimeoutMs: 500,
			PollIntervalMs:    2,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
			Output: "stderr",
		},
		MQTT: MQTTConfig{
			Broker:        "tcp://localhost:1883",
			ClientID:      "fiuctl",
			TopicPrefix:   "fiu",
			QoS:           1,
			PayloadFormat: "json",
		},
	}
}

// applyEnvOverrides applies FIUCTL_* environment variables
func applyEnvOverrides(cfg *Config) error {
	env := func(key string) string { return os.Getenv(EnvPrefix + key) }

	// Transport
	if v := env("PORT"); v != "" {
		cfg.Transport.Port = v
	}
	if v := env("BAUD_RATE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sBAUD_RATE: %w", EnvPrefix, err)
		}
		cfg.Transport.BaudRate = n
	}
	if v := env("URL"); v != "" {
		cfg.Transport.URL = v
	}
	if v := env("USERNAME"); v != "" {
		cfg.Transport.Username = v
	}

	// FIU
	if v := env("MODULES"); v != "" {
		modules, err := ParseModules(v)
		if err != nil {
			return fmt.Errorf("%sMODULES: %w", EnvPrefix, err)
		}
		cfg.FIU.Modules = modules
	}
	if v := env("SHARED_DMM"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sSHARED_DMM: %w", EnvPrefix, err)
		}
		cfg.FIU.SharedDMM = b
	}

	// Logging
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// MQTT
	if v := env("MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
		cfg.MQTT.Enabled = true
	}
	if v := env("MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := env("MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}

	return nil
}

// ParseModules parses a comma-separated module list such as "0,2,3"
func ParseModules(s string) ([]int, error) {
	var modules []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid module id %q", field)
		}
		modules = append(modules, n)
	}
	return modules, nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	var errs []string

	if len(c.FIU.Modules) == 0 {
		errs = append(errs, "fiu.modules must list at least one module")
	}
	for _, m := range c.FIU.Modules {
		if m < 0 || m > 7 {
			errs = append(errs, fmt.Sprintf("fiu.modules: %d is outside 0-7", m))
		}
	}
	if c.FIU.ResponseTimeoutMs <= 0 {
		errs = append(errs, "fiu.response_timeout_ms must be positive")
	}
	if c.FIU.PollIntervalMs <= 0 {
		errs = append(errs, "fiu.poll_interval_ms must be positive")
	}

	if c.Transport.BaudRate <= 0 {
		errs = append(errs, "transport.baud_rate must be positive")
	}
	if c.Transport.DataBits < 5 || c.Transport.DataBits > 8 {
		errs = append(errs, "transport.data_bits must be between 5 and 8")
	}
	if c.Transport.StopBits != 1 && c.Transport.StopBits != 2 {
		errs = append(errs, "transport.stop_bits must be 1 or 2")
	}
	switch strings.ToUpper(c.Transport.Parity) {
	case "N", "E", "O", "M", "S":
	default:
		errs = append(errs, "transport.parity must be one of N, E, O, M, S")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, "logging.format must be json, text or console")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		switch strings.ToLower(c.MQTT.PayloadFormat) {
		case "json", "cbor":
		default:
			errs = append(errs, "mqtt.payload_format must be json or cbor")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ResponseTimeout returns the driver response timeout as a Duration
func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.FIU.ResponseTimeoutMs) * time.Millisecond
}

// PollInterval returns the driver poll interval as a Duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.FIU.PollIntervalMs) * time.Millisecond
}
