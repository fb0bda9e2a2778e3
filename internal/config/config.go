// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-tpmsecret.
//
// go-tpmsecret is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jeremyhahn/go-tpmsecret/pkg/securedvalue"
	"github.com/jeremyhahn/go-tpmsecret/pkg/tpm2"
	"gopkg.in/yaml.v3"
)

// Config represents the complete tpmsecret configuration
type Config struct {
	TPM          TPMConfig          `yaml:"tpm"`
	SecuredValue SecuredValueConfig `yaml:"secured_value"`
	Logging      LoggingConfig      `yaml:"logging"`
	Server       ServerConfig       `yaml:"server"`
}

// TPMConfig selects the device. When disabled, values are protected in
// software only.
type TPMConfig struct {
	Enabled     bool `yaml:"enabled"`
	tpm2.Config `yaml:",inline"`
}

// SecuredValueConfig sets the package-wide secured value defaults
type SecuredValueConfig struct {
	EncryptTimeout  time.Duration `yaml:"encrypt_timeout"`
	RecryptTimeout  time.Duration `yaml:"recrypt_timeout"`
	RequireHardware bool          `yaml:"require_hardware"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig controls the status server started by "tpmsecret serve"
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	StatusPath      string        `yaml:"status_path"`
	HealthPath      string        `yaml:"health_path"`
	MetricsPath     string        `yaml:"metrics_path"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	tpmConfig := tpm2.DefaultConfig()
	return &Config{
		TPM: TPMConfig{
			Enabled: true,
			Config:  *tpmConfig,
		},
		SecuredValue: SecuredValueConfig{
			EncryptTimeout: securedvalue.DefaultEncryptTimeout,
			RecryptTimeout: securedvalue.DefaultRecryptTimeout,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Listen:          "127.0.0.1:8420",
			StatusPath:      "/status",
			HealthPath:      "/health",
			MetricsPath:     "/metrics",
			MetricsEnabled:  true,
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load reads a YAML file over the defaults, applies environment overrides
// and validates the result. An empty path loads only defaults and
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		// #nosec G304 - Config file path is provided by admin/user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if device := os.Getenv("TPM_DEVICE_PATH"); device != "" {
		cfg.TPM.Device = device
	}
	if host := os.Getenv("TPM_SIMULATOR_HOST"); host != "" {
		cfg.TPM.UseSimulator = true
		cfg.TPM.SimulatorType = tpm2.SimulatorSWTPM
		cfg.TPM.SimulatorHost = host
	}
	if simPort := os.Getenv("TPM_SIMULATOR_PORT"); simPort != "" {
		port, err := strconv.Atoi(simPort)
		if err != nil {
			log.Printf("Warning: invalid TPM_SIMULATOR_PORT value %q, using default %d: %v",
				simPort, cfg.TPM.SimulatorPort, err)
		} else if port < 1 || port > 65534 {
			log.Printf("Warning: invalid TPM_SIMULATOR_PORT value %q (out of range 1-65534), using default %d",
				simPort, cfg.TPM.SimulatorPort)
		} else {
			cfg.TPM.SimulatorPort = port
		}
	}

	if level := os.Getenv("TPMSECRET_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("TPMSECRET_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if listen := os.Getenv("TPMSECRET_LISTEN"); listen != "" {
		cfg.Server.Listen = listen
	}
}

// Validate checks the configuration and fills TPM defaults
func (c *Config) Validate() error {
	if c.TPM.Enabled {
		if err := c.TPM.Config.Validate(); err != nil {
			return err
		}
	} else if c.SecuredValue.RequireHardware {
		return fmt.Errorf("secured_value.require_hardware needs tpm.enabled")
	}

	if c.SecuredValue.EncryptTimeout < 0 {
		return fmt.Errorf("invalid encrypt_timeout: %s", c.SecuredValue.EncryptTimeout)
	}
	if c.SecuredValue.RecryptTimeout < 0 {
		return fmt.Errorf("invalid recrypt_timeout: %s", c.SecuredValue.RecryptTimeout)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", c.Logging.Level)
	}
	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Server.Listen == "" {
		return fmt.Errorf("server listen address must be specified")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown_timeout: %s", c.Server.ShutdownTimeout)
	}
	for name, path := range map[string]string{
		"status_path":  c.Server.StatusPath,
		"health_path":  c.Server.HealthPath,
		"metrics_path": c.Server.MetricsPath,
	} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("server %s must start with /: %q", name, path)
		}
	}
	return nil
}

// TPMParams returns the parameters for opening the configured device, or
// nil when the TPM is disabled.
func (c *Config) TPMParams() *tpm2.Params {
	if !c.TPM.Enabled {
		return nil
	}
	tpmConfig := c.TPM.Config
	return &tpm2.Params{Config: &tpmConfig}
}
