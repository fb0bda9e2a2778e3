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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeremyhahn/go-tpmsecret/pkg/tpm2"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// TestLoad_Success tests successful loading of a valid config file
func TestLoad_Success(t *testing.T) {
	path := writeConfig(t, `
tpm:
  enabled: true
  use_simulator: true
  simulator_type: swtpm
  simulator_host: 10.0.0.5
  simulator_port: 2421
  hierarchy: endorsement
  algorithm: sha384

secured_value:
  encrypt_timeout: 0s
  recrypt_timeout: 30s
  require_hardware: true

logging:
  level: debug
  format: json

server:
  listen: ":9000"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.TPM.UseSimulator || cfg.TPM.SimulatorType != tpm2.SimulatorSWTPM {
		t.Errorf("expected swtpm simulator, got %+v", cfg.TPM.Config)
	}
	if cfg.TPM.SimulatorHost != "10.0.0.5" || cfg.TPM.SimulatorPort != 2421 {
		t.Errorf("unexpected simulator address %s:%d", cfg.TPM.SimulatorHost, cfg.TPM.SimulatorPort)
	}
	if cfg.TPM.Hierarchy != "endorsement" || cfg.TPM.Algorithm != "sha384" {
		t.Errorf("unexpected tpm settings %+v", cfg.TPM.Config)
	}
	if cfg.SecuredValue.EncryptTimeout != 0 {
		t.Errorf("expected zero encrypt timeout, got %s", cfg.SecuredValue.EncryptTimeout)
	}
	if cfg.SecuredValue.RecryptTimeout != 30*time.Second {
		t.Errorf("expected 30s recrypt timeout, got %s", cfg.SecuredValue.RecryptTimeout)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging %+v", cfg.Logging)
	}
	if cfg.Server.Listen != ":9000" {
		t.Errorf("expected listen :9000, got %s", cfg.Server.Listen)
	}
	// unset keys keep their defaults
	if cfg.Server.MetricsPath != "/metrics" {
		t.Errorf("expected default metrics path, got %s", cfg.Server.MetricsPath)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.TPM.Enabled || !cfg.TPM.HasResourceManager {
		t.Errorf("expected the resource manager device by default")
	}
	if cfg.SecuredValue.EncryptTimeout != 150*time.Millisecond {
		t.Errorf("unexpected default encrypt timeout %s", cfg.SecuredValue.EncryptTimeout)
	}
	if params := cfg.TPMParams(); params == nil || params.Config.DevicePath() != tpm2.DefaultResourceManagerDevice {
		t.Errorf("unexpected params %+v", params)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "tpm: [")); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TPM_DEVICE_PATH", "/dev/tpm1")
	t.Setenv("TPM_SIMULATOR_HOST", "sim.local")
	t.Setenv("TPM_SIMULATOR_PORT", "3000")
	t.Setenv("TPMSECRET_LOG_LEVEL", "warn")
	t.Setenv("TPMSECRET_LOG_FORMAT", "json")
	t.Setenv("TPMSECRET_LISTEN", "0.0.0.0:1234")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TPM.Device != "/dev/tpm1" {
		t.Errorf("expected device override, got %s", cfg.TPM.Device)
	}
	if !cfg.TPM.UseSimulator || cfg.TPM.SimulatorHost != "sim.local" || cfg.TPM.SimulatorPort != 3000 {
		t.Errorf("expected simulator override, got %+v", cfg.TPM.Config)
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.Format != "json" {
		t.Errorf("expected logging override, got %+v", cfg.Logging)
	}
	if cfg.Server.Listen != "0.0.0.0:1234" {
		t.Errorf("expected listen override, got %s", cfg.Server.Listen)
	}
}

func TestEnvOverrides_InvalidPortIgnored(t *testing.T) {
	t.Setenv("TPM_SIMULATOR_PORT", "not-a-port")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TPM.SimulatorPort != tpm2.DefaultSimulatorPort {
		t.Errorf("expected default port, got %d", cfg.TPM.SimulatorPort)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad hierarchy", func(c *Config) { c.TPM.Hierarchy = "galaxy" }, "hierarchy"},
		{"bad algorithm", func(c *Config) { c.TPM.Algorithm = "md5" }, "algorithm"},
		{"hardware without tpm", func(c *Config) {
			c.TPM.Enabled = false
			c.SecuredValue.RequireHardware = true
		}, "require_hardware"},
		{"negative timeout", func(c *Config) { c.SecuredValue.RecryptTimeout = -time.Second }, "recrypt_timeout"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
		{"no listen", func(c *Config) { c.Server.Listen = "" }, "listen"},
		{"relative path", func(c *Config) { c.Server.StatusPath = "status" }, "status_path"},
		{"disabled tpm ignores tpm settings", func(c *Config) {
			c.TPM.Enabled = false
			c.TPM.Hierarchy = "galaxy"
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestTPMParams_Disabled(t *testing.T) {
	cfg := Default()
	cfg.TPM.Enabled = false
	if cfg.TPMParams() != nil {
		t.Error("expected nil params when the TPM is disabled")
	}
}
