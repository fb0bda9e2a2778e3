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

package tpm2

import (
	"crypto"
	"fmt"
	"strings"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/jeremyhahn/go-tpmsecret/pkg/logging"
)

const (
	// SimulatorEmbedded is the in-process go-tpm-tools simulator.
	SimulatorEmbedded = "embedded"
	// SimulatorSWTPM is a TCP simulator (swtpm or the Microsoft mssim).
	SimulatorSWTPM = "swtpm"

	DefaultDevice                = "/dev/tpm0"
	DefaultResourceManagerDevice = "/dev/tpmrm0"
	DefaultSimulatorHost         = "127.0.0.1"
	DefaultSimulatorPort         = 2321
	DefaultSimulatorSeed         = 1234567890

	// DigestBufferSize is the chunk size used when streaming data into an
	// HMAC sequence.
	DigestBufferSize = 1024
)

// Config describes how to reach the TPM and which hierarchy to derive keys
// under.
type Config struct {
	// Device is the TPM character device or a resource manager unix socket
	// (paths ending in .sock). Defaults to /dev/tpmrm0 when
	// HasResourceManager is set, /dev/tpm0 otherwise.
	Device string `json:"device,omitempty" yaml:"device,omitempty"`

	// HasResourceManager selects the kernel resource manager device.
	HasResourceManager bool `json:"has_resource_manager" yaml:"has_resource_manager"`

	// UseSimulator connects to a simulator instead of hardware.
	UseSimulator bool `json:"use_simulator" yaml:"use_simulator"`

	// SimulatorType is "embedded" or "swtpm".
	SimulatorType string `json:"simulator_type,omitempty" yaml:"simulator_type,omitempty"`

	// SimulatorHost and SimulatorPort address a swtpm command port; the
	// platform port is SimulatorPort+1.
	SimulatorHost string `json:"simulator_host,omitempty" yaml:"simulator_host,omitempty"`
	SimulatorPort int    `json:"simulator_port,omitempty" yaml:"simulator_port,omitempty"`

	// SimulatorSeed seeds the embedded simulator.
	SimulatorSeed int64 `json:"simulator_seed,omitempty" yaml:"simulator_seed,omitempty"`

	// Hierarchy is owner (default), endorsement, platform or null.
	Hierarchy string `json:"hierarchy,omitempty" yaml:"hierarchy,omitempty"`

	// HierarchyAuth is the hierarchy password, if one is set.
	HierarchyAuth string `json:"-" yaml:"hierarchy_auth,omitempty"`

	// Algorithm forces the HMAC digest (sha1, sha256, sha384, sha512)
	// instead of selecting the strongest one the TPM supports.
	Algorithm string `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`

	// EncryptSession enables AES-128 CFB encryption of command parameters
	// on the HMAC authorization session.
	EncryptSession bool `json:"encrypt_session" yaml:"encrypt_session"`
}

// Params are the arguments to Open, NewEngine and OpenShared.
type Params struct {
	Config *Config
	Logger *logging.Logger

	// Transport overrides device selection. The handle takes ownership and
	// closes it.
	Transport transport.TPMCloser

	// Initializer runs once after the connection is established.
	Initializer func(h *Handle) error
}

// DefaultConfig returns a configuration for the local hardware TPM.
func DefaultConfig() *Config {
	return &Config{
		HasResourceManager: true,
		SimulatorType:      SimulatorEmbedded,
		SimulatorHost:      DefaultSimulatorHost,
		SimulatorPort:      DefaultSimulatorPort,
		SimulatorSeed:      DefaultSimulatorSeed,
		Hierarchy:          "owner",
	}
}

// SimulatorConfig returns a configuration for the embedded simulator.
func SimulatorConfig() *Config {
	config := DefaultConfig()
	config.UseSimulator = true
	return config
}

// Validate checks the configuration and fills unset fields with defaults.
func (c *Config) Validate() error {
	if c.UseSimulator {
		if c.SimulatorType == "" {
			c.SimulatorType = SimulatorEmbedded
		}
		switch c.SimulatorType {
		case SimulatorEmbedded:
			if c.SimulatorSeed == 0 {
				c.SimulatorSeed = DefaultSimulatorSeed
			}
		case SimulatorSWTPM:
			if c.SimulatorHost == "" {
				c.SimulatorHost = DefaultSimulatorHost
			}
			if c.SimulatorPort == 0 {
				c.SimulatorPort = DefaultSimulatorPort
			}
			if c.SimulatorPort < 1 || c.SimulatorPort > 65534 {
				return fmt.Errorf("%w: simulator port %d", ErrInvalidConfig, c.SimulatorPort)
			}
		default:
			return fmt.Errorf("%w: simulator type %q", ErrInvalidConfig, c.SimulatorType)
		}
	}
	if _, err := c.hierarchyHandle(); err != nil {
		return err
	}
	if c.Algorithm != "" {
		if _, err := ParseHash(c.Algorithm); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

// DevicePath returns the device the handle opens when not simulating.
func (c *Config) DevicePath() string {
	if c.Device != "" {
		return c.Device
	}
	if c.HasResourceManager {
		return DefaultResourceManagerDevice
	}
	return DefaultDevice
}

func (c *Config) hierarchyHandle() (tpm2.TPMHandle, error) {
	switch strings.ToLower(c.Hierarchy) {
	case "", "owner":
		return tpm2.TPMRHOwner, nil
	case "endorsement":
		return tpm2.TPMRHEndorsement, nil
	case "platform":
		return tpm2.TPMRHPlatform, nil
	case "null":
		return tpm2.TPMRHNull, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidHierarchy, c.Hierarchy)
	}
}

// ParseHash maps an algorithm name (sha256, SHA-384, ...) to a digest.
func ParseHash(name string) (crypto.Hash, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "-", "")) {
	case "sha1":
		return crypto.SHA1, nil
	case "sha256":
		return crypto.SHA256, nil
	case "sha384":
		return crypto.SHA384, nil
	case "sha512":
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, name)
	}
}
