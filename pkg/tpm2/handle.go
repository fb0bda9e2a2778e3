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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/tcp"
	"github.com/jeremyhahn/go-tpmsecret/pkg/logging"
	"github.com/jeremyhahn/go-tpmsecret/pkg/metrics"
)

// Handle is a single connection to a TPM. It is not safe for concurrent
// use; wrap it in an Engine or Shared to serialize callers.
type Handle struct {
	config        *Config
	logger        *logging.Logger
	transport     transport.TPMCloser
	hierarchy     tpm2.TPMHandle
	hierarchyAuth []byte
	forcedHash    crypto.Hash
	maxDigest     int
	closed        bool
}

// Open connects to the TPM described by params.Config.
func Open(params *Params) (h *Handle, err error) {
	if params == nil {
		params = &Params{}
	}
	if params.Config == nil {
		params.Config = DefaultConfig()
	}
	if params.Logger == nil {
		params.Logger = logging.DefaultLogger()
	}
	config := params.Config
	if err := config.Validate(); err != nil {
		return nil, err
	}
	hierarchy, err := config.hierarchyHandle()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.RecordHardwareOperation(metrics.OpConnect, time.Since(start), err)
	}()

	t := params.Transport
	if t == nil {
		t, err = connect(config, params.Logger)
		if err != nil {
			params.Logger.Error(err)
			return nil, unavailable("open", err)
		}
	}

	h = &Handle{
		config:        config,
		logger:        params.Logger,
		transport:     t,
		hierarchy:     hierarchy,
		hierarchyAuth: []byte(config.HierarchyAuth),
	}
	if config.Algorithm != "" {
		h.forcedHash, _ = ParseHash(config.Algorithm)
	}

	if params.Initializer != nil {
		if err := params.Initializer(h); err != nil {
			_ = t.Close()
			return nil, fmt.Errorf("tpm: initializer failed: %w", err)
		}
	}
	return h, nil
}

func connect(config *Config, logger *logging.Logger) (transport.TPMCloser, error) {
	if config.UseSimulator {
		switch config.SimulatorType {
		case SimulatorEmbedded:
			logger.Info("tpm: opening embedded simulator")
			return simulatorOpener(config.SimulatorSeed)
		case SimulatorSWTPM:
			return openSWTPM(config, logger)
		}
		return nil, fmt.Errorf("%w: simulator type %q", ErrInvalidConfig, config.SimulatorType)
	}

	device := config.DevicePath()
	logger.Info("tpm: opening device", slog.String("device", device))
	if strings.HasSuffix(device, ".sock") {
		return openSocket(device)
	}
	return openDevice(device)
}

// openSWTPM connects to the command and platform ports, power cycles the
// simulator and issues TPM2_Startup.
func openSWTPM(config *Config, logger *logging.Logger) (transport.TPMCloser, error) {
	cmdAddr := fmt.Sprintf("%s:%d", config.SimulatorHost, config.SimulatorPort)
	platAddr := fmt.Sprintf("%s:%d", config.SimulatorHost, config.SimulatorPort+1)
	logger.Info("tpm: connecting to simulator",
		slog.String("command", cmdAddr),
		slog.String("platform", platAddr))

	sim, err := tcp.Open(tcp.Config{
		CommandAddress:  cmdAddr,
		PlatformAddress: platAddr,
	})
	if err != nil {
		return nil, err
	}
	if err := sim.Reset(); err != nil {
		_ = sim.Close()
		return nil, fmt.Errorf("power cycle: %w", err)
	}
	if err := sim.PowerOn(); err != nil {
		_ = sim.Close()
		return nil, fmt.Errorf("power on: %w", err)
	}
	if err := startup(sim); err != nil {
		_ = sim.Close()
		return nil, err
	}
	return sim, nil
}

// startup sends TPM2_Startup(CLEAR). A TPM that is already initialized is
// not an error.
func startup(t transport.TPM) error {
	_, err := tpm2.Startup{StartupType: tpm2.TPMSUClear}.Execute(t)
	if err != nil && !errors.Is(err, tpm2.TPMRCInitialize) {
		return fmt.Errorf("startup: %w", err)
	}
	return nil
}

// Close flushes nothing (every command flushes its own transient objects)
// and disconnects. Closing twice is a no-op.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.logger.Debug("tpm: closing connection")
	if err := h.transport.Close(); err != nil {
		h.logger.Error(err)
		return err
	}
	return nil
}

// Transport returns the underlying transport for commands this package
// does not wrap. The caller must hold the handle's gate.
func (h *Handle) Transport() transport.TPM {
	return h.transport
}

// Config returns the configuration the handle was opened with.
func (h *Handle) Config() *Config {
	return h.config
}

func (h *Handle) flush(handle tpm2.TPMHandle) {
	if _, err := (tpm2.FlushContext{FlushHandle: handle}).Execute(h.transport); err != nil {
		h.logger.Warnf("tpm: failed to flush handle 0x%x: %v", uint32(handle), err)
	}
}

// Available reports whether the TPM described by params can be opened.
func Available(params *Params) bool {
	h, err := Open(params)
	if err != nil {
		return false
	}
	_ = h.Close()
	return true
}
