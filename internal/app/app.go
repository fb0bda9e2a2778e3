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

// Package app wires configuration, logging, the shared TPM connection and
// health checks together for the command line and the status server.
package app

import (
	"fmt"
	"sync/atomic"

	"github.com/jeremyhahn/go-tpmsecret/internal/config"
	"github.com/jeremyhahn/go-tpmsecret/pkg/health"
	"github.com/jeremyhahn/go-tpmsecret/pkg/logging"
	"github.com/jeremyhahn/go-tpmsecret/pkg/securedvalue"
	"github.com/jeremyhahn/go-tpmsecret/pkg/status"
	"github.com/jeremyhahn/go-tpmsecret/pkg/tpm2"
)

var current atomic.Pointer[tpm2.Shared]

// Current returns the process-wide TPM connection, or nil before an App
// with the TPM enabled has been created.
func Current() *tpm2.Shared {
	return current.Load()
}

// SetCurrent replaces the process-wide connection and returns the previous
// one. The caller owns the returned connection.
func SetCurrent(shared *tpm2.Shared) *tpm2.Shared {
	return current.Swap(shared)
}

// App owns the resources of one tpmsecret process.
type App struct {
	Config *config.Config
	Logger *logging.Logger
	Health *health.Checker

	shared *tpm2.Shared
}

// New configures logging and secured value defaults and, when the TPM is
// enabled, opens the shared connection and publishes it as Current.
func New(cfg *config.Config) (*App, error) {
	logger := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err := securedvalue.SetDefaultTimeouts(cfg.SecuredValue.EncryptTimeout, cfg.SecuredValue.RecryptTimeout); err != nil {
		return nil, err
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		Health: health.NewChecker(),
	}

	if params := cfg.TPMParams(); params != nil {
		params.Logger = logger.With("component", "tpm")
		shared, err := tpm2.OpenShared(params)
		if err != nil {
			return nil, fmt.Errorf("failed to open TPM: %w", err)
		}
		a.shared = shared
		if prev := SetCurrent(shared); prev != nil {
			_ = prev.Close()
		}
		a.Health.RegisterCheck("tpm", health.DeviceCheck(shared))
	} else {
		logger.Warn("TPM disabled; secured values are protected in software only")
		a.Health.RegisterCheck("tpm", health.DeviceCheck(nil))
	}
	a.Health.RegisterCheck("secured_values", health.ValuesCheck(securedvalue.Count, securedvalue.Failures))
	return a, nil
}

// Shared returns the TPM connection, or nil when the TPM is disabled.
func (a *App) Shared() *tpm2.Shared {
	return a.shared
}

// Device returns the connection as a status device. It is nil, not a nil
// pointer, when the TPM is disabled.
func (a *App) Device() status.Device {
	if a.shared == nil {
		return nil
	}
	return a.shared
}

// ValueOptions returns the options every secured value created by the
// process uses.
func (a *App) ValueOptions(opts ...securedvalue.Option) []securedvalue.Option {
	base := []securedvalue.Option{securedvalue.WithLogger(a.Logger.With("component", "securedvalue"))}
	if a.shared != nil {
		base = append(base, securedvalue.WithHardware(a.shared))
	}
	if a.Config.SecuredValue.RequireHardware {
		base = append(base, securedvalue.WithRequireHardware())
	}
	return append(base, opts...)
}

// Close disconnects the TPM and clears Current if it is ours.
func (a *App) Close() error {
	if a.shared == nil {
		return nil
	}
	current.CompareAndSwap(a.shared, nil)
	return a.shared.Close()
}
