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

package securedvalue

import (
	"context"

	"github.com/jeremyhahn/go-tpmsecret/pkg/secret"
	"github.com/jeremyhahn/go-tpmsecret/pkg/valueprotection"
)

// ProcessSecret is a hardware-bound SecuredValue whose storable form can
// only be opened by the same process on the same device.
type ProcessSecret struct {
	*SecuredValue
}

// NewProcessSecret protects value with engine, which is required.
func NewProcessSecret(ctx context.Context, engine HardwareEngine, value []byte, opts ...Option) (*ProcessSecret, error) {
	if engine == nil {
		return nil, ErrHardwareRequired
	}
	sv, err := New(ctx, value, append(opts[:len(opts):len(opts)], WithHardware(engine))...)
	if err != nil {
		return nil, err
	}
	return &ProcessSecret{SecuredValue: sv}, nil
}

// ProcessSecretFromStoredValue restores a value returned by StorableValue.
func ProcessSecretFromStoredValue(ctx context.Context, engine HardwareEngine, stored []byte, opts ...Option) (*ProcessSecret, error) {
	if engine == nil {
		return nil, ErrHardwareRequired
	}
	value, err := valueprotection.Unprotect(ctx, engine, stored, valueprotection.ScopeProcess)
	if err != nil {
		return nil, err
	}
	defer secret.Zero(value)
	return NewProcessSecret(ctx, engine, value, opts...)
}

// StorableValue encrypts the current value under the TPM-bound process
// scope key.
func (p *ProcessSecret) StorableValue(ctx context.Context) ([]byte, error) {
	return storable(ctx, p.SecuredValue, p.engine, valueprotection.ScopeProcess)
}

// DeviceSecret is a hardware-bound SecuredValue whose storable form
// survives restarts on the same machine.
type DeviceSecret struct {
	*SecuredValue
	softwareStorage bool
}

// NewDeviceSecret protects value with engine, which is required. Pass
// WithSoftwareStorage to keep the storable form independent of the TPM.
func NewDeviceSecret(ctx context.Context, engine HardwareEngine, value []byte, opts ...Option) (*DeviceSecret, error) {
	if engine == nil {
		return nil, ErrHardwareRequired
	}
	opts = append(opts[:len(opts):len(opts)], WithHardware(engine))
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	sv, err := New(ctx, value, opts...)
	if err != nil {
		return nil, err
	}
	return &DeviceSecret{SecuredValue: sv, softwareStorage: o.softwareStorage}, nil
}

// DeviceSecretFromStoredValue restores a value returned by StorableValue.
// The options must select the same storage protection.
func DeviceSecretFromStoredValue(ctx context.Context, engine HardwareEngine, stored []byte, opts ...Option) (*DeviceSecret, error) {
	if engine == nil {
		return nil, ErrHardwareRequired
	}
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	value, err := valueprotection.Unprotect(ctx, storageEngine(engine, o.softwareStorage), stored, valueprotection.ScopeSystem)
	if err != nil {
		return nil, err
	}
	defer secret.Zero(value)
	return NewDeviceSecret(ctx, engine, value, opts...)
}

// StorableValue encrypts the current value under the system scope key.
func (d *DeviceSecret) StorableValue(ctx context.Context) ([]byte, error) {
	return storable(ctx, d.SecuredValue, storageEngine(d.engine, d.softwareStorage), valueprotection.ScopeSystem)
}

func storageEngine(engine HardwareEngine, software bool) valueprotection.Engine {
	if software {
		return nil
	}
	return engine
}

func storable(ctx context.Context, sv *SecuredValue, engine valueprotection.Engine, scope valueprotection.Scope) ([]byte, error) {
	value, err := sv.Get(ctx)
	if err != nil {
		return nil, err
	}
	defer secret.Zero(value)
	return valueprotection.Protect(ctx, engine, value, scope)
}
