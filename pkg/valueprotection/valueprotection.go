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

// Package valueprotection encrypts values for storage under a key bound to
// the current process or to the machine, optionally passed through a TPM
// HMAC so the stored value can only be opened on the same device.
package valueprotection

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-tpmsecret/pkg/crypto/symmetric"
	"github.com/jeremyhahn/go-tpmsecret/pkg/secret"
	"golang.org/x/crypto/hkdf"
)

// Scope selects the lifetime of the protection key.
type Scope int

const (
	// ScopeProcess keys are random and die with the process.
	ScopeProcess Scope = iota
	// ScopeSystem keys are derived from the machine identity and survive
	// restarts.
	ScopeSystem
)

// KeyLength is the length of a scope key.
const KeyLength = 64

const systemKeyInfo = "go-tpmsecret/valueprotection/system/v1"

var (
	ErrInvalidScope = errors.New("valueprotection: invalid scope")
	ErrNoMachineID  = errors.New("valueprotection: no machine identity available")
)

func (s Scope) String() string {
	switch s {
	case ScopeProcess:
		return "process"
	case ScopeSystem:
		return "system"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// ParseScope maps "process" or "system" to a Scope.
func ParseScope(name string) (Scope, error) {
	switch strings.ToLower(name) {
	case "", "process":
		return ScopeProcess, nil
	case "system", "device", "machine":
		return ScopeSystem, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidScope, name)
	}
}

// Engine computes device-bound HMACs.
type Engine interface {
	HMAC(ctx context.Context, data, key []byte) ([]byte, error)
}

// machineIDFiles are read in order; the hostname is the last resort.
var machineIDFiles = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

var (
	processKeyOnce sync.Once
	processKey     *secret.Buffer
	processKeyErr  error
)

// ScopeKey returns a copy of the key for scope. The caller should wipe it.
func ScopeKey(scope Scope) ([]byte, error) {
	switch scope {
	case ScopeProcess:
		processKeyOnce.Do(func() {
			key := secret.Alloc(KeyLength)
			if _, err := io.ReadFull(rand.Reader, key.Bytes()); err != nil {
				processKeyErr = fmt.Errorf("valueprotection: process key: %w", err)
				return
			}
			processKey = key
		})
		if processKeyErr != nil {
			return nil, processKeyErr
		}
		return processKey.Copy(), nil
	case ScopeSystem:
		return systemKey()
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidScope, int(scope))
	}
}

func systemKey() ([]byte, error) {
	id, err := machineID()
	if err != nil {
		return nil, err
	}
	defer secret.Zero(id)

	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(hkdf.New(sha512.New, id, nil, []byte(systemKeyInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}

func machineID() ([]byte, error) {
	for _, path := range machineIDFiles {
		b, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(b)); id != "" {
			return []byte(id), nil
		}
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return nil, ErrNoMachineID
	}
	return []byte(host), nil
}

// Protect encrypts value under the scope key. With an engine the key is
// first replaced by its TPM HMAC.
func Protect(ctx context.Context, engine Engine, value []byte, scope Scope) ([]byte, error) {
	key, err := protectionKey(ctx, engine, scope)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()
	return symmetric.Encrypt(key.Bytes(), value)
}

// Unprotect reverses Protect with the same engine and scope.
func Unprotect(ctx context.Context, engine Engine, protected []byte, scope Scope) ([]byte, error) {
	key, err := protectionKey(ctx, engine, scope)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()
	return symmetric.Decrypt(key.Bytes(), protected)
}

func protectionKey(ctx context.Context, engine Engine, scope Scope) (*secret.Buffer, error) {
	raw, err := ScopeKey(scope)
	if err != nil {
		return nil, err
	}
	key := secret.Take(raw)
	if engine == nil {
		return key, nil
	}
	defer key.Wipe()

	bound, err := engine.HMAC(ctx, key.Bytes(), nil)
	if err != nil {
		return nil, err
	}
	return secret.Take(bound), nil
}
