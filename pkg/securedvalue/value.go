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

// Package securedvalue keeps a secret in memory as plaintext only while it
// is being used.
//
// A SecuredValue is Decrypted after construction or an access and is
// encrypted again once it has not been accessed for its encrypt timeout.
// While encrypted it is re-keyed every recrypt timeout. Every encryption
// uses a fresh random ephemeral key; with a TPM engine the wrapping key is
// the TPM HMAC of that ephemeral key, so the ciphertext can only be opened
// on the same device.
//
//	sv, err := securedvalue.New(ctx, secret,
//		securedvalue.WithHardware(engine),
//		securedvalue.WithEncryptTimeout(250*time.Millisecond))
//	if err != nil {
//		return err
//	}
//	defer sv.Close()
//
//	plaintext, err := sv.Get(ctx)
package securedvalue

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jeremyhahn/go-tpmsecret/pkg/gate"
	"github.com/jeremyhahn/go-tpmsecret/pkg/logging"
	"github.com/jeremyhahn/go-tpmsecret/pkg/metrics"
	"github.com/jeremyhahn/go-tpmsecret/pkg/secret"
)

// SecuredValue is a secret byte value with automatic encryption and
// re-keying. It is safe for concurrent use.
type SecuredValue struct {
	id             string
	gate           *gate.Gate
	engine         HardwareEngine
	random         io.Reader
	logger         *logging.Logger
	encryptTimeout time.Duration
	recryptTimeout time.Duration

	// guarded by gate
	name           string
	raw            *secret.Buffer
	encrypted      []byte
	key            *secret.Buffer
	encryptTimer    *time.Timer
	recryptTimer    *time.Timer
	encryptGen      uint64
	recryptGen      uint64
	encryptDeadline time.Time
	lastAccess      time.Time
	encryptedSince  time.Time
	accessCount     int64
	closed          bool
	failure         error

	listenersMu sync.RWMutex
	listeners   []AccessFunc
}

// New protects a copy of value. The caller keeps ownership of value and
// should wipe it.
func New(ctx context.Context, value []byte, opts ...Option) (*SecuredValue, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	sv := &SecuredValue{
		id:             id,
		gate:           gate.New("secured-value"),
		engine:         o.engine,
		random:         o.random,
		logger:         o.logger.With("secured_value", id),
		encryptTimeout: o.encryptTimeout,
		recryptTimeout: o.recryptTimeout,
		name:           o.name,
		raw:            secret.New(value),
		lastAccess:     time.Now(),
		listeners:      o.onAccess,
	}

	// not yet published, so no gate is needed
	if sv.encryptTimeout == 0 {
		if err := sv.encryptLocked(ctx); err != nil {
			sv.disposeLocked()
			return nil, fmt.Errorf("%w: %s: %w", ErrProtection, metrics.TransitionEncrypt, err)
		}
	} else {
		sv.armEncryptLocked()
	}

	register(sv)
	sv.logger.Debugf("securedvalue: created (encrypt timeout %s, recrypt timeout %s, hardware %t)",
		sv.encryptTimeout, sv.recryptTimeout, sv.engine != nil)
	return sv, nil
}

// Get returns a private copy of the plaintext. The value is decrypted if
// necessary and stays decrypted until its encrypt timeout elapses without
// another access. With a zero encrypt timeout the value is re-encrypted
// under a fresh key before Get returns.
func (sv *SecuredValue) Get(ctx context.Context) ([]byte, error) {
	if err := sv.gate.Enter(ctx); err != nil {
		return nil, err
	}
	out, err := sv.readLocked(ctx)
	sv.gate.Leave()
	if err != nil {
		return nil, err
	}
	metrics.RecordRead()
	sv.notify()
	return out, nil
}

func (sv *SecuredValue) readLocked(ctx context.Context) ([]byte, error) {
	if err := sv.usableLocked(); err != nil {
		return nil, err
	}

	switch {
	case sv.raw != nil:
		sv.armEncryptLocked()
	case sv.encryptTimeout == 0:
		plain, err := sv.transientReadLocked(ctx)
		if err != nil {
			return nil, err
		}
		sv.touchLocked()
		return plain, nil
	default:
		if err := sv.decryptLocked(ctx); err != nil {
			return nil, sv.transitionFailedLocked(metrics.TransitionDecrypt, err)
		}
	}
	sv.touchLocked()
	return sv.raw.Copy(), nil
}

// transientReadLocked decrypts without leaving the Encrypted state and
// re-encrypts under a fresh ephemeral key.
func (sv *SecuredValue) transientReadLocked(ctx context.Context) ([]byte, error) {
	start := time.Now()
	plain, err := sv.openLocked(ctx)
	metrics.RecordTransition(metrics.TransitionDecrypt, time.Since(start), err)
	if err != nil {
		return nil, sv.transitionFailedLocked(metrics.TransitionDecrypt, err)
	}
	defer plain.Wipe()

	start = time.Now()
	err = sv.sealLocked(ctx, plain)
	metrics.RecordTransition(metrics.TransitionEncrypt, time.Since(start), err)
	if err != nil {
		return nil, sv.transitionFailedLocked(metrics.TransitionEncrypt, err)
	}
	sv.encryptedSince = time.Now()
	return plain.Copy(), nil
}

func (sv *SecuredValue) touchLocked() {
	sv.lastAccess = time.Now()
	sv.accessCount++
}

// Set replaces the plaintext. The previous plaintext is wiped and any
// encrypted representation is discarded. With a zero encrypt timeout the
// new value is encrypted immediately.
func (sv *SecuredValue) Set(ctx context.Context, value []byte) error {
	buf := secret.New(value)
	if err := sv.gate.Enter(ctx); err != nil {
		buf.Wipe()
		return err
	}
	defer sv.gate.Leave()

	if err := sv.usableLocked(); err != nil {
		buf.Wipe()
		return err
	}

	if sv.encryptTimeout == 0 {
		defer buf.Wipe()
		start := time.Now()
		err := sv.sealLocked(ctx, buf)
		metrics.RecordTransition(metrics.TransitionEncrypt, time.Since(start), err)
		if err != nil {
			return sv.transitionFailedLocked(metrics.TransitionEncrypt, err)
		}
		sv.encryptedSince = time.Now()
		return nil
	}

	sv.stopRecryptLocked()
	sv.discardEncryptedLocked()
	sv.raw.Wipe()
	sv.raw = buf
	sv.armEncryptLocked()
	return nil
}

// OnAccess registers fn to run after every successful read. Listeners run
// on their own goroutine; a panicking listener is logged and ignored.
func (sv *SecuredValue) OnAccess(fn AccessFunc) {
	if fn == nil {
		return
	}
	sv.listenersMu.Lock()
	sv.listeners = append(sv.listeners, fn)
	sv.listenersMu.Unlock()
}

func (sv *SecuredValue) notify() {
	sv.listenersMu.RLock()
	listeners := append([]AccessFunc(nil), sv.listeners...)
	sv.listenersMu.RUnlock()

	for _, fn := range listeners {
		go func(fn AccessFunc) {
			defer func() {
				if r := recover(); r != nil {
					sv.logger.Errorf("securedvalue: access listener panicked: %v", r)
				}
			}()
			fn(sv)
		}(fn)
	}
}

// Close wipes the plaintext, ciphertext and key and stops the timers.
// Closing twice is a no-op.
func (sv *SecuredValue) Close() error {
	if err := sv.gate.Enter(context.Background()); err != nil {
		return err
	}
	defer sv.gate.Leave()
	if !sv.closed {
		sv.disposeLocked()
		sv.logger.Debug("securedvalue: closed")
	}
	return nil
}

func (sv *SecuredValue) usableLocked() error {
	if sv.failure != nil {
		return sv.failure
	}
	if sv.closed {
		return ErrClosed
	}
	return nil
}

func (sv *SecuredValue) disposeLocked() {
	sv.closed = true
	sv.stopEncryptLocked()
	sv.stopRecryptLocked()
	sv.raw.Wipe()
	sv.raw = nil
	sv.discardEncryptedLocked()
	unregister(sv.id)
}

func (sv *SecuredValue) discardEncryptedLocked() {
	secret.Zero(sv.encrypted)
	sv.encrypted = nil
	sv.key.Wipe()
	sv.key = nil
	sv.encryptedSince = time.Time{}
}

// ID returns the process-unique identifier.
func (sv *SecuredValue) ID() string {
	return sv.id
}

// EncryptTimeout returns the inactivity period before encryption.
func (sv *SecuredValue) EncryptTimeout() time.Duration {
	return sv.encryptTimeout
}

// RecryptTimeout returns the re-keying interval.
func (sv *SecuredValue) RecryptTimeout() time.Duration {
	return sv.recryptTimeout
}

// HardwareBound reports whether wrapping keys come from a TPM.
func (sv *SecuredValue) HardwareBound() bool {
	return sv.engine != nil
}

// Name returns the optional display name.
func (sv *SecuredValue) Name() string {
	sv.lock()
	defer sv.gate.Leave()
	return sv.name
}

// SetName changes the display name shown in status reports.
func (sv *SecuredValue) SetName(name string) {
	sv.lock()
	defer sv.gate.Leave()
	sv.name = name
}

// IsEncrypted reports whether the value is currently in its encrypted form.
func (sv *SecuredValue) IsEncrypted() bool {
	sv.lock()
	defer sv.gate.Leave()
	return sv.encrypted != nil
}

// lock enters the gate for a status read; these never time out.
func (sv *SecuredValue) lock() {
	_ = sv.gate.Enter(context.Background())
}
