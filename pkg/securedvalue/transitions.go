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
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jeremyhahn/go-tpmsecret/pkg/crypto/symmetric"
	"github.com/jeremyhahn/go-tpmsecret/pkg/gate"
	"github.com/jeremyhahn/go-tpmsecret/pkg/metrics"
	"github.com/jeremyhahn/go-tpmsecret/pkg/secret"
)

// encryptLocked moves Decrypted to Encrypted. Without a plaintext it does
// nothing.
func (sv *SecuredValue) encryptLocked(ctx context.Context) (err error) {
	if sv.raw == nil {
		return nil
	}
	start := time.Now()
	defer func() {
		metrics.RecordTransition(metrics.TransitionEncrypt, time.Since(start), err)
	}()

	sv.stopEncryptLocked()
	if err := sv.sealLocked(ctx, sv.raw); err != nil {
		return err
	}
	sv.raw.Wipe()
	sv.raw = nil
	sv.encryptedSince = time.Now()
	sv.logger.Debug("securedvalue: encrypted")
	return nil
}

// decryptLocked moves Encrypted to Decrypted and arms the encrypt timer.
func (sv *SecuredValue) decryptLocked(ctx context.Context) (err error) {
	if sv.encrypted == nil {
		return nil
	}
	start := time.Now()
	defer func() {
		metrics.RecordTransition(metrics.TransitionDecrypt, time.Since(start), err)
	}()

	plain, err := sv.openLocked(ctx)
	if err != nil {
		return err
	}
	sv.stopRecryptLocked()
	sv.discardEncryptedLocked()
	sv.raw = plain
	sv.armEncryptLocked()
	sv.logger.Debug("securedvalue: decrypted")
	return nil
}

// recryptLocked re-encrypts under a new ephemeral key. While Decrypted it
// does nothing.
func (sv *SecuredValue) recryptLocked(ctx context.Context) (err error) {
	if sv.raw != nil || sv.encrypted == nil {
		return nil
	}
	start := time.Now()
	defer func() {
		metrics.RecordTransition(metrics.TransitionRecrypt, time.Since(start), err)
	}()

	plain, err := sv.openLocked(ctx)
	if err != nil {
		return err
	}
	defer plain.Wipe()
	if err := sv.sealLocked(ctx, plain); err != nil {
		return err
	}
	sv.logger.Debug("securedvalue: re-keyed")
	return nil
}

// sealLocked encrypts plain under a fresh ephemeral key and replaces the
// stored ciphertext and key. State is unchanged on error.
func (sv *SecuredValue) sealLocked(ctx context.Context, plain *secret.Buffer) error {
	key := secret.Alloc(EphemeralKeyLength)
	if _, err := io.ReadFull(sv.random, key.Bytes()); err != nil {
		key.Wipe()
		return fmt.Errorf("ephemeral key: %w", err)
	}
	wrap, err := sv.wrappingKey(ctx, key)
	if err != nil {
		key.Wipe()
		return err
	}
	defer wrap.Wipe()

	ciphertext, err := symmetric.EncryptWithRandom(sv.random, wrap.Bytes(), plain.Bytes())
	if err != nil {
		key.Wipe()
		return err
	}

	secret.Zero(sv.encrypted)
	sv.key.Wipe()
	sv.encrypted = ciphertext
	sv.key = key
	sv.armRecryptLocked()
	return nil
}

// openLocked decrypts the stored ciphertext without changing state.
func (sv *SecuredValue) openLocked(ctx context.Context) (*secret.Buffer, error) {
	if sv.encrypted == nil || sv.key == nil {
		panic("securedvalue: encrypted state without ciphertext or key")
	}
	wrap, err := sv.wrappingKey(ctx, sv.key)
	if err != nil {
		return nil, err
	}
	defer wrap.Wipe()

	plain, err := symmetric.Decrypt(wrap.Bytes(), sv.encrypted)
	if err != nil {
		return nil, err
	}
	return secret.Take(plain), nil
}

// wrappingKey is the TPM HMAC of the ephemeral key when hardware bound and
// a copy of it otherwise.
func (sv *SecuredValue) wrappingKey(ctx context.Context, key *secret.Buffer) (*secret.Buffer, error) {
	if sv.engine == nil {
		return secret.New(key.Bytes()), nil
	}
	wrap, err := sv.engine.HMAC(ctx, key.Bytes(), nil)
	if err != nil {
		return nil, err
	}
	return secret.Take(wrap), nil
}

// transitionFailedLocked handles a failed transition. Cancellation and
// gate timeouts leave the value intact; anything else means the
// cryptographic state can no longer be trusted, so the value is wiped and
// poisoned.
func (sv *SecuredValue) transitionFailedLocked(transition string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, gate.ErrTimeout) {
		return err
	}
	sv.failure = fmt.Errorf("%w: %s: %w", ErrProtection, transition, err)
	sv.logger.Error(sv.failure)
	failures.Add(1)
	sv.disposeLocked()
	return sv.failure
}

func (sv *SecuredValue) armEncryptLocked() {
	sv.stopEncryptLocked()
	if sv.encryptTimeout <= 0 || sv.closed {
		return
	}
	sv.encryptGen++
	gen := sv.encryptGen
	sv.encryptDeadline = time.Now().Add(sv.encryptTimeout)
	sv.encryptTimer = time.AfterFunc(sv.encryptTimeout, func() { sv.onEncryptTimer(gen) })
}

func (sv *SecuredValue) stopEncryptLocked() {
	if sv.encryptTimer != nil {
		sv.encryptTimer.Stop()
		sv.encryptTimer = nil
	}
	sv.encryptDeadline = time.Time{}
	sv.encryptGen++
}

func (sv *SecuredValue) armRecryptLocked() {
	sv.stopRecryptLocked()
	if sv.recryptTimeout <= 0 || sv.closed {
		return
	}
	sv.recryptGen++
	gen := sv.recryptGen
	sv.recryptTimer = time.AfterFunc(sv.recryptTimeout, func() { sv.onRecryptTimer(gen) })
}

func (sv *SecuredValue) stopRecryptLocked() {
	if sv.recryptTimer != nil {
		sv.recryptTimer.Stop()
		sv.recryptTimer = nil
	}
	sv.recryptGen++
}

// onEncryptTimer runs on the timer goroutine. A firing that lost the race
// against a later access or re-arm sees a newer generation and returns.
func (sv *SecuredValue) onEncryptTimer(gen uint64) {
	sv.lock()
	defer sv.gate.Leave()
	if sv.closed || gen != sv.encryptGen {
		return
	}
	sv.encryptTimer = nil
	if err := sv.encryptLocked(context.Background()); err != nil {
		_ = sv.transitionFailedLocked(metrics.TransitionEncrypt, err)
	}
}

func (sv *SecuredValue) onRecryptTimer(gen uint64) {
	sv.lock()
	defer sv.gate.Leave()
	if sv.closed || gen != sv.recryptGen {
		return
	}
	sv.recryptTimer = nil
	if err := sv.recryptLocked(context.Background()); err != nil {
		_ = sv.transitionFailedLocked(metrics.TransitionRecrypt, err)
	}
}
