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

// Package sharedsecret lets a local party and a remote key store agree on
// a secret without either side sending it.
//
// The local session derives a device-bound internal secret from a token.
// It publishes Secret(), which authenticates it to the remote store, and
// blinds the remote party's secret with ProtectRemoteSecret before the
// store keeps it. Later, a session built from the same token on the same
// device unblinds the stored value and both arrive at
// HMAC(token, key=remoteSecret) computed on the TPM.
package sharedsecret

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-tpmsecret/pkg/logging"
	"github.com/jeremyhahn/go-tpmsecret/pkg/mac"
	"github.com/jeremyhahn/go-tpmsecret/pkg/secret"
)

var (
	// ErrProtocolMisuse is returned for caller errors; no hardware command
	// is issued.
	ErrProtocolMisuse = errors.New("sharedsecret: protocol misuse")

	ErrLengthMismatch  = fmt.Errorf("%w: remote secret length does not match the internal secret", ErrProtocolMisuse)
	ErrSessionConsumed = fmt.Errorf("%w: session already consumed", ErrProtocolMisuse)
	ErrEmptyToken      = fmt.Errorf("%w: empty token", ErrProtocolMisuse)
)

// Engine computes device-bound HMACs. tpm2.Engine and tpm2.Shared satisfy
// it.
type Engine interface {
	DigestAlgorithm(ctx context.Context) (crypto.Hash, error)
	HMACWithAlgorithm(ctx context.Context, data []byte, hash crypto.Hash, key []byte) ([]byte, error)
}

// Option configures a Session.
type Option func(*Session)

// WithAlgorithm forces the HMAC digest instead of the TPM's strongest.
func WithAlgorithm(hash crypto.Hash) Option {
	return func(s *Session) {
		s.hash = hash
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// Session is a single-use shared secret derivation.
type Session struct {
	engine   Engine
	logger   *logging.Logger
	hash     crypto.Hash
	token    *secret.Buffer
	internal *secret.Buffer
	secret   *secret.Buffer

	mu       sync.Mutex
	consumed bool
}

// New derives the internal secret as the TPM HMAC of token under key (nil
// for an unkeyed HMAC). When key is given the session keeps the software
// HMAC of token under key as its token. token and key are not modified.
func New(ctx context.Context, engine Engine, token, key []byte, opts ...Option) (*Session, error) {
	if len(token) == 0 {
		return nil, ErrEmptyToken
	}
	s := &Session{engine: engine}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.DefaultLogger()
	}

	if s.hash == 0 {
		hash, err := engine.DigestAlgorithm(ctx)
		if err != nil {
			return nil, err
		}
		s.hash = hash
	}
	if _, err := mac.Software(s.hash); err != nil {
		return nil, err
	}

	internal, err := engine.HMACWithAlgorithm(ctx, token, s.hash, key)
	if err != nil {
		return nil, err
	}
	s.internal = secret.Take(internal)

	blind := mac.HMAC(s.hash, internal, token)
	exported, err := secret.Xor(blind, internal)
	secret.Zero(blind)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.secret = secret.Take(exported)

	if key != nil {
		s.token = secret.Take(mac.HMAC(s.hash, token, key))
	} else {
		s.token = secret.New(token)
	}
	return s, nil
}

// Secret returns a copy of the value the remote store authenticates the
// session with.
func (s *Session) Secret() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumed {
		return nil
	}
	return s.secret.Copy()
}

// Token returns a copy of the token the final secret is derived from.
func (s *Session) Token() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumed {
		return nil
	}
	return s.token.Copy()
}

// Algorithm returns the HMAC digest in use.
func (s *Session) Algorithm() crypto.Hash {
	return s.hash
}

// Size is the required remote secret length.
func (s *Session) Size() int {
	return s.hash.Size()
}

// ProtectRemoteSecret XORs remote with the internal secret. Applying it
// twice returns the original value.
func (s *Session) ProtectRemoteSecret(remote []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protectLocked(remote)
}

func (s *Session) protectLocked(remote []byte) ([]byte, error) {
	if s.consumed {
		return nil, ErrSessionConsumed
	}
	if len(remote) != s.internal.Len() {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrLengthMismatch, len(remote), s.internal.Len())
	}
	return secret.Xor(remote, s.internal.Bytes())
}

// DeriveFinalSecretAndClose unblinds the stored remote value and returns
// the TPM HMAC of the token keyed with it. The session is closed whether
// or not derivation succeeds.
func (s *Session) DeriveFinalSecretAndClose(ctx context.Context, protectedRemote []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remote, err := s.protectLocked(protectedRemote)
	if err != nil {
		if !errors.Is(err, ErrSessionConsumed) {
			s.closeLocked()
		}
		return nil, err
	}
	defer secret.Zero(remote)
	defer s.closeLocked()

	final, err := s.engine.HMACWithAlgorithm(ctx, s.token.Bytes(), s.hash, remote)
	if err != nil {
		s.logger.Error(err)
		return nil, err
	}
	return final, nil
}

// Close wipes the session's secrets.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	s.consumed = true
	s.internal.Wipe()
	s.secret.Wipe()
	s.token.Wipe()
}
