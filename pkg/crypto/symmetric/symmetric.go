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

// Package symmetric implements the authenticated encryption used for the
// at-rest form of secured values and stored secrets.
//
// Keys of any length are accepted. A 256-bit XChaCha20-Poly1305 key is derived
// from the supplied key material with HKDF-SHA512, and the output layout is
//
//	version (1) || nonce (24) || ciphertext || tag (16)
package symmetric

import (
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-tpmsecret/pkg/secret"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// Version is the current ciphertext format version.
	Version byte = 1

	// Overhead is the number of bytes Encrypt adds to the plaintext.
	Overhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

	kdfInfo = "go-tpmsecret/symmetric/v1"
)

var (
	ErrEmptyKey           = errors.New("symmetric: empty key")
	ErrCiphertextTooShort = errors.New("symmetric: ciphertext too short")
	ErrUnsupportedVersion = errors.New("symmetric: unsupported ciphertext version")
	ErrAuthentication     = errors.New("symmetric: message authentication failed")
)

// Encrypt seals plaintext under key using nonces drawn from crypto/rand.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	return EncryptWithRandom(rand.Reader, key, plaintext)
}

// EncryptWithRandom is Encrypt with an explicit nonce source.
func EncryptWithRandom(random io.Reader, key, plaintext []byte) ([]byte, error) {
	aeadKey, err := deriveKey(key)
	if err != nil {
		return nil, err
	}
	defer aeadKey.Wipe()

	aead, err := chacha20poly1305.NewX(aeadKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("symmetric: failed to create XChaCha20-Poly1305 cipher: %w", err)
	}

	out := make([]byte, 1+aead.NonceSize(), Overhead+len(plaintext))
	out[0] = Version
	if _, err := io.ReadFull(random, out[1:]); err != nil {
		return nil, fmt.Errorf("symmetric: failed to generate nonce: %w", err)
	}
	nonce := out[1 : 1+aead.NonceSize()]
	return aead.Seal(out, nonce, plaintext, out[:1]), nil
}

// Decrypt opens a ciphertext produced by Encrypt. The returned plaintext is
// owned by the caller.
func Decrypt(key, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < Overhead {
		return nil, ErrCiphertextTooShort
	}
	if ciphertext[0] != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, ciphertext[0])
	}

	aeadKey, err := deriveKey(key)
	if err != nil {
		return nil, err
	}
	defer aeadKey.Wipe()

	aead, err := chacha20poly1305.NewX(aeadKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("symmetric: failed to create XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := ciphertext[1 : 1+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, ciphertext[1+aead.NonceSize():], ciphertext[:1])
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func deriveKey(key []byte) (*secret.Buffer, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	out := secret.Alloc(chacha20poly1305.KeySize)
	kdf := hkdf.New(sha512.New, key, nil, []byte(kdfInfo))
	if _, err := io.ReadFull(kdf, out.Bytes()); err != nil {
		out.Wipe()
		return nil, fmt.Errorf("symmetric: key derivation failed: %w", err)
	}
	return out, nil
}
