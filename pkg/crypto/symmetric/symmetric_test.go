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

package symmetric

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	tests := []struct {
		name      string
		key       []byte
		plaintext []byte
	}{
		{"short key", []byte("k"), []byte("hello")},
		{"64 byte key", bytes.Repeat([]byte{0x42}, 64), []byte("hello world")},
		{"empty plaintext", []byte("key"), []byte{}},
		{"large plaintext", []byte("key"), bytes.Repeat([]byte("x"), 1<<16)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := Encrypt(tt.key, tt.plaintext)
			require.NoError(t, err)
			assert.Len(t, ct, len(tt.plaintext)+Overhead)
			assert.Equal(t, Version, ct[0])

			pt, err := Decrypt(tt.key, ct)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(tt.plaintext, pt))
		})
	}
}

func TestEncrypt_FreshNonce(t *testing.T) {
	key := []byte("key")
	a, err := Encrypt(key, []byte("same"))
	require.NoError(t, err)
	b, err := Encrypt(key, []byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_Errors(t *testing.T) {
	key := []byte("key")
	ct, err := Encrypt(key, []byte("payload"))
	require.NoError(t, err)

	_, err = Decrypt([]byte("wrong"), ct)
	assert.ErrorIs(t, err, ErrAuthentication)

	tampered := append([]byte(nil), ct...)
	tampered[len(tampered)-1] ^= 1
	_, err = Decrypt(key, tampered)
	assert.ErrorIs(t, err, ErrAuthentication)

	badVersion := append([]byte(nil), ct...)
	badVersion[0] = 99
	_, err = Decrypt(key, badVersion)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = Decrypt(key, ct[:Overhead-1])
	assert.ErrorIs(t, err, ErrCiphertextTooShort)

	_, err = Encrypt(nil, []byte("x"))
	assert.ErrorIs(t, err, ErrEmptyKey)
}
