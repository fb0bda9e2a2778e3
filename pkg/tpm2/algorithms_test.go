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
	"context"
	"crypto"
	"testing"

	"github.com/jeremyhahn/go-tpmsecret/pkg/mac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHardwareAlgorithmsRegistered(t *testing.T) {
	tests := []struct {
		name   string
		id     int
		length int
	}{
		{TPMHMACSHA1, 7, 20},
		{TPMHMACSHA256, 8, 32},
		{TPMHMACSHA384, 9, 48},
		{TPMHMACSHA512, 10, 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alg, err := mac.ByName(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.id, alg.ID)
			assert.Equal(t, tt.length, alg.MACLength())
			assert.True(t, alg.UsesHardware)
		})
	}
}

type recordingEngine struct {
	hash crypto.Hash
}

func (r *recordingEngine) HMACWithAlgorithm(ctx context.Context, data []byte, hash crypto.Hash, key []byte) ([]byte, error) {
	r.hash = hash
	return mac.HMAC(hash, append([]byte("hw"), data...), key), nil
}

func TestSum(t *testing.T) {
	ctx := context.Background()

	software, err := mac.ByName(mac.HMACSHA256)
	require.NoError(t, err)
	got, err := Sum(ctx, nil, software, []byte("data"), []byte("key"))
	require.NoError(t, err)
	assert.Equal(t, mac.HMAC(crypto.SHA256, []byte("data"), []byte("key")), got)

	hardware, err := mac.ByName(TPMHMACSHA384)
	require.NoError(t, err)

	_, err = Sum(ctx, nil, hardware, []byte("data"), []byte("key"))
	assert.ErrorIs(t, err, ErrHardwareUnavailable)

	engine := &recordingEngine{}
	got, err = Sum(ctx, engine, hardware, []byte("data"), []byte("key"))
	require.NoError(t, err)
	assert.Equal(t, crypto.SHA384, engine.hash)
	assert.Len(t, got, 48)
}
