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

package sharedsecret

import (
	"context"
	"crypto"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/jeremyhahn/go-tpmsecret/pkg/logging"
	"github.com/jeremyhahn/go-tpmsecret/pkg/mac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine mixes a device secret into every HMAC.
type fakeEngine struct {
	device []byte
	hash   crypto.Hash
	calls  int
	err    error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{device: []byte("device-seed"), hash: crypto.SHA512}
}

func (f *fakeEngine) DigestAlgorithm(context.Context) (crypto.Hash, error) {
	return f.hash, nil
}

func (f *fakeEngine) HMACWithAlgorithm(_ context.Context, data []byte, hash crypto.Hash, key []byte) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return mac.HMAC(hash, data, append(append([]byte{}, f.device...), key...)), nil
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func newSession(t *testing.T, engine Engine, token, key []byte, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	s, err := New(context.Background(), engine, token, key, opts...)
	require.NoError(t, err)
	return s
}

func TestAgreement(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine()
	token := randomBytes(t, 123)

	for _, key := range [][]byte{nil, []byte("user password")} {
		local := newSession(t, engine, token, key)
		remote := randomBytes(t, local.Size())

		// the remote store keeps the blinded value and returns it later
		protected, err := local.ProtectRemoteSecret(remote)
		require.NoError(t, err)
		assert.NotEqual(t, remote, protected)

		first, err := local.DeriveFinalSecretAndClose(ctx, protected)
		require.NoError(t, err)

		later := newSession(t, engine, token, key)
		second, err := later.DeriveFinalSecretAndClose(ctx, protected)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Len(t, first, crypto.SHA512.Size())
	}
}

func TestDifferentTokensDisagree(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine()
	a := newSession(t, engine, []byte("token-a"), nil)
	b := newSession(t, engine, []byte("token-b"), nil)
	remote := randomBytes(t, a.Size())

	protected, err := a.ProtectRemoteSecret(remote)
	require.NoError(t, err)

	first, err := a.DeriveFinalSecretAndClose(ctx, protected)
	require.NoError(t, err)
	second, err := b.DeriveFinalSecretAndClose(ctx, protected)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestProtectRemoteSecret_Symmetric(t *testing.T) {
	s := newSession(t, newFakeEngine(), []byte("token"), nil)
	defer s.Close()
	remote := randomBytes(t, s.Size())

	blinded, err := s.ProtectRemoteSecret(remote)
	require.NoError(t, err)
	unblinded, err := s.ProtectRemoteSecret(blinded)
	require.NoError(t, err)
	assert.Equal(t, remote, unblinded)
}

func TestLengthMismatch(t *testing.T) {
	engine := newFakeEngine()
	s := newSession(t, engine, []byte("token"), nil)
	calls := engine.calls

	_, err := s.ProtectRemoteSecret(make([]byte, s.Size()-1))
	assert.ErrorIs(t, err, ErrLengthMismatch)
	assert.ErrorIs(t, err, ErrProtocolMisuse)

	_, err = s.DeriveFinalSecretAndClose(context.Background(), make([]byte, s.Size()+1))
	assert.ErrorIs(t, err, ErrProtocolMisuse)
	assert.Equal(t, calls, engine.calls, "no hardware command on misuse")
}

func TestSingleUse(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, newFakeEngine(), []byte("token"), nil)
	remote := randomBytes(t, s.Size())

	_, err := s.DeriveFinalSecretAndClose(ctx, remote)
	require.NoError(t, err)

	_, err = s.DeriveFinalSecretAndClose(ctx, remote)
	assert.ErrorIs(t, err, ErrSessionConsumed)
	_, err = s.ProtectRemoteSecret(remote)
	assert.ErrorIs(t, err, ErrSessionConsumed)
	assert.Nil(t, s.Secret())
	assert.Nil(t, s.Token())
}

func TestDeriveFailureConsumesSession(t *testing.T) {
	engine := newFakeEngine()
	s := newSession(t, engine, []byte("token"), nil)
	remote := randomBytes(t, s.Size())

	engine.err = errors.New("device gone")
	_, err := s.DeriveFinalSecretAndClose(context.Background(), remote)
	require.Error(t, err)

	engine.err = nil
	_, err = s.DeriveFinalSecretAndClose(context.Background(), remote)
	assert.ErrorIs(t, err, ErrSessionConsumed)
}

func TestSecretAndToken(t *testing.T) {
	engine := newFakeEngine()
	token := []byte("token")

	unkeyed := newSession(t, engine, token, nil)
	defer unkeyed.Close()
	assert.Equal(t, token, unkeyed.Token())
	assert.Len(t, unkeyed.Secret(), crypto.SHA512.Size())

	keyed := newSession(t, engine, token, []byte("key"))
	defer keyed.Close()
	assert.Equal(t, mac.HMAC(crypto.SHA512, token, []byte("key")), keyed.Token())
	assert.NotEqual(t, unkeyed.Secret(), keyed.Secret())
}

func TestNew_Errors(t *testing.T) {
	engine := newFakeEngine()

	_, err := New(context.Background(), engine, nil, nil)
	assert.ErrorIs(t, err, ErrProtocolMisuse)

	_, err = New(context.Background(), engine, []byte("t"), nil, WithAlgorithm(crypto.MD5))
	assert.ErrorIs(t, err, mac.ErrUnknownAlgorithm)

	engine.err = errors.New("device gone")
	_, err = New(context.Background(), engine, []byte("t"), nil)
	assert.Error(t, err)
}

func TestWithAlgorithm(t *testing.T) {
	s := newSession(t, newFakeEngine(), []byte("token"), nil, WithAlgorithm(crypto.SHA256))
	defer s.Close()
	assert.Equal(t, crypto.SHA256, s.Algorithm())
	assert.Equal(t, 32, s.Size())
}
