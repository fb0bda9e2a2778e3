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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeremyhahn/go-tpmsecret/pkg/gate"
	"github.com/jeremyhahn/go-tpmsecret/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNoDevice = errors.New("no device")

// fakeTransport rejects every command and records Close.
type fakeTransport struct {
	closed atomic.Int32
}

func (f *fakeTransport) Send(input []byte) ([]byte, error) {
	return nil, errNoDevice
}

func (f *fakeTransport) Close() error {
	f.closed.Add(1)
	return nil
}

func newFakeParams() (*Params, *fakeTransport) {
	ft := &fakeTransport{}
	return &Params{
		Config:    DefaultConfig(),
		Logger:    logging.Discard(),
		Transport: ft,
	}, ft
}

func TestOpen_InitializerFailureClosesTransport(t *testing.T) {
	params, ft := newFakeParams()
	params.Initializer = func(h *Handle) error { return errors.New("init") }

	_, err := Open(params)
	require.Error(t, err)
	assert.Equal(t, int32(1), ft.closed.Load())
}

func TestOpen_InvalidConfig(t *testing.T) {
	params, _ := newFakeParams()
	params.Config.Hierarchy = "bogus"
	_, err := Open(params)
	assert.ErrorIs(t, err, ErrInvalidHierarchy)
}

func TestEngine_CommandFailureIsCryptoFailure(t *testing.T) {
	params, _ := newFakeParams()
	engine, err := NewEngine(params)
	require.NoError(t, err)
	defer engine.Close()

	_, err = engine.MaxDigestSize(context.Background())
	assert.ErrorIs(t, err, ErrCryptoFailure)
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.ErrorIs(t, err, errNoDevice)
}

func TestEngine_PrivateCloseDisconnects(t *testing.T) {
	params, ft := newFakeParams()
	engine, err := NewEngine(params)
	require.NoError(t, err)

	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())
	assert.Equal(t, int32(1), ft.closed.Load())

	_, err = engine.HMAC(context.Background(), []byte("d"), nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEngine_CancelledContext(t *testing.T) {
	params, _ := newFakeParams()
	engine, err := NewEngine(params)
	require.NoError(t, err)
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.RandomBytes(ctx, 8)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShared_AcquireIsExclusive(t *testing.T) {
	params, ft := newFakeParams()
	shared, err := OpenShared(params)
	require.NoError(t, err)

	const n = 8
	var holders, maxHolders int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine, err := shared.Acquire(context.Background())
			require.NoError(t, err)
			cur := atomic.AddInt32(&holders, 1)
			for {
				prev := atomic.LoadInt32(&maxHolders)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxHolders, prev, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&holders, -1)
			require.NoError(t, engine.Close())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxHolders)
	// leases never disconnect the shared handle
	assert.Equal(t, int32(0), ft.closed.Load())

	require.NoError(t, shared.Close())
	assert.Equal(t, int32(1), ft.closed.Load())
}

func TestShared_AcquireTimeout(t *testing.T) {
	params, _ := newFakeParams()
	shared, err := OpenShared(params)
	require.NoError(t, err)
	defer shared.Close()

	held, err := shared.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = shared.Acquire(ctx)
	assert.ErrorIs(t, err, gate.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// per-call operations also wait for the lease
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	_, err = shared.MaxDigestSize(ctx2)
	assert.ErrorIs(t, err, gate.ErrTimeout)

	require.NoError(t, held.Close())

	again, err := shared.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestShared_AcquireAfterClose(t *testing.T) {
	params, _ := newFakeParams()
	shared, err := OpenShared(params)
	require.NoError(t, err)
	require.NoError(t, shared.Close())

	_, err = shared.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
