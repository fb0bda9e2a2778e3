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
	"io"
	"sync"
	"sync/atomic"

	"github.com/jeremyhahn/go-tpmsecret/pkg/gate"
	"github.com/jeremyhahn/go-tpmsecret/pkg/logging"
)

// synchronized serializes every call into a handle through a gate.
type synchronized struct {
	handle *Handle
	gate   *gate.Gate
	closed atomic.Bool
}

func (s *synchronized) do(ctx context.Context, fn func(h *Handle) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.gate.Enter(ctx); err != nil {
		return err
	}
	defer s.gate.Leave()
	if s.closed.Load() {
		return ErrClosed
	}
	return fn(s.handle)
}

// HMAC computes a device-bound HMAC with the TPM's default digest.
func (s *synchronized) HMAC(ctx context.Context, data, key []byte) (digest []byte, err error) {
	err = s.do(ctx, func(h *Handle) error {
		hash, err := h.DigestAlgorithm(ctx)
		if err != nil {
			return err
		}
		digest, err = h.HMAC(ctx, data, hash, key)
		return err
	})
	return digest, err
}

// HMACWithAlgorithm computes a device-bound HMAC with an explicit digest.
func (s *synchronized) HMACWithAlgorithm(ctx context.Context, data []byte, hash crypto.Hash, key []byte) (digest []byte, err error) {
	err = s.do(ctx, func(h *Handle) error {
		digest, err = h.HMAC(ctx, data, hash, key)
		return err
	})
	return digest, err
}

// MaxDigestSize returns the TPM's largest digest in bytes.
func (s *synchronized) MaxDigestSize(ctx context.Context) (size int, err error) {
	err = s.do(ctx, func(h *Handle) error {
		size, err = h.MaxDigestSize(ctx)
		return err
	})
	return size, err
}

// DigestAlgorithm returns the HMAC digest HMAC uses.
func (s *synchronized) DigestAlgorithm(ctx context.Context) (hash crypto.Hash, err error) {
	err = s.do(ctx, func(h *Handle) error {
		hash, err = h.DigestAlgorithm(ctx)
		return err
	})
	return hash, err
}

// RandomBytes reads n bytes from the TPM's RNG.
func (s *synchronized) RandomBytes(ctx context.Context, n int) (out []byte, err error) {
	err = s.do(ctx, func(h *Handle) error {
		out, err = h.RandomBytes(ctx, n)
		return err
	})
	return out, err
}

// Reader returns an io.Reader over the TPM's RNG.
func (s *synchronized) Reader() io.Reader {
	return &randomReader{source: s}
}

type randomReader struct {
	source *synchronized
}

func (r *randomReader) Read(p []byte) (int, error) {
	b, err := r.source.RandomBytes(context.Background(), len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, b), nil
}

// Engine is a gated TPM session. A private engine owns its handle and
// disconnects on Close; an engine leased from Shared holds the shared gate
// until Close and leaves the connection open.
type Engine struct {
	synchronized
	lease     *gate.Gate
	closeOnce sync.Once
	closeErr  error
	logger    *logging.Logger
}

// NewEngine opens a private connection. Concurrent calls on the engine are
// serialized.
func NewEngine(params *Params) (*Engine, error) {
	handle, err := Open(params)
	if err != nil {
		return nil, err
	}
	e := &Engine{logger: handle.logger}
	e.handle = handle
	e.gate = gate.New("tpm-private")
	return e, nil
}

// Close releases the engine. It is safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		// wait for in-flight calls
		_ = e.gate.Enter(context.Background())
		defer e.gate.Leave()
		if e.lease != nil {
			e.lease.Leave()
			return
		}
		e.closeErr = e.handle.Close()
	})
	return e.closeErr
}

// Shared is the process-wide TPM connection. Individual calls enter its
// gate for their duration; Acquire leases the whole connection.
type Shared struct {
	synchronized
	logger *logging.Logger
}

// OpenShared opens the connection that Shared serializes.
func OpenShared(params *Params) (*Shared, error) {
	handle, err := Open(params)
	if err != nil {
		return nil, err
	}
	return NewShared(handle), nil
}

// NewShared wraps an already open handle.
func NewShared(handle *Handle) *Shared {
	s := &Shared{logger: handle.logger}
	s.handle = handle
	s.gate = gate.New("tpm-shared")
	return s
}

// Acquire waits until no other caller holds the connection and returns an
// Engine with exclusive use of it. The wait is bounded by ctx; on expiry the
// error matches gate.ErrTimeout. The engine must be closed to release the
// connection.
func (s *Shared) Acquire(ctx context.Context) (*Engine, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := s.gate.Enter(ctx); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		s.gate.Leave()
		return nil, ErrClosed
	}
	e := &Engine{lease: s.gate, logger: s.logger}
	e.handle = s.handle
	e.gate = gate.New("tpm-lease")
	return e, nil
}

// Close waits for the current holder to finish and disconnects.
func (s *Shared) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.gate.Enter(context.Background()); err != nil {
		return err
	}
	defer s.gate.Leave()
	return s.handle.Close()
}
