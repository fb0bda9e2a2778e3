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

// Package gate provides a context-aware mutual exclusion primitive used to
// serialize access to a TPM handle and to secured value state.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-tpmsecret/pkg/metrics"
	"golang.org/x/sync/semaphore"
)

// ErrTimeout is returned when the gate could not be entered before the
// caller's context expired. The context error is wrapped alongside it.
var ErrTimeout = errors.New("gate: timed out waiting for exclusive access")

// Gate is a binary semaphore whose Enter operation honors context
// cancellation. The zero value is not usable; call New.
type Gate struct {
	name string
	sem  *semaphore.Weighted
}

// New returns an open gate. The name is used only as a metrics label.
func New(name string) *Gate {
	return &Gate{
		name: name,
		sem:  semaphore.NewWeighted(1),
	}
}

// Enter blocks until the gate is free or ctx is done. On success the caller
// must call Leave exactly once.
func (g *Gate) Enter(ctx context.Context) error {
	start := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w (%s): %w", ErrTimeout, g.name, err)
	}
	metrics.RecordGateWait(g.name, time.Since(start))
	return nil
}

// TryEnter enters the gate only if it is free.
func (g *Gate) TryEnter() bool {
	return g.sem.TryAcquire(1)
}

// Leave releases the gate. Leaving a gate that is not held panics.
func (g *Gate) Leave() {
	g.sem.Release(1)
}

// Name returns the gate's label.
func (g *Gate) Name() string {
	return g.name
}
