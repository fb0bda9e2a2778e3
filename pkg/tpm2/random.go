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
	"time"

	"github.com/google/go-tpm/tpm2"
	"github.com/jeremyhahn/go-tpmsecret/pkg/metrics"
)

// RandomBytes reads n bytes from the TPM's RNG. Requests are split into
// chunks no larger than the max digest size.
func (h *Handle) RandomBytes(ctx context.Context, n int) (out []byte, err error) {
	if h.closed {
		return nil, ErrClosed
	}
	chunk, err := h.MaxDigestSize(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.RecordHardwareOperation(metrics.OpRandom, time.Since(start), err)
	}()

	out = make([]byte, 0, n)
	for len(out) < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		want := min(n-len(out), chunk)
		rsp, err := tpm2.GetRandom{BytesRequested: uint16(want)}.Execute(h.transport)
		if err != nil {
			return nil, commandFailed("get random", err)
		}
		if len(rsp.RandomBytes.Buffer) == 0 {
			return nil, commandFailed("get random", ErrShortRandom)
		}
		out = append(out, rsp.RandomBytes.Buffer...)
	}
	return out[:n], nil
}
