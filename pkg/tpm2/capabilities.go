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
	"fmt"
	"time"

	"github.com/google/go-tpm/tpm2"
	"github.com/jeremyhahn/go-tpmsecret/pkg/metrics"
)

// ptMaxDigest is TPM_PT_MAX_DIGEST, the size of the largest digest the
// TPM can produce.
const ptMaxDigest = tpm2.TPMPT(0x00000120)

// MaxDigestSize returns the TPM's largest supported digest in bytes. The
// value is queried once per connection.
func (h *Handle) MaxDigestSize(ctx context.Context) (size int, err error) {
	if h.maxDigest > 0 {
		return h.maxDigest, nil
	}
	if h.closed {
		return 0, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	start := time.Now()
	defer func() {
		metrics.RecordHardwareOperation(metrics.OpCapability, time.Since(start), err)
	}()

	rsp, err := tpm2.GetCapability{
		Capability:    tpm2.TPMCapTPMProperties,
		Property:      uint32(ptMaxDigest),
		PropertyCount: 1,
	}.Execute(h.transport)
	if err != nil {
		return 0, commandFailed("get capability", err)
	}
	props, err := rsp.CapabilityData.Data.TPMProperties()
	if err != nil {
		return 0, commandFailed("get capability", err)
	}
	if len(props.TPMProperty) == 0 || props.TPMProperty[0].Property != ptMaxDigest {
		return 0, commandFailed("get capability", fmt.Errorf("TPM_PT_MAX_DIGEST not reported"))
	}

	h.maxDigest = int(props.TPMProperty[0].Value)
	metrics.SetMaxDigestSize(h.maxDigest)
	h.logger.Debugf("tpm: max digest size %d bytes", h.maxDigest)
	return h.maxDigest, nil
}

// DigestAlgorithm returns the configured HMAC digest, or the strongest
// one the TPM supports.
func (h *Handle) DigestAlgorithm(ctx context.Context) (crypto.Hash, error) {
	if h.forcedHash != 0 {
		return h.forcedHash, nil
	}
	size, err := h.MaxDigestSize(ctx)
	if err != nil {
		return 0, err
	}
	return HashForDigestSize(size)
}

// HashForDigestSize maps a max digest size to the strongest HMAC digest:
// 20 is SHA-1, 32 SHA-256, 48 SHA-384 and 64 SHA-512.
func HashForDigestSize(size int) (crypto.Hash, error) {
	switch size {
	case 20:
		return crypto.SHA1, nil
	case 32:
		return crypto.SHA256, nil
	case 48:
		return crypto.SHA384, nil
	case 64:
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedDigest, size)
	}
}

// algorithmID returns the TPM algorithm identifier for a digest.
func algorithmID(hash crypto.Hash) (tpm2.TPMAlgID, error) {
	switch hash {
	case crypto.SHA1:
		return tpm2.TPMAlgSHA1, nil
	case crypto.SHA256:
		return tpm2.TPMAlgSHA256, nil
	case crypto.SHA384:
		return tpm2.TPMAlgSHA384, nil
	case crypto.SHA512:
		return tpm2.TPMAlgSHA512, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, hash)
	}
}
