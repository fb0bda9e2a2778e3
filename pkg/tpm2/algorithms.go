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

	"github.com/jeremyhahn/go-tpmsecret/pkg/mac"
)

// Hardware MAC algorithm names.
const (
	TPMHMACSHA1   = "TPMHMAC-SHA1"
	TPMHMACSHA256 = "TPMHMAC-SHA256"
	TPMHMACSHA384 = "TPMHMAC-SHA384"
	TPMHMACSHA512 = "TPMHMAC-SHA512"
)

// The hardware algorithms are registered before main runs so lookups by
// name never race their registration.
func init() {
	mac.MustRegister(mac.Algorithm{Name: TPMHMACSHA1, ID: 7, Hash: crypto.SHA1, UsesHardware: true})
	mac.MustRegister(mac.Algorithm{Name: TPMHMACSHA256, ID: 8, Hash: crypto.SHA256, UsesHardware: true})
	mac.MustRegister(mac.Algorithm{Name: TPMHMACSHA384, ID: 9, Hash: crypto.SHA384, UsesHardware: true})
	mac.MustRegister(mac.Algorithm{Name: TPMHMACSHA512, ID: 10, Hash: crypto.SHA512, UsesHardware: true})
}

// HMACEngine computes device-bound HMACs.
type HMACEngine interface {
	HMACWithAlgorithm(ctx context.Context, data []byte, hash crypto.Hash, key []byte) ([]byte, error)
}

// Sum computes alg over data, on the TPM for hardware algorithms and in
// software otherwise. engine may be nil for software algorithms.
func Sum(ctx context.Context, engine HMACEngine, alg mac.Algorithm, data, key []byte) ([]byte, error) {
	if !alg.UsesHardware {
		return alg.Sum(data, key)
	}
	if engine == nil {
		return nil, unavailable("mac", mac.ErrHardwareAlgorithm)
	}
	return engine.HMACWithAlgorithm(ctx, data, alg.Hash, key)
}
