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

package mac

import (
	"crypto"
	"fmt"
)

// Software HMAC algorithm names.
const (
	HMACSHA1   = "HMAC-SHA1"
	HMACSHA256 = "HMAC-SHA256"
	HMACSHA384 = "HMAC-SHA384"
	HMACSHA512 = "HMAC-SHA512"
)

func init() {
	MustRegister(Algorithm{Name: HMACSHA1, ID: 0, Hash: crypto.SHA1})
	MustRegister(Algorithm{Name: HMACSHA256, ID: 1, Hash: crypto.SHA256})
	MustRegister(Algorithm{Name: HMACSHA384, ID: 2, Hash: crypto.SHA384})
	MustRegister(Algorithm{Name: HMACSHA512, ID: 3, Hash: crypto.SHA512})
}

// Software returns the software HMAC algorithm for a digest.
func Software(hash crypto.Hash) (Algorithm, error) {
	for _, alg := range All() {
		if !alg.UsesHardware && alg.Hash == hash {
			return alg, nil
		}
	}
	return Algorithm{}, fmt.Errorf("%w: software HMAC for %s", ErrUnknownAlgorithm, hash)
}
