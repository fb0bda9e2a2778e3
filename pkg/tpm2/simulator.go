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

import "github.com/google/go-tpm/tpm2/transport"

// simulatorOpener opens the embedded simulator. It is replaced at init by
// the tpm_simulator build.
var simulatorOpener func(seed int64) (transport.TPMCloser, error)
