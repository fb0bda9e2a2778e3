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

//go:build windows

package tpm2

import (
	"fmt"

	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/windowstpm"
)

// openDevice ignores path; Windows exposes a single TBS-managed TPM.
func openDevice(path string) (transport.TPMCloser, error) {
	return windowstpm.Open()
}

func openSocket(path string) (transport.TPMCloser, error) {
	return nil, fmt.Errorf("%w: unix sockets are not supported on windows: %s", ErrInvalidConfig, path)
}
