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

package securedvalue

import "errors"

var (
	// ErrProtection is returned when a state transition failed. The value
	// is closed and every later call returns the same error.
	ErrProtection = errors.New("securedvalue: protection failure")

	ErrClosed           = errors.New("securedvalue: value is closed")
	ErrHardwareRequired = errors.New("securedvalue: hardware protection required but no TPM engine configured")
	ErrInvalidTimeout   = errors.New("securedvalue: invalid timeout")
)
