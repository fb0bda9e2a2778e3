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
	"errors"
	"fmt"
)

var (
	// ErrCryptoFailure matches every hardware failure, whether the device
	// could not be reached or a command was rejected.
	ErrCryptoFailure = errors.New("tpm: cryptographic failure")

	ErrHardwareUnavailable  = errors.New("tpm: hardware unavailable")
	ErrCommandFailed        = errors.New("tpm: command failed")
	ErrClosed               = errors.New("tpm: handle closed")
	ErrInvalidConfig        = errors.New("tpm: invalid configuration")
	ErrInvalidHierarchy     = errors.New("tpm: invalid hierarchy")
	ErrUnsupportedAlgorithm = errors.New("tpm: unsupported algorithm")
	ErrUnsupportedDigest    = errors.New("tpm: unsupported max digest size")
	ErrShortRandom          = errors.New("tpm: random number generator returned no data")
)

// Error is a hardware failure. It matches ErrCryptoFailure, its Kind
// (ErrHardwareUnavailable or ErrCommandFailed) and the underlying transport
// or response error.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tpm: %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrCryptoFailure, e.Kind, e.Err}
}

func unavailable(op string, err error) error {
	return &Error{Op: op, Kind: ErrHardwareUnavailable, Err: err}
}

func commandFailed(op string, err error) error {
	return &Error{Op: op, Kind: ErrCommandFailed, Err: err}
}
