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

// Package secret provides wipe-on-release byte buffers for key material and
// plaintext secrets.
package secret

import (
	"crypto/subtle"
	"errors"
	"runtime"
)

// ErrLengthMismatch is returned by Xor when the operands differ in length.
var ErrLengthMismatch = errors.New("secret: operand length mismatch")

// Buffer holds sensitive bytes. The backing memory is locked into RAM where
// the platform supports it and is zeroed by Wipe. A wiped buffer is empty.
type Buffer struct {
	data   []byte
	locked bool
}

// New copies b into a new Buffer. The caller keeps ownership of b.
func New(b []byte) *Buffer {
	buf := Alloc(len(b))
	copy(buf.data, b)
	return buf
}

// Take wraps b without copying. Ownership of b moves to the Buffer and
// it is zeroed when the Buffer is wiped.
func Take(b []byte) *Buffer {
	buf := &Buffer{data: b}
	buf.locked = lock(b)
	return buf
}

// Alloc returns a zeroed Buffer of length n.
func Alloc(n int) *Buffer {
	return Take(make([]byte, n))
}

// Bytes returns the live backing slice. It must not be retained past Wipe.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Copy returns a private copy of the contents.
func (b *Buffer) Copy() []byte {
	if b == nil || b.data == nil {
		return nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the length of the contents.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Equal reports whether the contents equal other in constant time.
func (b *Buffer) Equal(other []byte) bool {
	return subtle.ConstantTimeCompare(b.Bytes(), other) == 1
}

// Wipe zeroes and releases the contents. It is safe to call more than once
// and on a nil Buffer.
func (b *Buffer) Wipe() {
	if b == nil || b.data == nil {
		return
	}
	Zero(b.data)
	if b.locked {
		unlock(b.data)
		b.locked = false
	}
	b.data = nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

// Xor returns a XOR b. Both operands must have the same length.
func Xor(a, b []byte) ([]byte, error) {
	if len(a) != len(b) {
		return nil, ErrLengthMismatch
	}
	out := make([]byte, len(a))
	subtle.XORBytes(out, a, b)
	return out, nil
}
