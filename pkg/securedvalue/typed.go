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

import (
	"context"
	"encoding"

	"github.com/jeremyhahn/go-tpmsecret/pkg/secret"
)

// Codec converts a T to and from its protected byte form.
type Codec[T any] interface {
	Marshal(v T) ([]byte, error)
	Unmarshal(b []byte) (T, error)
}

// StringCodec stores strings as UTF-8.
type StringCodec struct{}

func (StringCodec) Marshal(v string) ([]byte, error)   { return []byte(v), nil }
func (StringCodec) Unmarshal(b []byte) (string, error) { return string(b), nil }

type binaryValue[T any] interface {
	*T
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// BinaryCodec stores types implementing encoding.BinaryMarshaler and, on
// their pointer, encoding.BinaryUnmarshaler.
type BinaryCodec[T any, P binaryValue[T]] struct{}

func (BinaryCodec[T, P]) Marshal(v T) ([]byte, error) {
	return P(&v).MarshalBinary()
}

func (BinaryCodec[T, P]) Unmarshal(b []byte) (T, error) {
	var v T
	err := P(&v).UnmarshalBinary(b)
	return v, err
}

// Typed is a SecuredValue holding a T. Intermediate encodings are wiped.
type Typed[T any] struct {
	*SecuredValue
	codec Codec[T]
}

// NewTyped protects v.
func NewTyped[T any](ctx context.Context, v T, codec Codec[T], opts ...Option) (*Typed[T], error) {
	b, err := codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	defer secret.Zero(b)

	sv, err := New(ctx, b, opts...)
	if err != nil {
		return nil, err
	}
	return &Typed[T]{SecuredValue: sv, codec: codec}, nil
}

// Get decodes and returns the value.
func (t *Typed[T]) Get(ctx context.Context) (T, error) {
	b, err := t.SecuredValue.Get(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	defer secret.Zero(b)
	return t.codec.Unmarshal(b)
}

// Set replaces the value.
func (t *Typed[T]) Set(ctx context.Context, v T) error {
	b, err := t.codec.Marshal(v)
	if err != nil {
		return err
	}
	defer secret.Zero(b)
	return t.SecuredValue.Set(ctx, b)
}
