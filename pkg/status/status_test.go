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

package status

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/jeremyhahn/go-tpmsecret/pkg/logging"
	"github.com/jeremyhahn/go-tpmsecret/pkg/securedvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	size int
	err  error
}

func (f fakeDevice) MaxDigestSize(context.Context) (int, error) {
	return f.size, f.err
}

func TestCollect(t *testing.T) {
	sv, err := securedvalue.New(context.Background(), []byte("x"),
		securedvalue.WithName("report-test"), securedvalue.WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer sv.Close()

	r := Collect(context.Background(), fakeDevice{size: 64})
	assert.True(t, r.Hardware)
	assert.Equal(t, 64, r.MaxDigestSize)
	assert.GreaterOrEqual(t, r.LiveValues, 1)

	var found bool
	for _, v := range r.Values {
		if v.ID == sv.ID() {
			found = true
			assert.Equal(t, "report-test", v.Name)
		}
	}
	assert.True(t, found)

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	assert.Contains(t, buf.String(), "TPM max digest size:")
	assert.Contains(t, buf.String(), sv.ID())
}

func TestCollect_DeviceStates(t *testing.T) {
	r := Collect(context.Background(), nil)
	assert.False(t, r.Hardware)

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	assert.Contains(t, buf.String(), "not configured")

	r = Collect(context.Background(), fakeDevice{err: errors.New("no device")})
	assert.True(t, r.Hardware)
	assert.Equal(t, "no device", r.DeviceError)
	assert.Zero(t, r.MaxDigestSize)
}
