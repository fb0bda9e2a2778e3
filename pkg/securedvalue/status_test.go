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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	sv := newValue(t, []byte("secret"), WithName("db-password"), WithEncryptTimeout(time.Hour))

	_, err := sv.Get(context.Background())
	require.NoError(t, err)

	st := sv.Status()
	assert.Equal(t, sv.ID(), st.ID)
	assert.Equal(t, "db-password", st.Name)
	assert.False(t, st.Encrypted)
	assert.Equal(t, int64(1), st.AccessCount)
	assert.WithinDuration(t, st.LastAccess.Add(time.Hour), st.NextEncryption, time.Second)
	assert.False(t, st.HardwareBound)

	entries := st.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, "ID", entries[0].Name)
	assert.Equal(t, sv.ID(), entries[0].Value)
}

func TestStatus_Encrypted(t *testing.T) {
	sv := newValue(t, []byte("secret"), WithEncryptTimeout(0))

	st := sv.Status()
	assert.True(t, st.Encrypted)
	assert.False(t, st.EncryptedSince.IsZero())
	assert.True(t, st.NextEncryption.IsZero())
}

func TestSnapshot(t *testing.T) {
	a := newValue(t, []byte("a"))
	b := newValue(t, []byte("b"))

	ids := map[string]bool{}
	for _, st := range Snapshot() {
		ids[st.ID] = true
	}
	assert.True(t, ids[a.ID()])
	assert.True(t, ids[b.ID()])
}

func TestStatus_NextEncryptionAfterSet(t *testing.T) {
	const timeout = 300 * time.Millisecond
	created := time.Now()
	sv := newValue(t, []byte("secret"), WithEncryptTimeout(timeout))

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, sv.Set(context.Background(), []byte("rotated")))
	set := time.Now()

	st := sv.Status()
	require.False(t, st.Encrypted)
	assert.WithinDuration(t, set.Add(timeout), st.NextEncryption, 50*time.Millisecond)
	assert.True(t, st.NextEncryption.After(created.Add(timeout+100*time.Millisecond)))
}

func TestStatus_NoNextEncryptionWhenEncrypted(t *testing.T) {
	sv := newValue(t, []byte("secret"), WithEncryptTimeout(20*time.Millisecond))

	require.Eventually(t, sv.IsEncrypted, 2*time.Second, 5*time.Millisecond)
	assert.True(t, sv.Status().NextEncryption.IsZero())
}
