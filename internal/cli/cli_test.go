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

package cli

import (
	"bytes"
	"crypto"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/jeremyhahn/go-tpmsecret/pkg/mac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the command tree with args and returns stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("TPMSECRET_LOG_LEVEL", "error")

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func decodeJSON(t *testing.T, out string) map[string]string {
	t.Helper()
	var m map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &m), out)
	return m
}

func TestVersion_JSON(t *testing.T) {
	out, err := run(t, "", "version", "-o", "json")
	require.NoError(t, err)

	m := decodeJSON(t, out)
	assert.Equal(t, Version, m["version"])
	assert.Equal(t, GitCommit, m["commit"])
	assert.NotEmpty(t, m["go_version"])
}

func TestProtectUnprotect_Software(t *testing.T) {
	protected, err := run(t, "", "--no-tpm", "protect", "hunter2")
	require.NoError(t, err)
	protected = strings.TrimSpace(protected)
	require.NotEmpty(t, protected)
	assert.NotContains(t, protected, "hunter2")

	value, err := run(t, protected, "--no-tpm", "unprotect")
	require.NoError(t, err)
	assert.Equal(t, "hunter2\n", value)
}

func TestUnprotect_Tampered(t *testing.T) {
	protected, err := run(t, "", "--no-tpm", "protect", "hunter2")
	require.NoError(t, err)

	raw := []byte(strings.TrimSpace(protected))
	if raw[10] == 'A' {
		raw[10] = 'B'
	} else {
		raw[10] = 'A'
	}
	_, err = run(t, "", "--no-tpm", "unprotect", string(raw))
	assert.Error(t, err)
}

func TestUnprotect_InvalidBase64(t *testing.T) {
	_, err := run(t, "", "--no-tpm", "unprotect", "not base64!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid protected value")
}

func TestHMAC_Software(t *testing.T) {
	out, err := run(t, "", "--no-tpm", "-o", "json", "hmac", "-a", mac.HMACSHA256, "-k", "6b6579", "data")
	require.NoError(t, err)

	want := mac.HMAC(crypto.SHA256, []byte("data"), []byte("key"))
	assert.Equal(t, hex.EncodeToString(want), decodeJSON(t, out)["hmac"])
}

func TestHMAC_Stdin(t *testing.T) {
	out, err := run(t, "data\n", "--no-tpm", "hmac", "-a", mac.HMACSHA1)
	require.NoError(t, err)

	want := mac.HMAC(crypto.SHA1, []byte("data"), nil)
	assert.Equal(t, hex.EncodeToString(want)+"\n", out)
}

func TestHMAC_HardwareWithoutTPM(t *testing.T) {
	_, err := run(t, "", "--no-tpm", "hmac", "data")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a TPM")

	_, err = run(t, "", "--no-tpm", "hmac", "-a", "TPMHMAC-SHA256", "data")
	assert.ErrorIs(t, err, mac.ErrHardwareAlgorithm)

	_, err = run(t, "", "--no-tpm", "hmac", "-a", "HMAC-MD5", "data")
	assert.ErrorIs(t, err, mac.ErrUnknownAlgorithm)
}

func TestHMAC_InvalidKey(t *testing.T) {
	_, err := run(t, "", "--no-tpm", "hmac", "-a", mac.HMACSHA256, "-k", "zz", "data")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --key")
}

func TestHMACAlgorithms(t *testing.T) {
	out, err := run(t, "", "hmac", "algorithms")
	require.NoError(t, err)
	assert.Contains(t, out, "HMAC-SHA256: id=1 size=32 software")
	assert.Contains(t, out, "TPMHMAC-SHA512: id=10 size=64 tpm")
}

func TestRandom_Errors(t *testing.T) {
	_, err := run(t, "", "--no-tpm", "random")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a TPM")

	_, err = run(t, "", "--no-tpm", "random", "-e", "base32")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown encoding")

	_, err = run(t, "", "--no-tpm", "random", "-n", "0")
	assert.Error(t, err)
}

func TestSharedSecret_RequiresTPM(t *testing.T) {
	_, err := run(t, "", "--no-tpm", "shared-secret", "init", "--token", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a TPM")

	_, err = run(t, "", "--no-tpm", "shared-secret", "derive", "--token", "abc")
	assert.Error(t, err)
}

func TestStatus_NoTPM(t *testing.T) {
	out, err := run(t, "", "--no-tpm", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "TPM:")
	assert.Contains(t, out, "not configured")

	out, err = run(t, "", "--no-tpm", "-o", "json", "status")
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, false, report["hardware"])
}

func TestInvalidOutputFormat(t *testing.T) {
	_, err := run(t, "", "-o", "yaml", "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestInvalidConfigFile(t *testing.T) {
	_, err := run(t, "", "--config", "/nonexistent/tpmsecret.yaml", "status")
	assert.Error(t, err)
}
