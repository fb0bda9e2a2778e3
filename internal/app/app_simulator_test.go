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

//go:build tpm_simulator

package app

import (
	"context"
	"testing"

	"github.com/jeremyhahn/go-tpmsecret/internal/config"
	"github.com/jeremyhahn/go-tpmsecret/pkg/health"
	"github.com/jeremyhahn/go-tpmsecret/pkg/securedvalue"
	"github.com/jeremyhahn/go-tpmsecret/pkg/tpm2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Simulator(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.TPM.Config = *tpm2.SimulatorConfig()
	require.NoError(t, cfg.Validate())

	a, err := New(cfg)
	require.NoError(t, err)
	assert.Same(t, a.Shared(), Current())

	sv, err := securedvalue.New(context.Background(), []byte("x"), a.ValueOptions(securedvalue.WithEncryptTimeout(0))...)
	require.NoError(t, err)
	assert.True(t, sv.HardwareBound())
	got, err := sv.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
	require.NoError(t, sv.Close())

	assert.True(t, a.Health.IsHealthy(context.Background()))
	assert.Equal(t, health.StatusHealthy, health.AggregateStatus(a.Health.Ready(context.Background())))

	require.NoError(t, a.Close())
	assert.Nil(t, Current())
}
