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

//go:build !tpm_simulator

package tpm2

import (
	"testing"

	"github.com/jeremyhahn/go-tpmsecret/pkg/logging"
	"github.com/stretchr/testify/assert"
)

func TestOpen_EmbeddedSimulatorNotCompiled(t *testing.T) {
	_, err := Open(&Params{Config: SimulatorConfig(), Logger: logging.Discard()})
	assert.ErrorIs(t, err, ErrHardwareUnavailable)
	assert.ErrorIs(t, err, ErrSimulatorNotAvailable)
	assert.False(t, Available(&Params{Config: SimulatorConfig(), Logger: logging.Discard()}))
}
