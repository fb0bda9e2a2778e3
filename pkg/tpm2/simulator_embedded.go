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

package tpm2

import (
	"github.com/google/go-tpm-tools/simulator"
	"github.com/google/go-tpm/tpm2/transport"
)

// simulatorTPM closes the simulator along with the transport.
type simulatorTPM struct {
	sim       *simulator.Simulator
	transport transport.TPM
}

func (s *simulatorTPM) Send(input []byte) ([]byte, error) {
	return s.transport.Send(input)
}

func (s *simulatorTPM) Close() error {
	return s.sim.Close()
}

func openSimulator(seed int64) (transport.TPMCloser, error) {
	sim, err := simulator.GetWithFixedSeedInsecure(seed)
	if err != nil {
		return nil, err
	}
	return &simulatorTPM{
		sim:       sim,
		transport: transport.FromReadWriter(sim),
	}, nil
}

func init() {
	simulatorOpener = openSimulator
}
