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
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

func newRandomCmd(flags *Flags) *cobra.Command {
	var (
		size     int
		encoding string
	)

	cmd := &cobra.Command{
		Use:   "random",
		Short: "Read random bytes from the TPM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if size <= 0 {
				return fmt.Errorf("--size must be positive")
			}
			encode, err := encoder(encoding)
			if err != nil {
				return err
			}

			a, err := flags.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			shared, err := requireTPM(a, "random")
			if err != nil {
				return err
			}
			b, err := shared.RandomBytes(commandContext(cmd), size)
			if err != nil {
				return err
			}
			return flags.printer(cmd).PrintValue("random", encode(b))
		},
	}

	cmd.Flags().IntVarP(&size, "size", "n", 32, "number of bytes")
	cmd.Flags().StringVarP(&encoding, "encoding", "e", "hex", "output encoding (hex, base64)")
	return cmd
}

func encoder(name string) (func([]byte) string, error) {
	switch name {
	case "hex":
		return hex.EncodeToString, nil
	case "base64":
		return base64.StdEncoding.EncodeToString, nil
	default:
		return nil, fmt.Errorf("unknown encoding: %s", name)
	}
}
