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
	"encoding/hex"
	"fmt"
	"os"

	"github.com/jeremyhahn/go-tpmsecret/pkg/mac"
	"github.com/jeremyhahn/go-tpmsecret/pkg/tpm2"
	"github.com/spf13/cobra"
)

func newHMACCmd(flags *Flags) *cobra.Command {
	var (
		algorithm string
		keyHex    string
		file      string
	)

	cmd := &cobra.Command{
		Use:   "hmac [data]",
		Short: "Compute an HMAC on the TPM or in software",
		Long: `Compute an HMAC of data read from the argument, --file or stdin.

Without --algorithm the TPM computes the HMAC with its strongest digest.
Software algorithms (HMAC-SHA256, ...) do not need a TPM; hardware
algorithms (TPMHMAC-SHA256, ...) do.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			var data []byte
			var err error
			if file != "" {
				data, err = os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", file, err)
				}
			} else if data, err = inputBytes(cmd, args); err != nil {
				return err
			}

			var key []byte
			if keyHex != "" {
				if key, err = hex.DecodeString(keyHex); err != nil {
					return fmt.Errorf("invalid --key: %w", err)
				}
			}

			a, err := flags.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var digest []byte
			if algorithm == "" {
				shared, err := requireTPM(a, "hmac")
				if err != nil {
					return err
				}
				digest, err = shared.HMAC(ctx, data, key)
				if err != nil {
					return err
				}
			} else {
				alg, err := mac.ByName(algorithm)
				if err != nil {
					return err
				}
				var engine tpm2.HMACEngine
				if shared := a.Shared(); shared != nil {
					engine = shared
				}
				digest, err = tpm2.Sum(ctx, engine, alg, data, key)
				if err != nil {
					return err
				}
			}
			return flags.printer(cmd).PrintValue("hmac", hex.EncodeToString(digest))
		},
	}

	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", "", "MAC algorithm name (see 'hmac algorithms')")
	cmd.Flags().StringVarP(&keyHex, "key", "k", "", "hex encoded HMAC key")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read data from file")
	cmd.AddCommand(newHMACListCmd(flags))
	return cmd
}

func newHMACListCmd(flags *Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "algorithms",
		Short: "List registered MAC algorithms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			algs := mac.All()
			fields := make([]Field, 0, len(algs))
			for _, alg := range algs {
				kind := "software"
				if alg.UsesHardware {
					kind = "tpm"
				}
				fields = append(fields, Field{alg.Name, fmt.Sprintf("id=%d size=%d %s", alg.ID, alg.MACLength(), kind)})
			}
			return flags.printer(cmd).PrintFields(fields)
		},
	}
}
