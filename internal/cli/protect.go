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
	"fmt"

	"github.com/jeremyhahn/go-tpmsecret/internal/app"
	"github.com/jeremyhahn/go-tpmsecret/pkg/securedvalue"
	"github.com/jeremyhahn/go-tpmsecret/pkg/secret"
	"github.com/jeremyhahn/go-tpmsecret/pkg/valueprotection"
	"github.com/spf13/cobra"
)

func newProtectCmd(flags *Flags) *cobra.Command {
	var software bool

	cmd := &cobra.Command{
		Use:   "protect [value]",
		Short: "Encrypt a value for storage on this machine",
		Long: `Encrypt a value read from the argument or stdin so that only this
machine can decrypt it. With a TPM the storage key is also bound to the
TPM unless --software is given. The output is base64.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := inputBytes(cmd, args)
			if err != nil {
				return err
			}
			defer secret.Zero(value)

			a, err := flags.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			protected, err := protectValue(cmd, a, value, software)
			if err != nil {
				return err
			}
			return flags.printer(cmd).PrintValue("protected", base64.StdEncoding.EncodeToString(protected))
		},
	}

	cmd.Flags().BoolVar(&software, "software", false, "do not bind the storage key to the TPM")
	return cmd
}

func newUnprotectCmd(flags *Flags) *cobra.Command {
	var software bool

	cmd := &cobra.Command{
		Use:   "unprotect [protected]",
		Short: "Decrypt a value produced by protect",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			encoded, err := inputBytes(cmd, args)
			if err != nil {
				return err
			}
			protected, err := base64.StdEncoding.DecodeString(string(encoded))
			if err != nil {
				return fmt.Errorf("invalid protected value: %w", err)
			}

			a, err := flags.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			value, err := unprotectValue(cmd, a, protected, software)
			if err != nil {
				return err
			}
			defer secret.Zero(value)
			return flags.printer(cmd).PrintValue("value", string(value))
		},
	}

	cmd.Flags().BoolVar(&software, "software", false, "the value was protected with --software")
	return cmd
}

func protectValue(cmd *cobra.Command, a *app.App, value []byte, software bool) ([]byte, error) {
	ctx := commandContext(cmd)
	shared := a.Shared()
	if shared == nil {
		return valueprotection.Protect(ctx, nil, value, valueprotection.ScopeSystem)
	}
	ds, err := securedvalue.NewDeviceSecret(ctx, shared, value, deviceOptions(a, software)...)
	if err != nil {
		return nil, err
	}
	defer ds.Close()
	return ds.StorableValue(ctx)
}

func unprotectValue(cmd *cobra.Command, a *app.App, protected []byte, software bool) ([]byte, error) {
	ctx := commandContext(cmd)
	shared := a.Shared()
	if shared == nil {
		return valueprotection.Unprotect(ctx, nil, protected, valueprotection.ScopeSystem)
	}
	ds, err := securedvalue.DeviceSecretFromStoredValue(ctx, shared, protected, deviceOptions(a, software)...)
	if err != nil {
		return nil, err
	}
	defer ds.Close()
	return ds.Get(ctx)
}

func deviceOptions(a *app.App, software bool) []securedvalue.Option {
	opts := []securedvalue.Option{securedvalue.WithName("cli")}
	if software {
		opts = append(opts, securedvalue.WithSoftwareStorage())
	}
	return a.ValueOptions(opts...)
}
