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

	"github.com/jeremyhahn/go-tpmsecret/pkg/sharedsecret"
	"github.com/jeremyhahn/go-tpmsecret/pkg/tpm2"
	"github.com/spf13/cobra"
)

type sessionFlags struct {
	token     string
	key       string
	algorithm string
}

func (sf *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&sf.token, "token", "t", "", "token the session is derived from (required)")
	cmd.Flags().StringVarP(&sf.key, "key", "k", "", "hex encoded key for the token HMAC")
	cmd.Flags().StringVarP(&sf.algorithm, "algorithm", "a", "", "digest (sha1, sha256, sha384, sha512); defaults to the TPM's strongest")
	_ = cmd.MarkFlagRequired("token")
}

func (sf *sessionFlags) open(cmd *cobra.Command, shared *tpm2.Shared) (*sharedsecret.Session, error) {
	var key []byte
	if sf.key != "" {
		var err error
		if key, err = hex.DecodeString(sf.key); err != nil {
			return nil, fmt.Errorf("invalid --key: %w", err)
		}
	}
	var opts []sharedsecret.Option
	if sf.algorithm != "" {
		hash, err := tpm2.ParseHash(sf.algorithm)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sharedsecret.WithAlgorithm(hash))
	}
	return sharedsecret.New(commandContext(cmd), shared, []byte(sf.token), key, opts...)
}

func newSharedSecretCmd(flags *Flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shared-secret",
		Short: "Agree on a secret with a remote key store",
		Long: `A session derived from a token publishes a secret the remote store
authenticates it with, and blinds the store's own secret before the store
keeps it. A later session from the same token on the same TPM unblinds the
stored value and derives the final secret.`,
	}
	cmd.AddCommand(newSharedSecretInitCmd(flags), newSharedSecretDeriveCmd(flags))
	return cmd
}

func newSharedSecretInitCmd(flags *Flags) *cobra.Command {
	var (
		sf     sessionFlags
		remote string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Start a session and blind a remote secret",
		Long: `Start a session and blind the remote secret given by --remote, or one
generated by the TPM. Store protected_remote with the remote key store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			shared, err := requireTPM(a, "shared-secret")
			if err != nil {
				return err
			}
			session, err := sf.open(cmd, shared)
			if err != nil {
				return err
			}
			defer session.Close()

			var remoteSecret []byte
			if remote != "" {
				if remoteSecret, err = hex.DecodeString(remote); err != nil {
					return fmt.Errorf("invalid --remote: %w", err)
				}
			} else if remoteSecret, err = shared.RandomBytes(commandContext(cmd), session.Size()); err != nil {
				return err
			}
			protected, err := session.ProtectRemoteSecret(remoteSecret)
			if err != nil {
				return err
			}

			return flags.printer(cmd).PrintFields([]Field{
				{"algorithm", session.Algorithm().String()},
				{"secret", hex.EncodeToString(session.Secret())},
				{"remote_secret", hex.EncodeToString(remoteSecret)},
				{"protected_remote", hex.EncodeToString(protected)},
			})
		},
	}

	sf.register(cmd)
	cmd.Flags().StringVarP(&remote, "remote", "r", "", "hex encoded remote secret")
	return cmd
}

func newSharedSecretDeriveCmd(flags *Flags) *cobra.Command {
	var (
		sf        sessionFlags
		protected string
	)

	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive the final secret from a stored protected remote secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			protectedRemote, err := hex.DecodeString(protected)
			if err != nil {
				return fmt.Errorf("invalid --protected-remote: %w", err)
			}

			a, err := flags.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			shared, err := requireTPM(a, "shared-secret")
			if err != nil {
				return err
			}
			session, err := sf.open(cmd, shared)
			if err != nil {
				return err
			}
			final, err := session.DeriveFinalSecretAndClose(commandContext(cmd), protectedRemote)
			if err != nil {
				return err
			}
			return flags.printer(cmd).PrintValue("final_secret", hex.EncodeToString(final))
		},
	}

	sf.register(cmd)
	cmd.Flags().StringVarP(&protected, "protected-remote", "p", "", "hex encoded protected remote secret (required)")
	_ = cmd.MarkFlagRequired("protected-remote")
	return cmd
}
