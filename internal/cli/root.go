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

// Package cli implements the tpmsecret command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeremyhahn/go-tpmsecret/internal/app"
	"github.com/jeremyhahn/go-tpmsecret/internal/config"
	"github.com/jeremyhahn/go-tpmsecret/pkg/tpm2"
	"github.com/spf13/cobra"
)

// Flags holds the persistent flags shared by every command
type Flags struct {
	ConfigFile   string
	Simulator    bool
	Device       string
	NoTPM        bool
	OutputFormat string
	Verbose      bool
}

// NewRootCmd builds the command tree. Each call has its own flags.
func NewRootCmd() *cobra.Command {
	flags := &Flags{}

	root := &cobra.Command{
		Use:   "tpmsecret",
		Short: "tpmsecret - TPM bound secret protection",
		Long: `tpmsecret keeps secrets encrypted in memory with keys bound to a TPM,
protects values for storage on this machine and derives shared secrets
with a remote key store.

The TPM is selected by the configuration file, the --device and
--simulator flags or the TPM_DEVICE_PATH and TPM_SIMULATOR_HOST
environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigFile, "config", "", "config file (YAML)")
	pf.BoolVar(&flags.Simulator, "simulator", false, "use the embedded TPM simulator")
	pf.StringVar(&flags.Device, "device", "", "TPM device or resource manager socket")
	pf.BoolVar(&flags.NoTPM, "no-tpm", false, "protect values in software only")
	pf.StringVarP(&flags.OutputFormat, "output", "o", "text", "output format (text, json)")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newVersionCmd(flags),
		newStatusCmd(flags),
		newHMACCmd(flags),
		newRandomCmd(flags),
		newProtectCmd(flags),
		newUnprotectCmd(flags),
		newSharedSecretCmd(flags),
		newServeCmd(flags),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		printer := NewPrinter(outputFormat(root), os.Stderr)
		_ = printer.PrintError(err)
		return err
	}
	return nil
}

func outputFormat(cmd *cobra.Command) string {
	if f := cmd.PersistentFlags().Lookup("output"); f != nil {
		return f.Value.String()
	}
	return string(OutputFormatText)
}

// loadConfig reads the config file and applies the persistent flags.
func (f *Flags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.ConfigFile)
	if err != nil {
		return nil, err
	}
	switch {
	case f.NoTPM:
		cfg.TPM.Enabled = false
	case f.Simulator:
		cfg.TPM.Enabled = true
		cfg.TPM.Config = *tpm2.SimulatorConfig()
	case f.Device != "":
		cfg.TPM.Enabled = true
		cfg.TPM.UseSimulator = false
		cfg.TPM.Device = f.Device
	}
	if f.Verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *Flags) openApp() (*app.App, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}

func (f *Flags) printer(cmd *cobra.Command) *Printer {
	return NewPrinter(f.OutputFormat, cmd.OutOrStdout())
}

// requireTPM returns the shared connection or an error naming the command.
func requireTPM(a *app.App, command string) (*tpm2.Shared, error) {
	shared := a.Shared()
	if shared == nil {
		return nil, fmt.Errorf("%s requires a TPM; remove --no-tpm or enable tpm in the config", command)
	}
	return shared, nil
}

// inputBytes returns the first argument, or stdin when there is none or
// it is "-".
func inputBytes(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) > 0 && args[0] != "-" {
		return []byte(args[0]), nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	return []byte(strings.TrimRight(string(b), "\r\n")), nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
