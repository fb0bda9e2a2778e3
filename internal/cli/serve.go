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
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-tpmsecret/internal/rest"
	"github.com/jeremyhahn/go-tpmsecret/pkg/metrics"
	"github.com/jeremyhahn/go-tpmsecret/pkg/securedvalue"
	"github.com/spf13/cobra"
)

const collectorInterval = 15 * time.Second

func newServeCmd(flags *Flags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve status, health and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.Config.Server
			if listen != "" {
				cfg.Listen = listen
			}
			if cfg.MetricsEnabled {
				metrics.Enable()
			} else {
				metrics.Disable()
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server, err := rest.NewServer(&rest.Config{
				Listen:         cfg.Listen,
				StatusPath:     cfg.StatusPath,
				HealthPath:     cfg.HealthPath,
				MetricsPath:    cfg.MetricsPath,
				MetricsEnabled: cfg.MetricsEnabled,
				Device:         a.Device(),
				HealthChecker:  a.Health,
				Logger:         a.Logger.With("component", "rest"),
				ReadTimeout:    cfg.ReadTimeout,
			})
			if err != nil {
				return err
			}

			if cfg.MetricsEnabled {
				collector := metrics.NewResourceCollector(ctx, collectorInterval, securedvalue.Count)
				go collector.Start()
				defer collector.Stop()
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return server.Stop(shutdownCtx)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address or unix:/path (overrides server.listen)")
	return cmd
}
