// File: cmd/serve.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/fetchproxy/internal/metrics"
	"github.com/xkilldash9x/fetchproxy/internal/observability"
	"github.com/xkilldash9x/fetchproxy/internal/server"
)

// newServeCmd creates and configures the `serve` command.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP fetch proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main.go (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			m := metrics.New()
			proxy := newProxy(ctx, cfg, m, logger)
			srv := server.New(cfg.Server(), proxy, m, Version, logger)
			return srv.ListenAndServe(ctx)
		},
	}

	serveCmd.Flags().String("listen", "0.0.0.0:8010", "address to listen on")
	serveCmd.Flags().String("cdp-host", "", "remote debugging host (overrides CDP_HOST)")
	serveCmd.Flags().Int("cdp-port", 9222, "remote debugging port")
	serveCmd.Flags().Duration("settle-delay", 0, "pause after DOMContentLoaded before evaluating (default from config, 2s)")

	bindFlag(serveCmd, "listen", "server.listen_addr")
	bindFlag(serveCmd, "cdp-host", "browser.host")
	bindFlag(serveCmd, "cdp-port", "browser.port")
	bindFlag(serveCmd, "settle-delay", "browser.settle_delay")
	return serveCmd
}
