package main

import (
	"github.com/spf13/cobra"

	"lockgate/cmd/internal/app"
)

func newServeCmd() *cobra.Command {
	var addr, logFormat string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gate daemon (HTTP, websocket and metrics)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.LoadConfig()
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			if logFormat != "" {
				cfg.LogFormat = logFormat
			}
			log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides LOCKGATE_HTTP_ADDR)")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "json or pretty (overrides LOCKGATE_LOG_FORMAT)")
	return cmd
}
