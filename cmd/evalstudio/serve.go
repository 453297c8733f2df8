package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chanyong1027/evalstudio/internal/server"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	var ttl int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis pipeline over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(ctx, opts)
			if err != nil {
				return err
			}
			srv := cfg.Server()
			if cmd.Flags().Changed("addr") {
				srv.Addr = addr
			}
			if cmd.Flags().Changed("cache-ttl-seconds") {
				srv.CacheTTLSeconds = ttl
			}
			return server.Serve(ctx, srv)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", server.DefaultConfig().Addr, "listen address")
	cmd.Flags().IntVar(&ttl, "cache-ttl-seconds", server.DefaultConfig().CacheTTLSeconds, "result cache TTL; 0 disables caching")
	return cmd
}
