package main

import (
	"github.com/spf13/cobra"

	"github.com/jeanpaul/danzar/internal/api"
)

func newServeCmd(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and websocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := wireApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			a.start(ctx)
			defer a.Close()
			defer cancel()

			if addr == "" {
				addr = c.cfg.Server.Addr
			}
			srv := api.New(api.Options{
				Dispatcher:  a.dispatcher,
				Sessions:    a.sessions,
				Commentator: a.commentator,
				MemorySize:  a.store.Len,
				AuthToken:   c.cfg.Server.AuthToken,
				CORSOrigins: c.cfg.Server.CORSOrigins,
				Logger:      c.logger,
			})
			return srv.Serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}
