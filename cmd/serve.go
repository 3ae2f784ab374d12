package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(c *cli) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pairing and runtime API and sweep expired sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.App(cmd.Context())
			if err != nil {
				return err
			}

			addr := app.settings.HTTP.Listen
			if listen != "" {
				addr = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c.logger.Info("starting lock runtime",
				zap.String("addr", addr),
				zap.String("store", app.settings.StoreDir),
				zap.Bool("sealer", app.settings.Sealer))

			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return app.server.Run(ctx, addr)
			})
			group.Go(func() error {
				return app.sweeper.Run(ctx)
			})

			return group.Wait()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides http.listen)")

	return cmd
}
