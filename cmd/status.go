package cmd

import (
	"context"
	"fmt"

	statusadapter "github.com/bnema/lock-runtime/internal/adapters/render/status"
	"github.com/bnema/lock-runtime/internal/application"
	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/spf13/cobra"
)

func writeSessionViews(cmd *cobra.Command, app *app, views []application.SessionView, asJSON bool) error {
	if asJSON {
		return writeJSON(cmd, views)
	}

	rendered, err := app.statusRenderer(views, statusadapter.RenderOptions{Now: app.now()})
	if err != nil {
		return fmt.Errorf("render status: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}

func loadSessionViews(ctx context.Context, app *app, args []string) ([]application.SessionView, error) {
	if len(args) == 0 {
		return app.runtime.ListSessions(ctx)
	}

	view, err := app.runtime.Session(ctx, domain.SessionID(args[0]))
	if err != nil {
		return nil, err
	}

	return []application.SessionView{view}, nil
}
