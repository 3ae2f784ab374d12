package cmd

import (
	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/spf13/cobra"
)

func newSandboxCmd(c *cli) *cobra.Command {
	var require []string

	cmd := &cobra.Command{
		Use:   "sandbox <session-id>",
		Short: "Print the sandbox configuration of a paired session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.App(cmd.Context())
			if err != nil {
				return err
			}

			requested := make([]domain.Capability, 0, len(require))
			for _, name := range require {
				requested = append(requested, domain.Capability(name))
			}

			cfg, err := app.runtime.Sandbox(cmd.Context(), domain.SessionID(args[0]), requested...)
			if err != nil {
				return err
			}

			return writeJSON(cmd, cfg)
		},
	}

	cmd.Flags().StringSliceVar(&require, "require", nil, "capability the sandbox must grant (repeatable)")

	return cmd
}
