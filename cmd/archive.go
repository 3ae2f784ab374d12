package cmd

import (
	"fmt"
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/spf13/cobra"
)

func newArchiveCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect archived sessions",
	}

	cmd.AddCommand(newArchiveShowCmd(c))

	return cmd
}

func newArchiveShowCmd(c *cli) *cobra.Command {
	var (
		asJSON bool
		reveal bool
	)

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show the archive of an ended session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.App(cmd.Context())
			if err != nil {
				return err
			}

			archive, err := app.runtime.Archive(cmd.Context(), domain.SessionID(args[0]))
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, archive)
			}

			out := cmd.OutOrStdout()
			f := &fieldWriter{w: out}
			f.field("session", string(archive.SessionID))
			f.field("purpose", archive.Purpose)
			f.field("mode", string(archive.Mode))
			f.field("reason", string(archive.Reason))
			f.field("ended", archive.EndedAt.Format(time.RFC3339))
			f.field("stats", statsLine(archive.Stats))
			f.field("memory", fmt.Sprintf("%d entries", len(archive.Memory)))
			if f.err != nil {
				return f.err
			}

			for _, entry := range archive.Memory {
				content := "[sealed]"
				if !entry.Encrypted || reveal {
					content, err = app.runtime.OpenMemory(entry)
					if err != nil {
						return err
					}
				}
				if _, err := fmt.Fprintf(out, "  %s\t%s\t%s\n", entry.Timestamp.Format(time.RFC3339), entry.Type, content); err != nil {
					return err
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON output")
	cmd.Flags().BoolVar(&reveal, "reveal", false, "unseal encrypted memory entries")

	return cmd
}

func newEventsCmd(c *cli) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent runtime events, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.App(cmd.Context())
			if err != nil {
				return err
			}

			events, err := app.runtime.RecentEvents(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, events)
			}

			for _, event := range events {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n",
					event.Timestamp.Format(time.RFC3339), event.Type, event.SessionID); err != nil {
					return err
				}
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON output")

	return cmd
}
