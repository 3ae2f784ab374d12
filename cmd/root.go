package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/bnema/lock-runtime/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func Execute() error {
	rootCmd, c := newRootCmd()
	defer c.close()

	return rootCmd.Execute()
}

// cli holds state shared by every subcommand. The app is wired on first
// use so that commands like version never touch the store.
type cli struct {
	configPath string
	verbose    bool

	logger *zap.Logger
	app    *app
}

func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{logger: zap.NewNop()}

	rootCmd := &cobra.Command{
		Use:           "lockrt",
		Short:         "Lock Runtime (lockrt): pair a device and run an agent on it",
		Long:          "lockrt pairs a device with a one-time QR session, then runs the agent session locally on that device, escalating to cloud inference only within the session's policy.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			logger, err := logging.New(c.verbose)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			c.logger = logger
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (default ~/.lockrt/config.toml)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(c),
		newSessionCmd(c),
		newArchiveCmd(c),
		newEventsCmd(c),
		newSandboxCmd(c),
	)

	return rootCmd, c
}

func (c *cli) App(ctx context.Context) (*app, error) {
	if c.app != nil {
		return c.app, nil
	}

	app, err := wireApp(ctx, c.configPath, c.logger)
	if err != nil {
		return nil, err
	}
	c.app = app

	return app, nil
}

func (c *cli) close() {
	if c.app != nil {
		if err := c.app.Close(); err != nil {
			c.logger.Warn("close app", zap.Error(err))
		}
		c.app = nil
	}
	// stderr cannot be synced on most terminals
	if err := c.logger.Sync(); err != nil && !errors.Is(err, syscall.ENOTTY) && !errors.Is(err, syscall.EINVAL) {
		_, _ = fmt.Fprintf(os.Stderr, "sync logger: %v\n", err)
	}
}
