package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/lock-runtime/internal/application"
	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/spf13/cobra"
)

const pairPollInterval = 500 * time.Millisecond

var errPairingWindowClosed = errors.New("pairing window closed before a device scanned the code")

func newSessionCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create, pair and drive lock sessions",
	}

	cmd.AddCommand(
		newSessionCreateCmd(c),
		newSessionPairCmd(c),
		newSessionSendCmd(c),
		newSessionStatusCmd(c),
		newSessionSweepCmd(c),
		newSessionResumeCmd(c),
	)

	return cmd
}

func newSessionCreateCmd(c *cli) *cobra.Command {
	var (
		command             application.CreateSessionCommand
		mode                string
		requireConfirmation bool
		asJSON              bool
		wait                bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pairing session and print its QR payload",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.App(cmd.Context())
			if err != nil {
				return err
			}

			command.Mode = domain.Mode(strings.ToLower(strings.TrimSpace(mode)))
			if cmd.Flags().Changed("require-confirmation") {
				command.RequireConfirmation = &requireConfirmation
			}

			created, err := app.pairing.CreateSession(cmd.Context(), command)
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}

			if asJSON {
				if err := writeJSON(cmd, created); err != nil {
					return err
				}
			} else {
				f := &fieldWriter{w: cmd.OutOrStdout()}
				f.field("session", string(created.Session.ID))
				f.field("mode", string(created.Session.Mode))
				f.field("token", created.Token)
				f.field("expires", created.Session.ExpiresAt.Format(time.RFC3339))
				f.field("callback", created.QR.CallbackURL)
				f.field("qr", created.QRCode)
				if f.err != nil {
					return f.err
				}
			}

			if !wait {
				return nil
			}

			waitForScan := func(ctx context.Context) error {
				return waitForPairing(ctx, app, created.Session.ID, created.Session.ExpiresAt)
			}
			if err := runPairWaitSpinner(cmd.Context(), cmd.ErrOrStderr(), waitForScan); err != nil {
				return err
			}

			view, err := app.runtime.Session(cmd.Context(), created.Session.ID)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "paired: %s\n", view.Session.DeviceFingerprint)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&command.Purpose, "purpose", "", "what the session is for")
	flags.StringVar(&command.VaultID, "vault", "", "vault the session belongs to")
	flags.StringVar(&command.AgentID, "agent", "", "agent that will run in the session")
	flags.StringVar(&mode, "mode", string(domain.ModeSoft), "session mode: soft, private or strict")
	flags.BoolVar(&command.AllowCloud, "allow-cloud", false, "allow cloud escalation in soft mode")
	flags.BoolVar(&requireConfirmation, "require-confirmation", false, "require confirmation before cloud calls (defaults to the mode)")
	flags.DurationVar(&command.MaxDuration, "max-duration", 0, "end the session after this long once paired")
	flags.BoolVar(&asJSON, "json", false, "print JSON output")
	flags.BoolVar(&wait, "wait", false, "wait until a device pairs or the pairing window closes")

	return cmd
}

// waitForPairing polls the store so that a pairing handled by another
// process, typically lockrt serve, is observed.
func waitForPairing(ctx context.Context, app *app, id domain.SessionID, expiresAt time.Time) error {
	ctx, cancel := context.WithDeadline(ctx, expiresAt)
	defer cancel()

	ticker := time.NewTicker(pairPollInterval)
	defer ticker.Stop()

	for {
		view, err := app.runtime.Session(ctx, id)
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			return errPairingWindowClosed
		case errors.Is(err, context.DeadlineExceeded):
			return errPairingWindowClosed
		case err != nil:
			return err
		case !view.Session.AwaitingScan():
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errPairingWindowClosed
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func newSessionPairCmd(c *cli) *cobra.Command {
	var (
		token  string
		device deviceFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "pair <session-id>",
		Short: "Pair this terminal as the device for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.App(cmd.Context())
			if err != nil {
				return err
			}

			result, err := app.pairing.ValidatePairing(cmd.Context(), application.ValidatePairingCommand{
				SessionID: domain.SessionID(args[0]),
				Device:    device.info(),
				Token:     token,
			})
			if err != nil {
				return fmt.Errorf("pair session: %w", err)
			}

			if asJSON {
				if err := writeJSON(cmd, result); err != nil {
					return err
				}
			}
			if !result.Valid {
				return fmt.Errorf("pairing rejected: %s", result.Reason)
			}
			if asJSON {
				return nil
			}

			f := &fieldWriter{w: cmd.OutOrStdout()}
			f.field("paired", args[0])
			f.field("device", string(result.DeviceFingerprint))
			if result.Device != nil {
				f.field("trust", string(result.Device.Trust))
			}
			f.field("greeting", result.Greeting)
			return f.err
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "pairing token printed by session create")
	_ = cmd.MarkFlagRequired("token")
	deviceInfoFlags(cmd, &device)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON output")

	return cmd
}

func newSessionSendCmd(c *cli) *cobra.Command {
	var (
		payload domain.MessagePayload
		request domain.APIRequest
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "send <session-id> <prompt|memory_write|api_request|pause|resume|transfer|end>",
		Short: "Send a runtime message to a paired session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.App(cmd.Context())
			if err != nil {
				return err
			}

			msgType := domain.MessageType(strings.ToLower(strings.TrimSpace(args[1])))
			if msgType == domain.MessageAPIRequest {
				payload.Request = &request
			}

			result, err := app.runtime.Handle(cmd.Context(), domain.SessionID(args[0]), domain.RuntimeMessage{
				Type:    msgType,
				Payload: payload,
			})
			if err != nil {
				return fmt.Errorf("send %s: %w", msgType, err)
			}

			if asJSON {
				return writeJSON(cmd, result)
			}
			return writeResult(cmd, result)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&payload.Prompt, "prompt", "", "prompt text")
	flags.BoolVar(&payload.PreferLocal, "prefer-local", false, "answer locally even when cloud is allowed")
	flags.StringVar(&payload.MemoryType, "memory-type", "", "memory entry type")
	flags.StringVar(&payload.Content, "content", "", "memory entry content")
	flags.BoolVar(&payload.Encrypt, "encrypt", false, "seal the memory entry")
	flags.BoolVar(&payload.LocalOnly, "local-only", false, "keep the memory entry out of transfers")
	flags.StringVar(&request.Method, "method", "GET", "api_request method")
	flags.StringVar(&request.URL, "url", "", "api_request URL")
	flags.StringVar(&request.Body, "body", "", "api_request body")
	flags.BoolVar(&asJSON, "json", false, "print JSON output")

	return cmd
}

func newSessionStatusCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status [session-id]",
		Short: "Show active sessions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.App(cmd.Context())
			if err != nil {
				return err
			}

			views, err := loadSessionViews(cmd.Context(), app, args)
			if err != nil {
				return err
			}

			return writeSessionViews(cmd, app, views, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON output")

	return cmd
}

func newSessionSweepCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale sessions and transfers once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.App(cmd.Context())
			if err != nil {
				return err
			}

			report, err := app.sweeper.SweepOnce(cmd.Context())
			_, printErr := fmt.Fprintf(cmd.OutOrStdout(), "expired: %d, timed out: %d, reaped: %d, transfers expired: %d\n",
				len(report.Expired), len(report.TimedOut), len(report.Reaped), report.TransfersExpired)

			return errors.Join(err, printErr)
		},
	}
}

func newSessionResumeCmd(c *cli) *cobra.Command {
	var (
		device deviceFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "resume <transfer-token>",
		Short: "Resume a transferred session on this device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.App(cmd.Context())
			if err != nil {
				return err
			}

			result, err := app.runtime.RedeemTransfer(cmd.Context(), application.RedeemTransferCommand{
				Token:  args[0],
				Device: device.info(),
			})
			if err != nil {
				return fmt.Errorf("resume transfer: %w", err)
			}

			if asJSON {
				return writeJSON(cmd, result)
			}

			f := &fieldWriter{w: cmd.OutOrStdout()}
			f.field("resumed", string(result.Session.ID))
			f.field("device", string(result.DeviceFingerprint))
			f.field("memory", fmt.Sprintf("%d entries", len(result.Memory)))
			return f.err
		},
	}

	deviceInfoFlags(cmd, &device)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON output")

	return cmd
}
