package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/spf13/cobra"
)

func writeJSON(cmd *cobra.Command, value any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

// fieldWriter prints "label: value" lines and skips empty values.
type fieldWriter struct {
	w   io.Writer
	err error
}

func (f *fieldWriter) field(label string, value string) {
	if f.err != nil || strings.TrimSpace(value) == "" {
		return
	}
	_, f.err = fmt.Fprintf(f.w, "%s: %s\n", label, value)
}

func writeResult(cmd *cobra.Command, result domain.RuntimeResult) error {
	f := &fieldWriter{w: cmd.OutOrStdout()}

	f.field("outcome", string(result.Outcome))
	f.field("reason", string(result.Reason))
	f.field("response", result.Response)
	f.field("suggestion", result.Suggestion)
	if result.Estimate != nil {
		f.field("estimate", fmt.Sprintf("%d units, $%.4f", result.Estimate.TotalUnits, result.Estimate.USD))
	}
	if result.RequiresConfirmation {
		f.field("confirmation", "required")
	}
	if result.RetryAfter > 0 {
		f.field("retry after", result.RetryAfter.String())
	}
	f.field("memory", result.MemoryID)
	if result.Transfer != nil {
		f.field("transfer", result.Transfer.URL)
		f.field("transfer token", result.Transfer.Token)
		f.field("transfer expires", result.Transfer.ExpiresAt.Format(time.RFC3339))
	}
	f.field("summary", result.Summary)
	if result.Stats != nil {
		f.field("stats", statsLine(*result.Stats))
	}

	return f.err
}

func statsLine(stats domain.SessionStats) string {
	return fmt.Sprintf("%s, %d prompts, %d local, %d cloud, local ratio %.0f%%, saved $%.4f",
		stats.Duration.Round(time.Second), stats.Prompts, stats.LocalInferences, stats.CloudCalls,
		stats.LocalRatio*100, stats.EstimatedSavingsUSD)
}

func deviceInfoFlags(cmd *cobra.Command, info *deviceFlags) {
	cmd.Flags().StringVar(&info.userAgent, "user-agent", "lockrt-cli", "device user agent")
	cmd.Flags().StringVar(&info.platform, "platform", "", "device platform")
	cmd.Flags().StringVar(&info.screen, "screen", "", "device screen size, e.g. 390x844")
	cmd.Flags().StringSliceVar(&info.capabilities, "capability", nil, "advertised device capability (repeatable)")
}

type deviceFlags struct {
	userAgent    string
	platform     string
	screen       string
	capabilities []string
}

func (d deviceFlags) info() domain.DeviceInfo {
	caps := make([]domain.Capability, 0, len(d.capabilities))
	for _, name := range d.capabilities {
		caps = append(caps, domain.Capability(name))
	}

	return domain.DeviceInfo{
		UserAgent:    d.userAgent,
		Platform:     d.platform,
		ScreenSize:   d.screen,
		Capabilities: caps,
	}
}
