package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/lock-runtime/internal/application"
	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

const barWidth = 24

type RenderOptions struct {
	Now time.Time
}

func renderView(views []application.SessionView, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Lock Runtime Sessions"),
		s.header.Render(fmt.Sprintf("sessions: %d", len(views))),
	}

	if len(views) == 0 {
		lines = append(lines, s.empty.Render("No active sessions."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, view := range views {
		lines = append(lines, s.section.Render(renderSession(view, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderSession(view application.SessionView, opts RenderOptions, s styles) string {
	parts := []string{
		s.session.Render(sessionTitle(view.Session)),
		statusLine(view, opts, s),
	}

	if view.Device != nil {
		parts = append(parts, deviceLine(*view.Device, s))
	}
	if view.State != nil {
		parts = append(parts, budgetLine(view, opts, s), s.detail.Render(workLine(view.State.Metrics)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func sessionTitle(session domain.PairingSession) string {
	purpose := strings.TrimSpace(session.Metadata.Purpose)
	if purpose == "" {
		return fmt.Sprintf("%s (%s)", session.ID, session.Mode)
	}
	return fmt.Sprintf("%s (%s, %s)", purpose, session.Mode, session.ID)
}

func statusLine(view application.SessionView, opts RenderOptions, s styles) string {
	session := view.Session
	line := s.label.Render("status: ") + s.detail.Render(string(session.Status))

	switch {
	case session.AwaitingScan():
		if !opts.Now.IsZero() {
			if session.IsExpired(opts.Now) {
				line += " " + s.warning.Render("[expired]")
			} else {
				line += " " + s.meta.Render("(pairing closes in "+humanDuration(session.ExpiresAt.Sub(opts.Now))+")")
			}
		}
	case view.State != nil && view.State.Paused():
		line += " " + s.warning.Render("[paused]")
	}

	if session.Metadata.MaxDuration > 0 && !session.PairedAt.IsZero() && !opts.Now.IsZero() {
		remaining := session.PairedAt.Add(session.Metadata.MaxDuration).Sub(opts.Now)
		if remaining > 0 {
			line += " " + s.meta.Render("(ends in "+humanDuration(remaining)+")")
		} else {
			line += " " + s.warning.Render("[over time]")
		}
	}

	return line
}

func deviceLine(device domain.DevicePair, s styles) string {
	trust := s.meta.Render(string(device.Trust))
	if device.Trust == domain.TrustTrusted {
		trust = s.trusted.Render(string(device.Trust))
	}

	names := device.Capabilities.Names()
	caps := make([]string, 0, len(names))
	for _, name := range names {
		caps = append(caps, string(name))
	}
	capabilities := "none"
	if len(caps) > 0 {
		capabilities = strings.Join(caps, ", ")
	}

	return s.label.Render("device: ") + s.detail.Render(string(device.Fingerprint)) + " " + trust +
		s.meta.Render(" ["+capabilities+"]")
}

func budgetLine(view application.SessionView, opts RenderOptions, s styles) string {
	label := s.label.Render("cloud budget:")
	if !view.Policy.CloudAllowed {
		return label + " " + s.meta.Render("local only")
	}

	state := view.State
	maxCalls := view.Policy.MaxCloudCalls
	usedPercent := 100.0
	if maxCalls > 0 {
		usedPercent = float64(state.Metrics.CloudCalls) / float64(maxCalls) * 100
	}
	leftPercent := clampPercent(100 - usedPercent)
	remainingCalls := maxCalls - int(state.Metrics.CloudCalls)
	if remainingCalls < 0 {
		remainingCalls = 0
	}

	meta := lipgloss.NewStyle().Foreground(interpolateColor(leftPercent, 0, 100)).
		Render(fmt.Sprintf("%d/%d calls left", remainingCalls, maxCalls))

	line := lipgloss.JoinHorizontal(lipgloss.Top, label, " ", renderProgressBar(usedPercent, barWidth, s), " ", meta)
	if cooldown := cooldownRemaining(state.LastCloudCall, view.Policy.MinCloudInterval, opts.Now); cooldown > 0 {
		line += " " + lipgloss.NewStyle().Foreground(cooldownColor(cooldown, view.Policy.MinCloudInterval)).
			Render("(next call in "+humanDuration(cooldown)+")")
	}

	return line
}

func workLine(m domain.Metrics) string {
	ratio := 1.0
	if m.Prompts > 0 {
		ratio = float64(m.LocalInferences) / float64(m.Prompts)
	}

	return fmt.Sprintf("prompts: %d, local: %d (%.0f%%), cloud: %d, deferred: %d, est. $%.4f",
		m.Prompts, m.LocalInferences, ratio*100, m.CloudCalls, m.RateLimited, m.EstimatedCloudUSD)
}

func cooldownRemaining(last time.Time, interval time.Duration, now time.Time) time.Duration {
	if last.IsZero() || now.IsZero() {
		return 0
	}
	return last.Add(interval).Sub(now)
}

func renderProgressBar(usedPercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	used := clampPercent(usedPercent)
	leftFraction := (100.0 - used) / 100.0
	filled := int(math.Round(float64(width) * leftFraction))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}

	empty := width - filled
	fillSegment := s.barFill.Render(strings.Repeat("=", filled))
	emptySegment := s.barEmpty.Render(strings.Repeat("-", empty))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		fillSegment,
		emptySegment,
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// humanDuration rounds up to the coarsest useful unit.
func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(math.Ceil(d.Seconds())))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(math.Ceil(d.Minutes())))
	default:
		hours := int(d.Hours())
		minutes := int(math.Ceil((d - time.Duration(hours)*time.Hour).Minutes()))
		if minutes == 60 {
			hours, minutes = hours+1, 0
		}
		return fmt.Sprintf("%dh%02dm", hours, minutes)
	}
}

func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	// ANSI 256 greyscale ramp, faded 240 up to bright 255
	baseColor := 240.0
	targetColor := 255.0
	colorCode := int(baseColor + (targetColor-baseColor)*normalized)

	return lipgloss.Color(fmt.Sprintf("%d", colorCode))
}

// cooldownColor brightens as the cooldown runs out.
func cooldownColor(remaining, interval time.Duration) lipgloss.Color {
	if interval <= 0 {
		return lipgloss.Color("255")
	}
	return interpolateColor(interval.Seconds()-remaining.Seconds(), 0, interval.Seconds())
}
