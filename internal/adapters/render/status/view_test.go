package status

import (
	"testing"
	"time"

	"github.com/bnema/lock-runtime/internal/application"
	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairedView(now time.Time) application.SessionView {
	state := domain.NewLockState("sess-1", "fp-1", nil, now.Add(-time.Hour))
	state.LastCloudCall = now.Add(-10 * time.Second)
	state.Metrics = domain.Metrics{Prompts: 4, LocalInferences: 1, CloudCalls: 3, EstimatedCloudUSD: 0.0125}

	return application.SessionView{
		Session: domain.PairingSession{
			ID:       "sess-1",
			Mode:     domain.ModeSoft,
			Status:   domain.SessionStatusPaired,
			PairedAt: now.Add(-time.Hour),
			Metadata: domain.SessionMetadata{Purpose: "Research", AllowCloud: true},
		},
		State: &state,
		Device: &domain.DevicePair{
			Fingerprint:  "fp-1",
			Trust:        domain.TrustKnown,
			Capabilities: domain.DeviceCapabilities{GPU: true, Network: true},
		},
		Policy: domain.ExecutionPolicy{
			CloudAllowed:     true,
			MaxCloudCalls:    10,
			MinCloudInterval: 30 * time.Second,
		},
	}
}

func TestRenderPairedSession(t *testing.T) {
	now := time.Date(2026, 2, 14, 11, 0, 0, 0, time.UTC)

	output, err := Render([]application.SessionView{pairedView(now)}, RenderOptions{Now: now})

	require.NoError(t, err)
	assert.Contains(t, output, "Lock Runtime Sessions")
	assert.Contains(t, output, "sessions: 1")
	assert.Contains(t, output, "Research (soft, sess-1)")
	assert.Contains(t, output, "status: paired")
	assert.Contains(t, output, "device: fp-1 known [gpu, network]")
	assert.Contains(t, output, "cloud budget:")
	assert.Contains(t, output, "7/10 calls left")
	assert.Contains(t, output, "(next call in 20s)")
	assert.Contains(t, output, "local: 1 (25%)")
	assert.Contains(t, output, "est. $0.0125")
	assert.NotContains(t, output, "[paused]")
}

func TestRenderMultipleSessions(t *testing.T) {
	now := time.Date(2026, 2, 14, 11, 0, 0, 0, time.UTC)

	waiting := application.SessionView{
		Session: domain.PairingSession{
			ID:        "sess-2",
			Mode:      domain.ModePrivate,
			Status:    domain.SessionStatusAwaitingScan,
			ExpiresAt: now.Add(3 * time.Minute),
		},
	}

	output, err := Render([]application.SessionView{pairedView(now), waiting}, RenderOptions{Now: now})

	require.NoError(t, err)
	assert.Contains(t, output, "sessions: 2")
	assert.Contains(t, output, "sess-2 (private)")
	assert.Contains(t, output, "status: awaiting_scan")
	assert.Contains(t, output, "(pairing closes in 3m)")
}

func TestRenderMarksExpiredScanWindow(t *testing.T) {
	now := time.Date(2026, 2, 14, 11, 0, 0, 0, time.UTC)

	output, err := Render([]application.SessionView{{
		Session: domain.PairingSession{
			ID:        "sess-3",
			Mode:      domain.ModeSoft,
			Status:    domain.SessionStatusAwaitingScan,
			ExpiresAt: now.Add(-time.Second),
		},
	}}, RenderOptions{Now: now})

	require.NoError(t, err)
	assert.Contains(t, output, "[expired]")
}

func TestRenderPausedSessionAndLocalOnlyPolicy(t *testing.T) {
	now := time.Date(2026, 2, 14, 11, 0, 0, 0, time.UTC)
	view := pairedView(now)
	view.Session.Status = domain.SessionStatusPaused
	view.State.AgentActive = false
	view.State.PausedAt = now
	view.Policy = domain.ExecutionPolicy{}

	output, err := Render([]application.SessionView{view}, RenderOptions{Now: now})

	require.NoError(t, err)
	assert.Contains(t, output, "[paused]")
	assert.Contains(t, output, "cloud budget: local only")
	assert.NotContains(t, output, "calls left")
}

func TestRenderMaxDurationCountdown(t *testing.T) {
	now := time.Date(2026, 2, 14, 11, 0, 0, 0, time.UTC)
	view := pairedView(now)
	view.Session.Metadata.MaxDuration = 90 * time.Minute

	output, err := Render([]application.SessionView{view}, RenderOptions{Now: now})

	require.NoError(t, err)
	assert.Contains(t, output, "(ends in 30m)")
}

func TestRenderWithoutNowSkipsCountdowns(t *testing.T) {
	now := time.Date(2026, 2, 14, 11, 0, 0, 0, time.UTC)

	output, err := Render([]application.SessionView{pairedView(now)}, RenderOptions{})

	require.NoError(t, err)
	assert.NotContains(t, output, "next call in")
	assert.NotContains(t, output, "ends in")
}

func TestRenderEmpty(t *testing.T) {
	output, err := Render(nil, RenderOptions{})

	require.NoError(t, err)
	assert.Contains(t, output, "sessions: 0")
	assert.Contains(t, output, "No active sessions.")
}

func TestHumanDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{1500 * time.Millisecond, "2s"},
		{90 * time.Second, "2m"},
		{2*time.Hour + 5*time.Minute, "2h05m"},
		{2*time.Hour + 59*time.Minute + 30*time.Second, "3h00m"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, humanDuration(tt.in), tt.in.String())
	}
}

func TestRenderProgressBarClampsWidth(t *testing.T) {
	s := newStyles()

	assert.Equal(t, "", renderProgressBar(50, 0, s))
	assert.Contains(t, renderProgressBar(150, 4, s), "----")
	assert.Contains(t, renderProgressBar(-10, 4, s), "====")
}
