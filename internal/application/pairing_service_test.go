package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairingServiceCreateSessionKeepsTokenOutOfQR(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	created := h.create(t, CreateSessionCommand{Purpose: "focus", VaultID: "vault-1", AllowCloud: true})

	assert.Equal(t, domain.SessionStatusAwaitingScan, created.Session.Status)
	assert.Equal(t, testEpoch.Add(5*time.Minute), created.Session.ExpiresAt)
	assert.Equal(t, domain.ModeSoft, created.Session.Mode)
	assert.Len(t, created.QR.TokenPrefix, domain.TokenPrefixLength)
	assert.Equal(t, created.Token[:domain.TokenPrefixLength], created.QR.TokenPrefix)
	assert.NotContains(t, created.QRCode, created.Token)
	assert.Equal(t, "https://lock.example/v1/sessions/"+string(created.Session.ID)+"/pair", created.QR.CallbackURL)

	stored, err := h.stores.Sessions.GetByID(context.Background(), created.Session.ID)
	require.NoError(t, err)
	assert.NotEqual(t, created.Token, stored.TokenHash)
	assert.True(t, domain.TokenMatches(stored.TokenHash, created.Token))
}

func TestPairingServiceCreateSessionRejectsUnknownMode(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.pairing.CreateSession(context.Background(), CreateSessionCommand{Mode: "loud"})
	require.Error(t, err)
}

func TestPairingServiceValidatePairingSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	created, result := h.pair(t, CreateSessionCommand{AgentID: "agent-7", Mode: domain.ModePrivate})

	require.NotNil(t, result.Session)
	require.NotNil(t, result.LockState)
	require.NotNil(t, result.Device)
	assert.Equal(t, domain.SessionStatusPaired, result.Session.Status)
	assert.Equal(t, result.DeviceFingerprint, result.LockState.DeviceFingerprint)
	assert.True(t, result.LockState.Locked)
	assert.True(t, result.LockState.AgentActive)
	assert.Equal(t, testEpoch, result.LockState.StartedAt)
	require.NotNil(t, result.LockState.Agent)
	assert.Equal(t, "agent-7", result.LockState.Agent.ID)
	assert.Equal(t, "local_only", result.LockState.Agent.MemoryPolicy)
	assert.Equal(t, domain.TrustNew, result.Device.Trust)
	assert.Contains(t, result.Greeting, "ios")

	device, err := h.stores.Devices.GetByFingerprint(context.Background(), result.DeviceFingerprint)
	require.NoError(t, err)
	assert.Equal(t, created.Session.ID, device.SessionID)
	assert.Equal(t, created.Session.ID, device.LastSessionID)
	assert.True(t, device.Capabilities.BackgroundWorkers)
	assert.False(t, device.Capabilities.GPU)
}

func TestPairingServiceValidatePairingSucceedsAtMostOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	created, first := h.pair(t, CreateSessionCommand{})
	h.clock.Advance(30 * time.Second)

	second, err := h.pairing.ValidatePairing(context.Background(), ValidatePairingCommand{
		SessionID: created.Session.ID,
		Device:    phone(),
		Token:     created.Token,
	})
	require.NoError(t, err)
	assert.False(t, second.Valid)
	assert.Equal(t, domain.ReasonAlreadyPaired, second.Reason)
	assert.Nil(t, second.LockState)

	state, err := h.stores.States.GetBySessionID(context.Background(), created.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, first.LockState.StartedAt, state.StartedAt)
}

func TestPairingServiceValidatePairingFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		advance time.Duration
		token   func(created CreatedSession) string
		id      func(created CreatedSession) domain.SessionID
		valid   bool
		reason  domain.FailureReason
	}{
		{
			name:    "valid at exact expiry",
			advance: 5 * time.Minute,
			valid:   true,
		},
		{
			name:    "expired one second later with correct token",
			advance: 5*time.Minute + time.Second,
			reason:  domain.ReasonSessionExpired,
		},
		{
			name:   "token mismatch",
			token:  func(created CreatedSession) string { return created.QR.TokenPrefix },
			reason: domain.ReasonTokenMismatch,
		},
		{
			name:   "session not found",
			id:     func(CreatedSession) domain.SessionID { return "missing" },
			reason: domain.ReasonSessionNotFound,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			created := h.create(t, CreateSessionCommand{})
			h.clock.Advance(tt.advance)

			cmd := ValidatePairingCommand{SessionID: created.Session.ID, Device: phone(), Token: created.Token}
			if tt.token != nil {
				cmd.Token = tt.token(created)
			}
			if tt.id != nil {
				cmd.SessionID = tt.id(created)
			}

			result, err := h.pairing.ValidatePairing(context.Background(), cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, result.Valid)
			assert.Equal(t, tt.reason, result.Reason)
			if !tt.valid {
				assert.Nil(t, result.LockState)
			}
		})
	}
}

func TestPairingServiceConcurrentValidationPairsOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	created := h.create(t, CreateSessionCommand{})

	const attempts = 16
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		valid int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.pairing.ValidatePairing(context.Background(), ValidatePairingCommand{
				SessionID: created.Session.ID,
				Device:    phone(),
				Token:     created.Token,
			})
			if err != nil || !result.Valid {
				return
			}
			mu.Lock()
			valid++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, valid)
}

func TestPairingServicePromotesTrustAcrossVaultSessions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var last PairingResult
	for i := 0; i < 5; i++ {
		_, last = h.pair(t, CreateSessionCommand{VaultID: "vault-9"})
	}

	require.NotNil(t, last.Device)
	assert.Equal(t, 5, last.Device.PairCount)
	assert.Equal(t, domain.TrustTrusted, last.Device.Trust)
	assert.Equal(t, "vault-9", last.Device.VaultID)

	devices, err := h.stores.Devices.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestPairingServiceEmitsEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	created, _ := h.pair(t, CreateSessionCommand{})
	_, err := h.pairing.ValidatePairing(context.Background(), ValidatePairingCommand{SessionID: created.Session.ID, Token: "x"})
	require.NoError(t, err)

	events, err := h.runtime.RecentEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventPairingFailed, events[0].Type)
	assert.Equal(t, string(domain.ReasonAlreadyPaired), events[0].Data["reason"])
	assert.Equal(t, domain.EventSessionPaired, events[1].Type)
	assert.Equal(t, domain.EventSessionCreated, events[2].Type)
}
