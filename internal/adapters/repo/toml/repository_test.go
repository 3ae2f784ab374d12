package toml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 2, 14, 11, 0, 0, 123456789, time.UTC)

func storeConfig(t *testing.T) (*viper.Viper, string) {
	t.Helper()

	dir := t.TempDir()
	config := viper.New()
	config.Set(StoreDirKey, dir)
	return config, dir
}

func TestSessionRepositoryRoundTrip(t *testing.T) {
	t.Parallel()

	config, _ := storeConfig(t)
	repo, err := NewSessionRepository(config)
	require.NoError(t, err)

	confirm := false
	first := domain.PairingSession{
		ID:          "s1",
		CreatedAt:   now,
		ExpiresAt:   now.Add(5 * time.Minute),
		TokenHash:   domain.HashToken("secret"),
		TokenPrefix: "secret",
		VaultID:     "vault-1",
		AgentID:     "agent-1",
		Mode:        domain.ModePrivate,
		Status:      domain.SessionStatusAwaitingScan,
		Metadata: domain.SessionMetadata{
			Purpose:             "focus",
			AllowCloud:          true,
			RequireConfirmation: &confirm,
			MaxDuration:         time.Hour,
		},
	}
	second := domain.PairingSession{
		ID:                "s2",
		CreatedAt:         now,
		ExpiresAt:         now.Add(5 * time.Minute),
		Mode:              domain.ModeSoft,
		Status:            domain.SessionStatusPaired,
		PairedAt:          now.Add(time.Minute),
		DeviceFingerprint: "dev_abc",
	}

	require.NoError(t, repo.Save(context.Background(), first))
	require.NoError(t, repo.Save(context.Background(), second))

	got, err := repo.GetByID(context.Background(), first.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(first, got); diff != "" {
		t.Fatalf("session mismatch (-want +got):\n%s", diff)
	}

	sessions, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	require.NoError(t, repo.Delete(context.Background(), first.ID))
	_, err = repo.GetByID(context.Background(), first.ID)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestDeviceRepositoryRoundTrip(t *testing.T) {
	t.Parallel()

	config, _ := storeConfig(t)
	repo, err := NewDeviceRepository(config)
	require.NoError(t, err)

	device := domain.DevicePair{
		Fingerprint:   "dev_1",
		VaultID:       "vault-1",
		SessionID:     "s1",
		LastSessionID: "s3",
		FirstPairedAt: now,
		LastSeenAt:    now.Add(time.Hour),
		Trust:         domain.TrustKnown,
		PairCount:     3,
		Platform:      "android",
		Capabilities:  domain.DeviceCapabilities{GPU: true, Network: true},
	}
	require.NoError(t, repo.Save(context.Background(), device))

	device.PairCount = 4
	require.NoError(t, repo.Save(context.Background(), device))

	got, err := repo.GetByFingerprint(context.Background(), device.Fingerprint)
	require.NoError(t, err)
	if diff := cmp.Diff(device, got); diff != "" {
		t.Fatalf("device mismatch (-want +got):\n%s", diff)
	}

	devices, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 1)

	_, err = repo.GetByFingerprint(context.Background(), "dev_missing")
	require.ErrorIs(t, err, domain.ErrDeviceNotFound)
}

func TestRuntimeRepositoriesShareFile(t *testing.T) {
	t.Parallel()

	config, dir := storeConfig(t)
	states, err := NewLockStateRepository(config)
	require.NoError(t, err)
	memory, err := NewMemoryLog(config)
	require.NoError(t, err)

	state := domain.LockState{
		SessionID:         "s1",
		DeviceFingerprint: "dev_1",
		Locked:            true,
		AgentActive:       true,
		StartedAt:         now,
		LastActivity:      now.Add(time.Minute),
		LastCloudCall:     now.Add(30 * time.Second),
		Metrics:           domain.Metrics{Prompts: 4, LocalInferences: 3, CloudCalls: 1, InputUnits: 12, BytesIn: 48, EstimatedCloudUSD: 0.01024},
		Agent:             &domain.AgentDescriptor{ID: "agent-1", Capabilities: []string{"search"}, MemoryPolicy: "local_first"},
	}
	require.NoError(t, states.Save(context.Background(), state))

	entries := []domain.MemoryEntry{
		{ID: "mem_1", Timestamp: now, SessionID: "s1", Type: "note", Content: "one"},
		{ID: "mem_2", Timestamp: now, SessionID: "s2", Type: "note", Content: "other"},
		{ID: "mem_3", Timestamp: now.Add(time.Second), SessionID: "s1", Type: "secret", Content: "sealed", Encrypted: true, LocalOnly: true},
	}
	for _, entry := range entries {
		require.NoError(t, memory.Append(context.Background(), entry))
	}

	got, err := states.GetBySessionID(context.Background(), "s1")
	require.NoError(t, err)
	if diff := cmp.Diff(state, got); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}

	listed, err := memory.ListBySession(context.Background(), "s1")
	require.NoError(t, err)
	if diff := cmp.Diff([]domain.MemoryEntry{entries[0], entries[2]}, listed); diff != "" {
		t.Fatalf("memory mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, memory.DeleteSession(context.Background(), "s1"))
	require.NoError(t, states.Delete(context.Background(), "s1"))

	_, err = states.GetBySessionID(context.Background(), "s1")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	other, err := memory.ListBySession(context.Background(), "s2")
	require.NoError(t, err)
	assert.Len(t, other, 1)

	_, err = os.Stat(filepath.Join(dir, runtimeFileName))
	require.NoError(t, err)
}

func TestTransferRepositoryRoundTrip(t *testing.T) {
	t.Parallel()

	config, _ := storeConfig(t)
	repo, err := NewTransferRepository(config)
	require.NoError(t, err)

	record := domain.TransferRecord{
		TokenHash:         domain.HashToken("transfer"),
		SessionID:         "s1",
		DeviceFingerprint: "dev_1",
		CreatedAt:         now,
		ExpiresAt:         now.Add(domain.DefaultTransferTTL),
		State:             domain.NewLockState("s1", "dev_1", nil, now),
		Memory:            []domain.MemoryEntry{{ID: "mem_1", Timestamp: now, SessionID: "s1", Type: "note", Content: "hi"}},
	}
	require.NoError(t, repo.Save(context.Background(), record))

	got, err := repo.GetByTokenHash(context.Background(), record.TokenHash)
	require.NoError(t, err)
	if diff := cmp.Diff(record, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("transfer mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, repo.Delete(context.Background(), record.TokenHash))
	_, err = repo.GetByTokenHash(context.Background(), record.TokenHash)
	require.ErrorIs(t, err, domain.ErrTransferNotFound)
}

func TestSessionRepositoryCreatesDefaultPathAndEnforcesPermissions(t *testing.T) {
	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)

	repo, err := NewSessionRepository(viper.New())
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), domain.PairingSession{ID: "s1", Mode: domain.ModeSoft}))

	info, err := os.Stat(filepath.Join(homeDir, ".lockrt", sessionsFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSessionRepositoryMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	config := viper.New()
	config.Set(StoreDirKey, filepath.Join(t.TempDir(), "missing"))
	repo, err := NewSessionRepository(config)
	require.NoError(t, err)

	sessions, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)

	_, err = repo.GetByID(context.Background(), "s1")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionRepositoryCorruptFileIsMovedAsideOnWrite(t *testing.T) {
	t.Parallel()

	config, dir := storeConfig(t)
	path := filepath.Join(dir, sessionsFileName)
	require.NoError(t, os.WriteFile(path, []byte("sessions = ["), 0o600))

	repo, err := NewSessionRepository(config)
	require.NoError(t, err)

	sessions, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)

	require.NoError(t, repo.Save(context.Background(), domain.PairingSession{ID: "s1", Mode: domain.ModeSoft}))

	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, "sessions = [", string(data))

	got, err := repo.GetByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionID("s1"), got.ID)
}

func TestSessionRepositorySaveCanceledContextReturnsContextError(t *testing.T) {
	t.Parallel()

	config, _ := storeConfig(t)
	repo, err := NewSessionRepository(config)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = repo.Save(ctx, domain.PairingSession{ID: "s1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSessionRepositoryConcurrentSavesAcrossInstancesPreserveAll(t *testing.T) {
	t.Parallel()

	config, _ := storeConfig(t)
	newRepo := func() *SessionRepository {
		repo, err := NewSessionRepository(config)
		require.NoError(t, err)
		return repo
	}

	repoA := newRepo()
	repoB := newRepo()

	const perRepoWrites = 50
	start := make(chan struct{})
	errCh := make(chan error, perRepoWrites*2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		<-start
		for i := 0; i < perRepoWrites; i++ {
			errCh <- repoA.Save(context.Background(), domain.PairingSession{ID: domain.SessionID("a-" + strconv.Itoa(i)), Mode: domain.ModeSoft})
		}
	}()

	go func() {
		defer wg.Done()
		<-start
		for i := 0; i < perRepoWrites; i++ {
			errCh <- repoB.Save(context.Background(), domain.PairingSession{ID: domain.SessionID("b-" + strconv.Itoa(i)), Mode: domain.ModeSoft})
		}
	}()

	close(start)
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	sessions, err := repoA.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, sessions, perRepoWrites*2)
}

func TestSessionRepositorySerializedTOMLIncludesVersionAndNoToken(t *testing.T) {
	t.Parallel()

	config, dir := storeConfig(t)
	repo, err := NewSessionRepository(config)
	require.NoError(t, err)

	require.NoError(t, repo.Save(context.Background(), domain.PairingSession{
		ID:          "s1",
		Mode:        domain.ModeSoft,
		TokenHash:   domain.HashToken("the-full-token"),
		TokenPrefix: "the-full",
	}))

	data, err := os.ReadFile(filepath.Join(dir, sessionsFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "version = 1")
	assert.NotContains(t, string(data), "the-full-token")
}

func TestSessionRepositoryFutureSchemaVersionReturnsError(t *testing.T) {
	t.Parallel()

	config, dir := storeConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, sessionsFileName), []byte(strings.Join([]string{
		"version = 999",
		"",
		"sessions = []",
		"",
	}, "\n")), 0o600))

	repo, err := NewSessionRepository(config)
	require.NoError(t, err)

	_, err = repo.List(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "unsupported sessions schema version")

	err = repo.Save(context.Background(), domain.PairingSession{ID: "s1"})
	require.Error(t, err)
}
