package toml

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Each guard stands in for a separate process: flock excludes distinct
// open files even inside one process.
func TestSessionGuardExcludesOtherHolders(t *testing.T) {
	t.Parallel()

	config, _ := storeConfig(t)
	serverGuard, err := NewSessionGuard(config)
	require.NoError(t, err)
	cliGuard, err := NewSessionGuard(config)
	require.NoError(t, err)

	release, err := serverGuard.Acquire(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = cliGuard.Acquire(ctx, "s1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)

	release()

	releaseCLI, err := cliGuard.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	releaseCLI()
}

func TestSessionGuardStripesAreStable(t *testing.T) {
	t.Parallel()

	config, dir := storeConfig(t)
	guard, err := NewSessionGuard(config)
	require.NoError(t, err)

	first := guard.pathFor("session-a")
	assert.Equal(t, first, guard.pathFor("session-a"))
	assert.Equal(t, filepath.Join(dir, sessionLockDir), filepath.Dir(first))

	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		seen[guard.pathFor(domain.SessionID(fmt.Sprintf("s-%d", i)))] = true
	}
	assert.LessOrEqual(t, len(seen), sessionLockStripes)
}

func TestFileStoreUpdateWaitsForOtherProcessLock(t *testing.T) {
	t.Parallel()

	config, dir := storeConfig(t)
	repo, err := NewSessionRepository(config)
	require.NoError(t, err)

	other := flock.New(filepath.Join(dir, sessionsFileName+lockFileSuffix))
	require.NoError(t, other.Lock())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = repo.Save(ctx, domain.PairingSession{ID: "s1", Mode: domain.ModeSoft})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)

	saved := make(chan error, 1)
	go func() {
		saved <- repo.Save(context.Background(), domain.PairingSession{ID: "s1", Mode: domain.ModeSoft})
	}()

	select {
	case err := <-saved:
		t.Fatalf("save finished while another process held the lock: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, other.Unlock())
	select {
	case err := <-saved:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("save never acquired the lock")
	}

	got, err := repo.GetByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionID("s1"), got.ID)
}
