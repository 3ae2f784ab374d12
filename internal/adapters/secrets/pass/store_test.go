package pass

import (
	"context"
	"errors"
	"testing"

	"github.com/bnema/lock-runtime/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutUsesPassInsertUnderPrefix(t *testing.T) {
	t.Parallel()

	called := false
	store := &Store{
		prefix: "lockrt",
		run: func(ctx context.Context, input string, args ...string) (string, string, error) {
			called = true
			assert.Equal(t, []string{"insert", "-m", "-f", "lockrt/sealer/age-identity"}, args)
			assert.Equal(t, "AGE-SECRET-KEY-1X\n", input)
			return "", "", nil
		},
	}

	require.NoError(t, store.Put(context.Background(), "sealer/age-identity", "AGE-SECRET-KEY-1X"))
	assert.True(t, called)
}

func TestStoreGetUsesPassShowAndTrimsTrailingNewline(t *testing.T) {
	t.Parallel()

	store := &Store{
		prefix: "lockrt",
		run: func(ctx context.Context, input string, args ...string) (string, string, error) {
			assert.Equal(t, []string{"show", "lockrt/sealer/age-identity"}, args)
			assert.Empty(t, input)
			return "AGE-SECRET-KEY-1X\n", "", nil
		},
	}

	value, err := store.Get(context.Background(), "/sealer/age-identity")
	require.NoError(t, err)
	assert.Equal(t, "AGE-SECRET-KEY-1X", value)
}

func TestStoreGetMapsMissingEntry(t *testing.T) {
	t.Parallel()

	store := &Store{
		run: func(ctx context.Context, input string, args ...string) (string, string, error) {
			return "", "Error: sealer/age-identity is not in the password store.", errors.New("exit status 1")
		},
	}

	_, err := store.Get(context.Background(), "sealer/age-identity")
	assert.True(t, errors.Is(err, ports.ErrSecretNotFound), "got %v", err)
}

func TestStoreGetReturnsClearError(t *testing.T) {
	t.Parallel()

	store := &Store{
		run: func(ctx context.Context, input string, args ...string) (string, string, error) {
			return "", "gpg: decryption failed", errors.New("exit status 2")
		},
	}

	_, err := store.Get(context.Background(), "sealer/age-identity")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ports.ErrSecretNotFound))
	assert.ErrorContains(t, err, "pass get")
	assert.ErrorContains(t, err, "gpg: decryption failed")
}

func TestStoreDeleteUsesPassRemove(t *testing.T) {
	t.Parallel()

	store := &Store{
		prefix: "lockrt",
		run: func(ctx context.Context, input string, args ...string) (string, string, error) {
			assert.Equal(t, []string{"rm", "-f", "lockrt/sealer/age-identity"}, args)
			return "", "", nil
		},
	}

	require.NoError(t, store.Delete(context.Background(), "sealer/age-identity"))
}
