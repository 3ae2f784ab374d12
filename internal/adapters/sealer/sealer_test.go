package sealer

import (
	"context"
	"testing"

	"filippo.io/age"
	filestore "github.com/bnema/lock-runtime/internal/adapters/secrets/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	sealer := New(identity)

	sealed, err := sealer.Seal([]byte("remember the locker code"))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "locker")

	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "remember the locker code", string(opened))
}

func TestOpenWithOtherIdentityFails(t *testing.T) {
	t.Parallel()

	first, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	second, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	sealed, err := New(first).Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = New(second).Open(sealed)
	assert.ErrorContains(t, err, "decrypt sealed text")

	_, err = New(first).Open("%%%")
	assert.ErrorContains(t, err, "decode sealed text")
}

func TestLoadOrCreatePersistsIdentity(t *testing.T) {
	t.Parallel()

	store := filestore.NewStore(t.TempDir())

	first, err := LoadOrCreate(context.Background(), store)
	require.NoError(t, err)
	sealed, err := first.Seal([]byte("carry over"))
	require.NoError(t, err)

	second, err := LoadOrCreate(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, first.Recipient(), second.Recipient())

	opened, err := second.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "carry over", string(opened))
}

func TestLoadOrCreateRejectsGarbageIdentity(t *testing.T) {
	t.Parallel()

	store := filestore.NewStore(t.TempDir())
	require.NoError(t, store.Put(context.Background(), IdentityKey, "not-an-identity"))

	_, err := LoadOrCreate(context.Background(), store)
	assert.ErrorContains(t, err, "parse sealing identity")
}
