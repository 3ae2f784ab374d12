package chain

import (
	"context"
	"errors"
	"testing"

	filestore "github.com/bnema/lock-runtime/internal/adapters/secrets/file"
	passstore "github.com/bnema/lock-runtime/internal/adapters/secrets/pass"
	"github.com/bnema/lock-runtime/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const identityKey = "sealer/age-identity"

type mockSecretStore struct {
	mock.Mock
}

func newMockSecretStore(t *testing.T) *mockSecretStore {
	m := &mockSecretStore{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockSecretStore) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *mockSecretStore) Put(ctx context.Context, key string, value string) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *mockSecretStore) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func TestStoreGetUsesPrimaryWhenItSucceeds(t *testing.T) {
	t.Parallel()

	primary := newMockSecretStore(t)
	fallback := newMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.On("Get", mock.Anything, identityKey).Return("from-pass", nil).Once()

	value, err := store.Get(context.Background(), identityKey)
	require.NoError(t, err)
	assert.Equal(t, "from-pass", value)
}

func TestStoreGetFallsBackWhenPrimaryFails(t *testing.T) {
	t.Parallel()

	primary := newMockSecretStore(t)
	fallback := newMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.On("Get", mock.Anything, identityKey).Return("", passstore.ErrUnavailable).Once()
	fallback.On("Get", mock.Anything, identityKey).Return("from-file", nil).Once()

	value, err := store.Get(context.Background(), identityKey)
	require.NoError(t, err)
	assert.Equal(t, "from-file", value)
}

func TestStoreGetKeepsNotFoundWhenBothMiss(t *testing.T) {
	t.Parallel()

	primary := newMockSecretStore(t)
	fallback := newMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.On("Get", mock.Anything, identityKey).Return("", ports.ErrSecretNotFound).Once()
	fallback.On("Get", mock.Anything, identityKey).Return("", errors.New("disk on fire")).Once()

	_, err := store.Get(context.Background(), identityKey)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrSecretNotFound)
	assert.ErrorContains(t, err, "primary backend")
	assert.ErrorContains(t, err, "disk on fire")
}

func TestStorePutFallsBackWhenPrimaryFails(t *testing.T) {
	t.Parallel()

	primary := newMockSecretStore(t)
	fallback := newMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.On("Put", mock.Anything, identityKey, "secret").Return(errors.New("pass failed")).Once()
	fallback.On("Put", mock.Anything, identityKey, "secret").Return(nil).Once()

	require.NoError(t, store.Put(context.Background(), identityKey, "secret"))
}

func TestStorePutDoesNotCallFallbackWhenPrimarySucceeds(t *testing.T) {
	t.Parallel()

	primary := newMockSecretStore(t)
	fallback := newMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.On("Put", mock.Anything, identityKey, "secret").Return(nil).Once()

	require.NoError(t, store.Put(context.Background(), identityKey, "secret"))
}

func TestStoreDeleteClearsBothBackends(t *testing.T) {
	t.Parallel()

	primary := newMockSecretStore(t)
	fallback := newMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.On("Delete", mock.Anything, identityKey).Return(nil).Once()
	fallback.On("Delete", mock.Anything, identityKey).Return(nil).Once()

	require.NoError(t, store.Delete(context.Background(), identityKey))
}

func TestStoreDeleteToleratesPrimaryFailure(t *testing.T) {
	t.Parallel()

	primary := newMockSecretStore(t)
	fallback := newMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.On("Delete", mock.Anything, identityKey).Return(passstore.ErrUnavailable).Once()
	fallback.On("Delete", mock.Anything, identityKey).Return(nil).Once()

	require.NoError(t, store.Delete(context.Background(), identityKey))
}

func TestStoreGetDoesNotFallbackOnCanceledContextError(t *testing.T) {
	t.Parallel()

	primary := newMockSecretStore(t)
	fallback := newMockSecretStore(t)
	store := NewStore(primary, fallback)

	primary.On("Get", mock.Anything, identityKey).Return("", context.Canceled).Once()

	_, err := store.Get(context.Background(), identityKey)
	require.ErrorIs(t, err, context.Canceled)
}

func TestForBackend(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	fileStore, err := ForBackend("", root)
	require.NoError(t, err)
	assert.IsType(t, &filestore.Store{}, fileStore)

	passOnly, err := ForBackend("PASS", root)
	require.NoError(t, err)
	assert.IsType(t, &passstore.Store{}, passOnly)

	layered, err := ForBackend(BackendPassWithFile, root)
	require.NoError(t, err)
	assert.IsType(t, &Store{}, layered)

	_, err = ForBackend("keychain", root)
	assert.ErrorContains(t, err, "unknown secret backend")
}

func TestStoreChecksNilBackends(t *testing.T) {
	t.Parallel()

	_, err := NewStoreChecked(nil, newMockSecretStore(t))
	assert.ErrorIs(t, err, errNilPrimaryStore)
	_, err = NewStoreChecked(newMockSecretStore(t), nil)
	assert.ErrorIs(t, err, errNilFallbackStore)
}
