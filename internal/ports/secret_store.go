package ports

import (
	"context"
	"errors"
)

// ErrSecretNotFound is wrapped by SecretStore.Get when the key holds no value.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore holds key material such as the memory sealing identity.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}
