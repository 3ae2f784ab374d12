// Package sealer seals memory entries with an X25519 age identity. Sealed
// text is base64 of the binary age file.
package sealer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"

	"github.com/bnema/lock-runtime/internal/ports"
)

// IdentityKey is where the identity lives in the secret store.
const IdentityKey = "sealer/age-identity"

var _ ports.Sealer = (*Sealer)(nil)

type Sealer struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// New seals to identity's own recipient.
func New(identity *age.X25519Identity) *Sealer {
	return &Sealer{identity: identity, recipient: identity.Recipient()}
}

// LoadOrCreate reads the identity from store, generating and storing a
// fresh one on first use.
func LoadOrCreate(ctx context.Context, store ports.SecretStore) (*Sealer, error) {
	encoded, err := store.Get(ctx, IdentityKey)
	switch {
	case err == nil:
		identity, parseErr := age.ParseX25519Identity(strings.TrimSpace(encoded))
		if parseErr != nil {
			return nil, fmt.Errorf("parse sealing identity: %w", parseErr)
		}
		return New(identity), nil
	case errors.Is(err, ports.ErrSecretNotFound):
	default:
		return nil, fmt.Errorf("load sealing identity: %w", err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate sealing identity: %w", err)
	}
	if err := store.Put(ctx, IdentityKey, identity.String()); err != nil {
		return nil, fmt.Errorf("store sealing identity: %w", err)
	}

	return New(identity), nil
}

// Recipient is the public half, safe to print.
func (s *Sealer) Recipient() string {
	return s.recipient.String()
}

func (s *Sealer) Seal(plaintext []byte) (string, error) {
	var buf bytes.Buffer
	writer, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return "", fmt.Errorf("create age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("write plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize age encryption: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (s *Sealer) Open(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("decode sealed text: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(raw), s.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypt sealed text: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read decrypted text: %w", err)
	}

	return plaintext, nil
}
