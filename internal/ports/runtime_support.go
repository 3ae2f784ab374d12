package ports

import (
	"context"

	"github.com/bnema/lock-runtime/internal/domain"
)

type PayloadEncoder interface {
	Encode(payload domain.QRPayload) (string, error)
	Decode(encoded string) (domain.QRPayload, error)
}

// LocalResponder produces the on-device answer used whenever a prompt
// does not escalate to the cloud.
type LocalResponder interface {
	Reflect(ctx context.Context, prompt string, state domain.LockState) (string, error)
}

type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Open(sealed string) ([]byte, error)
}
