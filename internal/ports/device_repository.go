package ports

import (
	"context"

	"github.com/bnema/lock-runtime/internal/domain"
)

type DeviceRepository interface {
	GetByFingerprint(ctx context.Context, fingerprint domain.DeviceFingerprint) (domain.DevicePair, error)
	List(ctx context.Context) ([]domain.DevicePair, error)
	Save(ctx context.Context, device domain.DevicePair) error
}
