package toml

import (
	"context"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/bnema/lock-runtime/internal/ports"
	"github.com/spf13/viper"
)

// DeviceRepository is the device registry, keyed by fingerprint.
type DeviceRepository struct {
	file *fileStore[devicesFileSchema, *devicesFileSchema]
}

var _ ports.DeviceRepository = (*DeviceRepository)(nil)

func NewDeviceRepository(cfg *viper.Viper) (*DeviceRepository, error) {
	file, err := newFileStore[devicesFileSchema](cfg, devicesFileName, "devices")
	if err != nil {
		return nil, err
	}

	return &DeviceRepository{file: file}, nil
}

func (r *DeviceRepository) GetByFingerprint(ctx context.Context, fingerprint domain.DeviceFingerprint) (domain.DevicePair, error) {
	var (
		device domain.DevicePair
		found  bool
	)
	err := r.file.view(ctx, func(file *devicesFileSchema) error {
		for _, entry := range file.Devices {
			if entry.Fingerprint == string(fingerprint) {
				device, found = fromDeviceSchema(entry), true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return domain.DevicePair{}, err
	}
	if !found {
		return domain.DevicePair{}, domain.ErrDeviceNotFound
	}

	return device, nil
}

func (r *DeviceRepository) List(ctx context.Context) ([]domain.DevicePair, error) {
	var devices []domain.DevicePair
	err := r.file.view(ctx, func(file *devicesFileSchema) error {
		devices = make([]domain.DevicePair, 0, len(file.Devices))
		for _, entry := range file.Devices {
			devices = append(devices, fromDeviceSchema(entry))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return devices, nil
}

func (r *DeviceRepository) Save(ctx context.Context, device domain.DevicePair) error {
	return r.file.update(ctx, func(file *devicesFileSchema) error {
		encoded := toDeviceSchema(device)
		for i := range file.Devices {
			if file.Devices[i].Fingerprint == encoded.Fingerprint {
				file.Devices[i] = encoded
				return nil
			}
		}
		file.Devices = append(file.Devices, encoded)
		return nil
	})
}

func toDeviceSchema(device domain.DevicePair) deviceSchema {
	names := device.Capabilities.Names()
	capabilities := make([]string, 0, len(names))
	for _, name := range names {
		capabilities = append(capabilities, string(name))
	}

	return deviceSchema{
		Fingerprint:   string(device.Fingerprint),
		VaultID:       device.VaultID,
		SessionID:     string(device.SessionID),
		LastSessionID: string(device.LastSessionID),
		FirstPairedAt: formatTime(device.FirstPairedAt),
		LastSeenAt:    formatTime(device.LastSeenAt),
		Trust:         string(device.Trust),
		PairCount:     device.PairCount,
		Platform:      device.Platform,
		Capabilities:  capabilities,
	}
}

func fromDeviceSchema(schema deviceSchema) domain.DevicePair {
	names := make([]domain.Capability, 0, len(schema.Capabilities))
	for _, name := range schema.Capabilities {
		names = append(names, domain.Capability(name))
	}

	trust := domain.TrustLevel(schema.Trust)
	if trust == "" {
		trust = domain.TrustNew
	}

	return domain.DevicePair{
		Fingerprint:   domain.DeviceFingerprint(schema.Fingerprint),
		VaultID:       schema.VaultID,
		SessionID:     domain.SessionID(schema.SessionID),
		LastSessionID: domain.SessionID(schema.LastSessionID),
		FirstPairedAt: parseTime(schema.FirstPairedAt),
		LastSeenAt:    parseTime(schema.LastSeenAt),
		Trust:         trust,
		PairCount:     schema.PairCount,
		Platform:      schema.Platform,
		Capabilities:  domain.ParseCapabilities(names),
	}
}
