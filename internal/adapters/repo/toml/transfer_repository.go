package toml

import (
	"context"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/bnema/lock-runtime/internal/ports"
	"github.com/spf13/viper"
)

type TransferRepository struct {
	file *fileStore[transfersFileSchema, *transfersFileSchema]
}

var _ ports.TransferRepository = (*TransferRepository)(nil)

func NewTransferRepository(cfg *viper.Viper) (*TransferRepository, error) {
	file, err := newFileStore[transfersFileSchema](cfg, transfersFileName, "transfers")
	if err != nil {
		return nil, err
	}

	return &TransferRepository{file: file}, nil
}

func (r *TransferRepository) GetByTokenHash(ctx context.Context, tokenHash string) (domain.TransferRecord, error) {
	var (
		record domain.TransferRecord
		found  bool
	)
	err := r.file.view(ctx, func(file *transfersFileSchema) error {
		for _, entry := range file.Transfers {
			if entry.TokenHash == tokenHash {
				record, found = fromTransferSchema(entry), true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return domain.TransferRecord{}, err
	}
	if !found {
		return domain.TransferRecord{}, domain.ErrTransferNotFound
	}

	return record, nil
}

func (r *TransferRepository) List(ctx context.Context) ([]domain.TransferRecord, error) {
	var records []domain.TransferRecord
	err := r.file.view(ctx, func(file *transfersFileSchema) error {
		records = make([]domain.TransferRecord, 0, len(file.Transfers))
		for _, entry := range file.Transfers {
			records = append(records, fromTransferSchema(entry))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (r *TransferRepository) Save(ctx context.Context, record domain.TransferRecord) error {
	return r.file.update(ctx, func(file *transfersFileSchema) error {
		encoded := toTransferSchema(record)
		for i := range file.Transfers {
			if file.Transfers[i].TokenHash == encoded.TokenHash {
				file.Transfers[i] = encoded
				return nil
			}
		}
		file.Transfers = append(file.Transfers, encoded)
		return nil
	})
}

func (r *TransferRepository) Delete(ctx context.Context, tokenHash string) error {
	return r.file.update(ctx, func(file *transfersFileSchema) error {
		kept := file.Transfers[:0]
		for _, entry := range file.Transfers {
			if entry.TokenHash != tokenHash {
				kept = append(kept, entry)
			}
		}
		file.Transfers = kept
		return nil
	})
}

func toTransferSchema(record domain.TransferRecord) transferSchema {
	memory := make([]memoryEntrySchema, 0, len(record.Memory))
	for _, entry := range record.Memory {
		memory = append(memory, toMemoryEntrySchema(entry))
	}

	return transferSchema{
		TokenHash:         record.TokenHash,
		SessionID:         string(record.SessionID),
		DeviceFingerprint: string(record.DeviceFingerprint),
		CreatedAt:         formatTime(record.CreatedAt),
		ExpiresAt:         formatTime(record.ExpiresAt),
		State:             toLockStateSchema(record.State),
		Memory:            memory,
	}
}

func fromTransferSchema(schema transferSchema) domain.TransferRecord {
	memory := make([]domain.MemoryEntry, 0, len(schema.Memory))
	for _, entry := range schema.Memory {
		memory = append(memory, fromMemoryEntrySchema(entry))
	}

	return domain.TransferRecord{
		TokenHash:         schema.TokenHash,
		SessionID:         domain.SessionID(schema.SessionID),
		DeviceFingerprint: domain.DeviceFingerprint(schema.DeviceFingerprint),
		CreatedAt:         parseTime(schema.CreatedAt),
		ExpiresAt:         parseTime(schema.ExpiresAt),
		State:             fromLockStateSchema(schema.State),
		Memory:            memory,
	}
}
