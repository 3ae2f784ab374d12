package domain

import "time"

const DefaultTransferTTL = 5 * time.Minute

// TransferRecord freezes a session so it can be resumed elsewhere. The
// raw token is handed out once; only its hash is stored.
type TransferRecord struct {
	TokenHash         string
	SessionID         SessionID
	DeviceFingerprint DeviceFingerprint
	CreatedAt         time.Time
	ExpiresAt         time.Time
	State             LockState
	Memory            []MemoryEntry
}

func (r TransferRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
