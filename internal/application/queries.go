package application

import (
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
)

type CreatedSession struct {
	Session domain.PairingSession
	// Token is the full pairing secret. It is returned once to the creator
	// and must reach the device out of band, never through the QR code.
	Token  string
	QR     domain.QRPayload
	QRCode string
}

type PairingResult struct {
	Valid             bool
	Reason            domain.FailureReason
	Session           *domain.PairingSession
	DeviceFingerprint domain.DeviceFingerprint
	Device            *domain.DevicePair
	LockState         *domain.LockState
	Greeting          string
}

type RedeemResult struct {
	Session           domain.PairingSession
	DeviceFingerprint domain.DeviceFingerprint
	LockState         domain.LockState
	Memory            []domain.MemoryEntry
}

type SessionView struct {
	Session domain.PairingSession
	State   *domain.LockState
	Device  *domain.DevicePair
	Policy  domain.ExecutionPolicy
}

type SweepReport struct {
	At               time.Time
	Expired          []domain.SessionID
	TimedOut         []domain.SessionID
	Reaped           []domain.SessionID
	TransfersExpired int
}
