package domain

import (
	"fmt"
	"strings"
	"time"
)

type SessionID string

type SessionStatus string

const (
	SessionStatusAwaitingScan SessionStatus = "awaiting_scan"
	SessionStatusPaired       SessionStatus = "paired"
	SessionStatusPaused       SessionStatus = "paused"
	SessionStatusArchived     SessionStatus = "archived"
	SessionStatusExpired      SessionStatus = "expired"
)

type Mode string

const (
	ModeSoft    Mode = "soft"
	ModePrivate Mode = "private"
	ModeStrict  Mode = "strict"
)

// PrivacyOriented reports whether the mode asks for maximum privacy.
func (m Mode) PrivacyOriented() bool {
	switch m {
	case ModePrivate, ModeStrict:
		return true
	default:
		return false
	}
}

func (m Mode) Valid() bool {
	switch m {
	case ModeSoft, ModePrivate, ModeStrict:
		return true
	default:
		return false
	}
}

const (
	DefaultSessionTTL = 5 * time.Minute
	TokenPrefixLength = 16
)

type SessionMetadata struct {
	Purpose    string
	AllowCloud bool
	// RequireConfirmation is nil unless the creator set it explicitly.
	RequireConfirmation *bool
	MaxDuration         time.Duration
}

type PairingSession struct {
	ID                SessionID
	CreatedAt         time.Time
	ExpiresAt         time.Time
	TokenHash         string
	TokenPrefix       string
	VaultID           string
	AgentID           string
	Mode              Mode
	Status            SessionStatus
	Metadata          SessionMetadata
	PairedAt          time.Time
	DeviceFingerprint DeviceFingerprint
}

func (s PairingSession) Validate() error {
	if strings.TrimSpace(string(s.ID)) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSession)
	}
	if s.ExpiresAt.Before(s.CreatedAt) {
		return fmt.Errorf("%w: expiry precedes creation", ErrInvalidSession)
	}
	if !s.Mode.Valid() {
		return fmt.Errorf("%w: unsupported mode %q", ErrInvalidSession, s.Mode)
	}
	if s.Metadata.MaxDuration < 0 {
		return fmt.Errorf("%w: max duration must not be negative", ErrInvalidSession)
	}

	return nil
}

// IsExpired reports whether the pairing window has closed. A session is
// still valid at exactly ExpiresAt.
func (s PairingSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

func (s PairingSession) AwaitingScan() bool {
	return s.Status == SessionStatusAwaitingScan
}

// ExceedsMaxDuration reports whether a paired session has outlived its
// declared maximum duration. Sessions without a maximum never exceed it.
func (s PairingSession) ExceedsMaxDuration(now time.Time) bool {
	if s.AwaitingScan() || s.Metadata.MaxDuration <= 0 || s.PairedAt.IsZero() {
		return false
	}

	return now.Sub(s.PairedAt) > s.Metadata.MaxDuration
}
