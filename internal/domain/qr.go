package domain

import "time"

const (
	QRPayloadVersion = 1
	QRPayloadType    = "lock"
)

// QRPayload is what a pairing QR code carries. It holds only a prefix of
// the pairing token, never the full secret.
type QRPayload struct {
	Version     int
	Type        string
	SessionID   SessionID
	TokenPrefix string
	ExpiresAt   time.Time
	CallbackURL string
}
