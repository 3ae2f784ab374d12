// Package qrpayload encodes pairing QR payloads as deterministic CBOR
// wrapped in unpadded base64url, short enough for a low-density code.
package qrpayload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/bnema/lock-runtime/internal/ports"
	"github.com/fxamacker/cbor/v2"
)

var ErrMalformed = errors.New("malformed qr payload")

var _ ports.PayloadEncoder = Codec{}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("qrpayload: cbor encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 16,
	}.DecMode()
	if err != nil {
		panic("qrpayload: cbor decoder initialization failed: " + err.Error())
	}
}

type wirePayload struct {
	Version     int    `cbor:"v"`
	Type        string `cbor:"type"`
	SessionID   string `cbor:"sid"`
	TokenPrefix string `cbor:"tp"`
	ExpiresAt   int64  `cbor:"exp"`
	CallbackURL string `cbor:"cb,omitempty"`
}

type Codec struct{}

func (Codec) Encode(payload domain.QRPayload) (string, error) {
	raw, err := encMode.Marshal(wirePayload{
		Version:     payload.Version,
		Type:        payload.Type,
		SessionID:   string(payload.SessionID),
		TokenPrefix: payload.TokenPrefix,
		ExpiresAt:   payload.ExpiresAt.UnixMilli(),
		CallbackURL: payload.CallbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("encode qr payload: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func (Codec) Decode(encoded string) (domain.QRPayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return domain.QRPayload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var wire wirePayload
	if err := decMode.Unmarshal(raw, &wire); err != nil {
		return domain.QRPayload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if wire.Type != domain.QRPayloadType {
		return domain.QRPayload{}, fmt.Errorf("%w: unexpected type %q", ErrMalformed, wire.Type)
	}
	if wire.Version != domain.QRPayloadVersion {
		return domain.QRPayload{}, fmt.Errorf("%w: unsupported version %d", ErrMalformed, wire.Version)
	}
	if wire.SessionID == "" {
		return domain.QRPayload{}, fmt.Errorf("%w: missing session id", ErrMalformed)
	}

	return domain.QRPayload{
		Version:     wire.Version,
		Type:        wire.Type,
		SessionID:   domain.SessionID(wire.SessionID),
		TokenPrefix: wire.TokenPrefix,
		ExpiresAt:   time.UnixMilli(wire.ExpiresAt).UTC(),
		CallbackURL: wire.CallbackURL,
	}, nil
}
