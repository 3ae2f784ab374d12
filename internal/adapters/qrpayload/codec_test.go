package qrpayload

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() domain.QRPayload {
	return domain.QRPayload{
		Version:     domain.QRPayloadVersion,
		Type:        domain.QRPayloadType,
		SessionID:   "3f1c2d9e-4b6a-4c1e-9d7f-0a1b2c3d4e5f",
		TokenPrefix: "abcdefghijklmnop",
		ExpiresAt:   time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC),
		CallbackURL: "https://lock.example/v1/sessions/3f1c/pair",
	}
}

func TestEncodeIsURLSafeAndDeterministic(t *testing.T) {
	t.Parallel()

	first, err := Codec{}.Encode(samplePayload())
	require.NoError(t, err)
	second, err := Codec{}.Encode(samplePayload())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotContains(t, first, "=")
	assert.NotContains(t, first, "+")
	assert.NotContains(t, first, "/")
}

func TestEncodeUsesShortKeys(t *testing.T) {
	t.Parallel()

	encoded, err := Codec{}.Encode(samplePayload())
	require.NoError(t, err)
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, cbor.Unmarshal(raw, &generic))
	keys := make([]string, 0, len(generic))
	for key := range generic {
		keys = append(keys, key)
	}
	assert.ElementsMatch(t, []string{"v", "type", "sid", "tp", "exp", "cb"}, keys)
	assert.EqualValues(t, samplePayload().ExpiresAt.UnixMilli(), generic["exp"])
}

func TestDecodeRestoresPayload(t *testing.T) {
	t.Parallel()

	want := samplePayload()
	encoded, err := Codec{}.Encode(want)
	require.NoError(t, err)

	got, err := Codec{}.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, want.SessionID, got.SessionID)
	assert.Equal(t, want.TokenPrefix, got.TokenPrefix)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, want.CallbackURL, got.CallbackURL)
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	wrongType := samplePayload()
	wrongType.Type = "unlock"
	wrongTypeEncoded, err := Codec{}.Encode(wrongType)
	require.NoError(t, err)

	futureVersion := samplePayload()
	futureVersion.Version = 9
	futureEncoded, err := Codec{}.Encode(futureVersion)
	require.NoError(t, err)

	tests := []struct {
		name    string
		encoded string
	}{
		{name: "not base64", encoded: "***"},
		{name: "not cbor", encoded: base64.RawURLEncoding.EncodeToString([]byte("hello"))},
		{name: "wrong type", encoded: wrongTypeEncoded},
		{name: "unsupported version", encoded: futureEncoded},
		{name: "empty", encoded: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Codec{}.Decode(tt.encoded)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}
