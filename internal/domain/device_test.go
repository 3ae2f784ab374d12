package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveFingerprintIsDeterministic(t *testing.T) {
	info := DeviceInfo{
		UserAgent:    "Mozilla/5.0",
		Platform:     "iOS",
		ScreenSize:   "390x844",
		Capabilities: []Capability{CapabilityGPU, CapabilityAudio},
	}
	reordered := info
	reordered.Capabilities = []Capability{CapabilityAudio, CapabilityGPU, "hologram"}

	one := DeriveFingerprint(info, "vault-1")
	two := DeriveFingerprint(reordered, "vault-1")
	other := DeriveFingerprint(info, "vault-2")

	assert.Equal(t, one, two)
	assert.NotEqual(t, one, other)
	assert.Len(t, string(one), len("dev_")+32)
}

func TestParseCapabilitiesIgnoresUnknown(t *testing.T) {
	caps := ParseCapabilities([]Capability{" GPU ", "network", "teleport"})

	assert.Equal(t, DeviceCapabilities{GPU: true, Network: true}, caps)
	assert.Equal(t, []Capability{CapabilityGPU, CapabilityNetwork}, caps.Names())
}

func TestDevicePairTrustPromotion(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var d DevicePair

	levels := make([]TrustLevel, 0, 5)
	for i := 0; i < 5; i++ {
		d.RecordPairing(SessionID("s"), DeviceInfo{Platform: "android"}, now.Add(time.Duration(i)*time.Minute))
		levels = append(levels, d.Trust)
	}

	assert.Equal(t, []TrustLevel{TrustNew, TrustKnown, TrustKnown, TrustKnown, TrustTrusted}, levels)
	assert.Equal(t, now, d.FirstPairedAt)
	assert.Equal(t, now.Add(4*time.Minute), d.LastSeenAt)
}

func TestDevicePairKeepsOriginatingSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var d DevicePair

	d.RecordPairing("first", DeviceInfo{}, now)
	d.RecordPairing("second", DeviceInfo{}, now.Add(time.Hour))

	assert.Equal(t, SessionID("first"), d.SessionID)
	assert.Equal(t, SessionID("second"), d.LastSessionID)
}

func TestSandboxPermissionsAllows(t *testing.T) {
	p := SandboxPermissions{GPU: true}

	assert.True(t, p.Allows(CapabilityGPU))
	assert.False(t, p.Allows(CapabilityNetwork))
	assert.False(t, p.Allows("unknown"))
}
