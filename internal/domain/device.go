package domain

import (
	"sort"
	"strings"
	"time"
)

type DeviceFingerprint string

type TrustLevel string

const (
	TrustNew     TrustLevel = "new"
	TrustKnown   TrustLevel = "known"
	TrustTrusted TrustLevel = "trusted"
)

const (
	knownAfterPairings   = 2
	trustedAfterPairings = 5
)

type Capability string

const (
	CapabilityBackgroundWorkers Capability = "background_workers"
	CapabilityGPU               Capability = "gpu"
	CapabilityAudio             Capability = "audio"
	CapabilityStorage           Capability = "storage"
	CapabilityNetwork           Capability = "network"
)

// DeviceInfo is what a scanning device reports about itself.
type DeviceInfo struct {
	UserAgent    string
	Platform     string
	ScreenSize   string
	Capabilities []Capability
}

type DeviceCapabilities struct {
	BackgroundWorkers bool
	GPU               bool
	AudioIO           bool
	PersistentStorage bool
	Network           bool
}

// ParseCapabilities turns advertised capability names into flags.
// Unknown names are ignored.
func ParseCapabilities(names []Capability) DeviceCapabilities {
	var caps DeviceCapabilities
	for _, name := range names {
		switch Capability(strings.ToLower(strings.TrimSpace(string(name)))) {
		case CapabilityBackgroundWorkers:
			caps.BackgroundWorkers = true
		case CapabilityGPU:
			caps.GPU = true
		case CapabilityAudio:
			caps.AudioIO = true
		case CapabilityStorage:
			caps.PersistentStorage = true
		case CapabilityNetwork:
			caps.Network = true
		}
	}

	return caps
}

// Names lists the advertised capabilities in a stable order.
func (c DeviceCapabilities) Names() []Capability {
	names := make([]Capability, 0, 5)
	if c.BackgroundWorkers {
		names = append(names, CapabilityBackgroundWorkers)
	}
	if c.GPU {
		names = append(names, CapabilityGPU)
	}
	if c.AudioIO {
		names = append(names, CapabilityAudio)
	}
	if c.PersistentStorage {
		names = append(names, CapabilityStorage)
	}
	if c.Network {
		names = append(names, CapabilityNetwork)
	}

	return names
}

type DevicePair struct {
	Fingerprint   DeviceFingerprint
	VaultID       string
	// SessionID is the session the device first paired with.
	SessionID     SessionID
	LastSessionID SessionID
	FirstPairedAt time.Time
	LastSeenAt    time.Time
	Trust         TrustLevel
	PairCount     int
	Platform      string
	Capabilities  DeviceCapabilities
}

// DeriveFingerprint hashes device attributes together with a nonce. The
// same device and nonce always produce the same fingerprint.
func DeriveFingerprint(info DeviceInfo, nonce string) DeviceFingerprint {
	caps := make([]string, 0, len(info.Capabilities))
	for _, c := range ParseCapabilities(info.Capabilities).Names() {
		caps = append(caps, string(c))
	}
	sort.Strings(caps)

	sum := keyedHash(fingerprintDomainKey,
		strings.TrimSpace(info.UserAgent),
		strings.TrimSpace(info.Platform),
		strings.TrimSpace(info.ScreenSize),
		strings.Join(caps, ","),
		nonce,
	)

	return DeviceFingerprint("dev_" + sum[:32])
}

// RecordPairing links the device to a new session and promotes trust
// once the device has paired often enough. The originating session is
// kept; later sessions only move LastSessionID.
func (d *DevicePair) RecordPairing(sessionID SessionID, info DeviceInfo, now time.Time) {
	if d.FirstPairedAt.IsZero() {
		d.FirstPairedAt = now
	}
	if d.SessionID == "" {
		d.SessionID = sessionID
	}
	d.LastSessionID = sessionID
	d.LastSeenAt = now
	d.PairCount++
	d.Platform = info.Platform
	d.Capabilities = ParseCapabilities(info.Capabilities)

	switch {
	case d.PairCount >= trustedAfterPairings:
		d.Trust = TrustTrusted
	case d.PairCount >= knownAfterPairings:
		d.Trust = TrustKnown
	default:
		d.Trust = TrustNew
	}
}
