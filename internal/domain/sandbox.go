package domain

import "time"

const IsolationStrict = "strict"

type SandboxPermissions struct {
	BackgroundWorkers bool
	GPU               bool
	AudioIO           bool
	PersistentStorage bool
	Network           bool
}

// Allows reports whether the named permission was granted.
func (p SandboxPermissions) Allows(c Capability) bool {
	switch c {
	case CapabilityBackgroundWorkers:
		return p.BackgroundWorkers
	case CapabilityGPU:
		return p.GPU
	case CapabilityAudio:
		return p.AudioIO
	case CapabilityStorage:
		return p.PersistentStorage
	case CapabilityNetwork:
		return p.Network
	default:
		return false
	}
}

type ResourceLimits struct {
	MemoryMB    int
	StorageMB   int
	CPUThrottle bool
	Timeout     time.Duration
}

type SandboxConfig struct {
	SessionID             SessionID
	DeviceFingerprint     DeviceFingerprint
	Isolation             string
	Permissions           SandboxPermissions
	Resources             ResourceLimits
	AllowedEndpoints      []string
	ContentSecurityPolicy string
}
