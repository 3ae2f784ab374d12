package application

import (
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
)

type CreateSessionCommand struct {
	Purpose             string
	VaultID             string
	AgentID             string
	Mode                domain.Mode
	AllowCloud          bool
	RequireConfirmation *bool
	MaxDuration         time.Duration
}

type ValidatePairingCommand struct {
	SessionID domain.SessionID
	Device    domain.DeviceInfo
	Token     string
}

type RedeemTransferCommand struct {
	Token  string
	Device domain.DeviceInfo
}
