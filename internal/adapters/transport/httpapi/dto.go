package httpapi

import (
	"fmt"
	"time"

	"github.com/bnema/lock-runtime/internal/application"
	"github.com/bnema/lock-runtime/internal/domain"
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type createSessionRequest struct {
	Purpose             string `json:"purpose"`
	VaultID             string `json:"vault_id"`
	AgentID             string `json:"agent_id"`
	Mode                string `json:"mode"`
	AllowCloud          bool   `json:"allow_cloud"`
	RequireConfirmation *bool  `json:"require_confirmation"`
	MaxDuration         string `json:"max_duration"`
}

func (r createSessionRequest) command() (application.CreateSessionCommand, error) {
	cmd := application.CreateSessionCommand{
		Purpose:             r.Purpose,
		VaultID:             r.VaultID,
		AgentID:             r.AgentID,
		Mode:                domain.Mode(r.Mode),
		AllowCloud:          r.AllowCloud,
		RequireConfirmation: r.RequireConfirmation,
	}
	if r.MaxDuration != "" {
		d, err := time.ParseDuration(r.MaxDuration)
		if err != nil {
			return application.CreateSessionCommand{}, fmt.Errorf("%w: max_duration: %v", domain.ErrInvalidSession, err)
		}
		cmd.MaxDuration = d
	}

	return cmd, nil
}

type createSessionResponse struct {
	Session sessionDTO `json:"session"`
	Token   string     `json:"token"`
	QRCode  string     `json:"qr_code"`
	QR      qrDTO      `json:"qr"`
}

type qrDTO struct {
	Version     int       `json:"v"`
	Type        string    `json:"type"`
	SessionID   string    `json:"sid"`
	TokenPrefix string    `json:"tp"`
	ExpiresAt   time.Time `json:"exp"`
	CallbackURL string    `json:"cb,omitempty"`
}

type sessionDTO struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	Mode              string     `json:"mode"`
	Purpose           string     `json:"purpose,omitempty"`
	VaultID           string     `json:"vault_id,omitempty"`
	AgentID           string     `json:"agent_id,omitempty"`
	AllowCloud        bool       `json:"allow_cloud"`
	MaxDuration       string     `json:"max_duration,omitempty"`
	TokenPrefix       string     `json:"token_prefix"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	PairedAt          *time.Time `json:"paired_at,omitempty"`
	DeviceFingerprint string     `json:"device_fingerprint,omitempty"`
}

func toSessionDTO(s domain.PairingSession) sessionDTO {
	dto := sessionDTO{
		ID:                string(s.ID),
		Status:            string(s.Status),
		Mode:              string(s.Mode),
		Purpose:           s.Metadata.Purpose,
		VaultID:           s.VaultID,
		AgentID:           s.AgentID,
		AllowCloud:        s.Metadata.AllowCloud,
		TokenPrefix:       s.TokenPrefix,
		CreatedAt:         s.CreatedAt,
		ExpiresAt:         s.ExpiresAt,
		DeviceFingerprint: string(s.DeviceFingerprint),
	}
	if s.Metadata.MaxDuration > 0 {
		dto.MaxDuration = s.Metadata.MaxDuration.String()
	}
	if !s.PairedAt.IsZero() {
		paired := s.PairedAt
		dto.PairedAt = &paired
	}

	return dto
}

type deviceInfoDTO struct {
	UserAgent    string   `json:"user_agent"`
	Platform     string   `json:"platform"`
	ScreenSize   string   `json:"screen_size"`
	Capabilities []string `json:"capabilities"`
}

func (d deviceInfoDTO) info() domain.DeviceInfo {
	caps := make([]domain.Capability, 0, len(d.Capabilities))
	for _, name := range d.Capabilities {
		caps = append(caps, domain.Capability(name))
	}

	return domain.DeviceInfo{
		UserAgent:    d.UserAgent,
		Platform:     d.Platform,
		ScreenSize:   d.ScreenSize,
		Capabilities: caps,
	}
}

type deviceDTO struct {
	Fingerprint  string   `json:"fingerprint"`
	Trust        string   `json:"trust"`
	PairCount    int      `json:"pair_count"`
	Platform     string   `json:"platform,omitempty"`
	Capabilities []string `json:"capabilities"`
}

func toDeviceDTO(d domain.DevicePair) deviceDTO {
	names := d.Capabilities.Names()
	caps := make([]string, 0, len(names))
	for _, name := range names {
		caps = append(caps, string(name))
	}

	return deviceDTO{
		Fingerprint:  string(d.Fingerprint),
		Trust:        string(d.Trust),
		PairCount:    d.PairCount,
		Platform:     d.Platform,
		Capabilities: caps,
	}
}

type pairRequest struct {
	Token  string        `json:"token"`
	Device deviceInfoDTO `json:"device"`
}

type pairResponse struct {
	Valid             bool        `json:"valid"`
	Reason            string      `json:"reason,omitempty"`
	Session           *sessionDTO `json:"session,omitempty"`
	DeviceFingerprint string      `json:"device_fingerprint,omitempty"`
	Device            *deviceDTO  `json:"device,omitempty"`
	State             *stateDTO   `json:"state,omitempty"`
	Greeting          string      `json:"greeting,omitempty"`
}

func toPairResponse(result application.PairingResult) pairResponse {
	resp := pairResponse{
		Valid:             result.Valid,
		Reason:            string(result.Reason),
		DeviceFingerprint: string(result.DeviceFingerprint),
		Greeting:          result.Greeting,
	}
	if result.Session != nil {
		session := toSessionDTO(*result.Session)
		resp.Session = &session
	}
	if result.Device != nil {
		device := toDeviceDTO(*result.Device)
		resp.Device = &device
	}
	if result.LockState != nil {
		state := toStateDTO(*result.LockState)
		resp.State = &state
	}

	return resp
}

type metricsDTO struct {
	Prompts           int64   `json:"prompts"`
	LocalInferences   int64   `json:"local_inferences"`
	CloudCalls        int64   `json:"cloud_calls"`
	Errors            int64   `json:"errors"`
	RateLimited       int64   `json:"rate_limited"`
	InputUnits        int64   `json:"input_units"`
	BytesIn           int64   `json:"bytes_in"`
	EstimatedCloudUSD float64 `json:"estimated_cloud_usd"`
}

type stateDTO struct {
	SessionID         string     `json:"session_id"`
	DeviceFingerprint string     `json:"device_fingerprint"`
	Locked            bool       `json:"locked"`
	AgentActive       bool       `json:"agent_active"`
	Paused            bool       `json:"paused"`
	StartedAt         time.Time  `json:"started_at"`
	LastActivity      time.Time  `json:"last_activity"`
	LastCloudCall     *time.Time `json:"last_cloud_call,omitempty"`
	Metrics           metricsDTO `json:"metrics"`
}

func toStateDTO(s domain.LockState) stateDTO {
	dto := stateDTO{
		SessionID:         string(s.SessionID),
		DeviceFingerprint: string(s.DeviceFingerprint),
		Locked:            s.Locked,
		AgentActive:       s.AgentActive,
		Paused:            s.Paused(),
		StartedAt:         s.StartedAt,
		LastActivity:      s.LastActivity,
		Metrics:           metricsDTO(s.Metrics),
	}
	if !s.LastCloudCall.IsZero() {
		last := s.LastCloudCall
		dto.LastCloudCall = &last
	}

	return dto
}

type apiRequestDTO struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Body   string `json:"body"`
}

type agentDTO struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities"`
	MemoryPolicy string   `json:"memory_policy"`
}

type payloadDTO struct {
	Prompt      string         `json:"prompt"`
	PreferLocal bool           `json:"prefer_local"`
	MemoryType  string         `json:"memory_type"`
	Content     string         `json:"content"`
	Encrypt     bool           `json:"encrypt"`
	LocalOnly   bool           `json:"local_only"`
	Request     *apiRequestDTO `json:"request"`
	Agent       *agentDTO      `json:"agent"`
}

type messageRequest struct {
	Type    string     `json:"type"`
	Payload payloadDTO `json:"payload"`
}

func (m messageRequest) message() domain.RuntimeMessage {
	payload := domain.MessagePayload{
		Prompt:      m.Payload.Prompt,
		PreferLocal: m.Payload.PreferLocal,
		MemoryType:  m.Payload.MemoryType,
		Content:     m.Payload.Content,
		Encrypt:     m.Payload.Encrypt,
		LocalOnly:   m.Payload.LocalOnly,
	}
	if r := m.Payload.Request; r != nil {
		payload.Request = &domain.APIRequest{Method: r.Method, URL: r.URL, Body: r.Body}
	}
	if a := m.Payload.Agent; a != nil {
		payload.Agent = &domain.AgentDescriptor{
			ID:           a.ID,
			Capabilities: append([]string(nil), a.Capabilities...),
			MemoryPolicy: a.MemoryPolicy,
		}
	}

	return domain.RuntimeMessage{Type: domain.MessageType(m.Type), Payload: payload}
}

type estimateDTO struct {
	InputUnits    int64   `json:"input_units"`
	ResponseUnits int64   `json:"response_units"`
	TotalUnits    int64   `json:"total_units"`
	USD           float64 `json:"usd"`
	Currency      string  `json:"currency"`
}

type transferDTO struct {
	Token     string    `json:"token"`
	Fragment  string    `json:"fragment"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type statsDTO struct {
	DurationSeconds     float64 `json:"duration_seconds"`
	Prompts             int64   `json:"prompts"`
	LocalInferences     int64   `json:"local_inferences"`
	CloudCalls          int64   `json:"cloud_calls"`
	Errors              int64   `json:"errors"`
	RateLimited         int64   `json:"rate_limited"`
	LocalRatio          float64 `json:"local_ratio"`
	EstimatedSavingsUSD float64 `json:"estimated_savings_usd"`
	EstimatedCloudUSD   float64 `json:"estimated_cloud_usd"`
}

func toStatsDTO(s domain.SessionStats) statsDTO {
	return statsDTO{
		DurationSeconds:     s.Duration.Seconds(),
		Prompts:             s.Prompts,
		LocalInferences:     s.LocalInferences,
		CloudCalls:          s.CloudCalls,
		Errors:              s.Errors,
		RateLimited:         s.RateLimited,
		LocalRatio:          s.LocalRatio,
		EstimatedSavingsUSD: s.EstimatedSavingsUSD,
		EstimatedCloudUSD:   s.EstimatedCloudUSD,
	}
}

type resultDTO struct {
	Type                 string       `json:"type"`
	Outcome              string       `json:"outcome"`
	Response             string       `json:"response,omitempty"`
	Reason               string       `json:"reason,omitempty"`
	Suggestion           string       `json:"suggestion,omitempty"`
	Estimate             *estimateDTO `json:"estimate,omitempty"`
	RequiresConfirmation bool         `json:"requires_confirmation"`
	RetryAfterMS         int64        `json:"retry_after_ms,omitempty"`
	MemoryID             string       `json:"memory_id,omitempty"`
	Transfer             *transferDTO `json:"transfer,omitempty"`
	Summary              string       `json:"summary,omitempty"`
	Stats                *statsDTO    `json:"stats,omitempty"`
	State                stateDTO     `json:"state"`
}

func toResultDTO(r domain.RuntimeResult) resultDTO {
	dto := resultDTO{
		Type:                 string(r.Type),
		Outcome:              string(r.Outcome),
		Response:             r.Response,
		Reason:               string(r.Reason),
		Suggestion:           r.Suggestion,
		RequiresConfirmation: r.RequiresConfirmation,
		RetryAfterMS:         r.RetryAfter.Milliseconds(),
		MemoryID:             r.MemoryID,
		Summary:              r.Summary,
		State:                toStateDTO(r.State),
	}
	if r.Estimate != nil {
		dto.Estimate = &estimateDTO{
			InputUnits:    r.Estimate.InputUnits,
			ResponseUnits: r.Estimate.ResponseUnits,
			TotalUnits:    r.Estimate.TotalUnits,
			USD:           r.Estimate.USD,
			Currency:      r.Estimate.Currency,
		}
	}
	if r.Transfer != nil {
		dto.Transfer = &transferDTO{
			Token:     r.Transfer.Token,
			Fragment:  r.Transfer.Fragment,
			URL:       r.Transfer.URL,
			ExpiresAt: r.Transfer.ExpiresAt,
		}
	}
	if r.Stats != nil {
		stats := toStatsDTO(*r.Stats)
		dto.Stats = &stats
	}

	return dto
}

type sessionViewDTO struct {
	Session sessionDTO `json:"session"`
	State   *stateDTO  `json:"state,omitempty"`
	Device  *deviceDTO `json:"device,omitempty"`
	Policy  policyDTO  `json:"policy"`
}

type policyDTO struct {
	CloudAllowed        bool   `json:"cloud_allowed"`
	RequireConfirmation bool   `json:"require_confirmation"`
	MaxCloudCalls       int    `json:"max_cloud_calls"`
	MinCloudIntervalMS  int64  `json:"min_cloud_interval_ms"`
	FallbackBehavior    string `json:"fallback_behavior"`
	PrivacyMode         string `json:"privacy_mode"`
}

func toSessionViewDTO(v application.SessionView) sessionViewDTO {
	dto := sessionViewDTO{
		Session: toSessionDTO(v.Session),
		Policy: policyDTO{
			CloudAllowed:        v.Policy.CloudAllowed,
			RequireConfirmation: v.Policy.RequireConfirmation,
			MaxCloudCalls:       v.Policy.MaxCloudCalls,
			MinCloudIntervalMS:  v.Policy.MinCloudInterval.Milliseconds(),
			FallbackBehavior:    string(v.Policy.Fallback),
			PrivacyMode:         string(v.Policy.Privacy),
		},
	}
	if v.State != nil {
		state := toStateDTO(*v.State)
		dto.State = &state
	}
	if v.Device != nil {
		device := toDeviceDTO(*v.Device)
		dto.Device = &device
	}

	return dto
}

type sandboxDTO struct {
	SessionID             string          `json:"session_id"`
	DeviceFingerprint     string          `json:"device_fingerprint"`
	Isolation             string          `json:"isolation"`
	Permissions           map[string]bool `json:"permissions"`
	MemoryMB              int             `json:"memory_mb"`
	StorageMB             int             `json:"storage_mb"`
	CPUThrottle           bool            `json:"cpu_throttle"`
	TimeoutMS             int64           `json:"timeout_ms"`
	AllowedEndpoints      []string        `json:"allowed_endpoints"`
	ContentSecurityPolicy string          `json:"content_security_policy"`
}

func toSandboxDTO(c domain.SandboxConfig) sandboxDTO {
	perms := map[string]bool{}
	for _, capability := range []domain.Capability{
		domain.CapabilityBackgroundWorkers,
		domain.CapabilityGPU,
		domain.CapabilityAudio,
		domain.CapabilityStorage,
		domain.CapabilityNetwork,
	} {
		perms[string(capability)] = c.Permissions.Allows(capability)
	}

	return sandboxDTO{
		SessionID:             string(c.SessionID),
		DeviceFingerprint:     string(c.DeviceFingerprint),
		Isolation:             c.Isolation,
		Permissions:           perms,
		MemoryMB:              c.Resources.MemoryMB,
		StorageMB:             c.Resources.StorageMB,
		CPUThrottle:           c.Resources.CPUThrottle,
		TimeoutMS:             c.Resources.Timeout.Milliseconds(),
		AllowedEndpoints:      append([]string{}, c.AllowedEndpoints...),
		ContentSecurityPolicy: c.ContentSecurityPolicy,
	}
}

type redeemRequest struct {
	Device deviceInfoDTO `json:"device"`
}

type redeemResponse struct {
	Session           sessionDTO `json:"session"`
	DeviceFingerprint string     `json:"device_fingerprint"`
	State             stateDTO   `json:"state"`
	MemoryEntries     int        `json:"memory_entries"`
}

type eventDTO struct {
	Timestamp time.Time         `json:"ts"`
	Type      string            `json:"type"`
	SessionID string            `json:"session_id"`
	Data      map[string]string `json:"data,omitempty"`
}
