package application

import (
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
)

const (
	DefaultCharsPerUnit          = 4
	DefaultUSDPerUnit            = 0.00002
	DefaultAssumedUnitsPerPrompt = 1000
	DefaultResponseUnits         = 500
)

type CostRates struct {
	CharsPerUnit          int
	USDPerUnit            float64
	AssumedUnitsPerPrompt int64
	ResponseUnits         int64
}

func DefaultCostRates() CostRates {
	return CostRates{
		CharsPerUnit:          DefaultCharsPerUnit,
		USDPerUnit:            DefaultUSDPerUnit,
		AssumedUnitsPerPrompt: DefaultAssumedUnitsPerPrompt,
		ResponseUnits:         DefaultResponseUnits,
	}
}

// CostAccountant estimates cloud spend, gates cloud calls on the rate
// limit and reports savings. It holds no state of its own; everything it
// counts lives on the LockState.
type CostAccountant struct {
	rates CostRates
}

func NewCostAccountant(rates CostRates) CostAccountant {
	defaults := DefaultCostRates()
	if rates.CharsPerUnit <= 0 {
		rates.CharsPerUnit = defaults.CharsPerUnit
	}
	if rates.USDPerUnit <= 0 {
		rates.USDPerUnit = defaults.USDPerUnit
	}
	if rates.AssumedUnitsPerPrompt <= 0 {
		rates.AssumedUnitsPerPrompt = defaults.AssumedUnitsPerPrompt
	}
	if rates.ResponseUnits <= 0 {
		rates.ResponseUnits = defaults.ResponseUnits
	}

	return CostAccountant{rates: rates}
}

func (a CostAccountant) Rates() CostRates {
	return a.rates
}

// Units approximates a token count from content length.
func (a CostAccountant) Units(content string) int64 {
	n := int64(len(content))
	per := int64(a.rates.CharsPerUnit)
	return (n + per - 1) / per
}

func (a CostAccountant) Estimate(content string) domain.CostEstimate {
	input := a.Units(content)
	total := input + a.rates.ResponseUnits

	return domain.CostEstimate{
		InputUnits:    input,
		ResponseUnits: a.rates.ResponseUnits,
		TotalUnits:    total,
		USD:           float64(total) * a.rates.USDPerUnit,
		Currency:      domain.CurrencyUSD,
	}
}

type CloudDecision struct {
	Allowed    bool
	Reason     domain.FailureReason
	RetryAfter time.Duration
}

// CheckCloudCall decides whether a cloud call may start now. Callers must
// hold the session lock so the check and RecordCloudCall are atomic.
func (a CostAccountant) CheckCloudCall(state domain.LockState, policy domain.ExecutionPolicy, now time.Time) CloudDecision {
	if policy.MaxCloudCalls > 0 && state.Metrics.CloudCalls >= int64(policy.MaxCloudCalls) {
		return CloudDecision{Reason: domain.ReasonMaxCloudCalls}
	}

	if !state.LastCloudCall.IsZero() {
		elapsed := now.Sub(state.LastCloudCall)
		if elapsed < policy.MinCloudInterval {
			return CloudDecision{
				Reason:     domain.ReasonRateLimited,
				RetryAfter: policy.MinCloudInterval - elapsed,
			}
		}
	}

	return CloudDecision{Allowed: true}
}

func (a CostAccountant) RecordCloudCall(state *domain.LockState, estimate domain.CostEstimate, now time.Time) {
	state.Metrics.CloudCalls++
	state.Metrics.InputUnits += estimate.InputUnits
	state.Metrics.EstimatedCloudUSD += estimate.USD
	state.LastCloudCall = now
}

// Savings is the money not spent because work ran locally.
func (a CostAccountant) Savings(metrics domain.Metrics) float64 {
	return float64(metrics.LocalInferences*a.rates.AssumedUnitsPerPrompt) * a.rates.USDPerUnit
}

func (a CostAccountant) Stats(state domain.LockState, now time.Time) domain.SessionStats {
	m := state.Metrics

	var ratio float64
	if executed := m.LocalInferences + m.CloudCalls; executed > 0 {
		ratio = float64(m.LocalInferences) / float64(executed)
	}

	duration := now.Sub(state.StartedAt)
	if duration < 0 {
		duration = 0
	}

	return domain.SessionStats{
		Duration:            duration,
		Prompts:             m.Prompts,
		LocalInferences:     m.LocalInferences,
		CloudCalls:          m.CloudCalls,
		Errors:              m.Errors,
		RateLimited:         m.RateLimited,
		LocalRatio:          ratio,
		EstimatedSavingsUSD: a.Savings(m),
		EstimatedCloudUSD:   m.EstimatedCloudUSD,
	}
}
