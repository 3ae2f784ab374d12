package domain

const CurrencyUSD = "USD"

// CostEstimate is advisory. Nothing is charged until the caller confirms
// it with the billing collaborator.
type CostEstimate struct {
	InputUnits    int64
	ResponseUnits int64
	TotalUnits    int64
	USD           float64
	Currency      string
}
