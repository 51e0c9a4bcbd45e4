package models

import "github.com/shopspring/decimal"

// Holding is one portfolio position to track. The aggregator reads
// Symbol and Type; quantity and cost basis pass through untouched for
// downstream PnL consumers.
type Holding struct {
	Symbol    string          `json:"symbol"`
	Type      AssetType       `json:"type"`
	Quantity  decimal.Decimal `json:"quantity,omitempty"`
	CostBasis decimal.Decimal `json:"cost_basis,omitempty"`
}
