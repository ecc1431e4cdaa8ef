package models

import (
	"math/big"
	"time"
)

// SupplyResult is the circulating supply of one symbol as a decimal string.
// Supply is null when the symbol has no value to serve.
type SupplyResult struct {
	Symbol string  `json:"symbol"`
	Supply *string `json:"supply"`
	Error  string  `json:"error,omitempty"`
}

// SupplyResponse is the body of GET /api/supply
type SupplyResponse struct {
	Supplies []SupplyResult `json:"supplies"`
	Total    string         `json:"total"`
	Cached   bool           `json:"cached"`
	Partial  bool           `json:"partial,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// Snapshot is the last known good supply of one asset
type Snapshot struct {
	Key       string    `json:"key" bson:"_id"`
	Symbol    string    `json:"symbol" bson:"symbol"`
	Supply    string    `json:"supply" bson:"supply"`
	FetchedAt time.Time `json:"fetched_at" bson:"fetched_at"`
}

// Value parses the stored decimal supply
func (s Snapshot) Value() (*big.Int, bool) {
	return new(big.Int).SetString(s.Supply, 10)
}

// CacheStatus summarises the supply cache for health reporting
type CacheStatus struct {
	Fresh   int `json:"fresh"`
	Stale   int `json:"stale"`
	Missing int `json:"missing"`
	Size    int `json:"size"`
}

// NewSupplyResult formats value, or marks the symbol unavailable when value is nil
func NewSupplyResult(symbol string, value *big.Int) SupplyResult {
	if value == nil {
		return SupplyResult{Symbol: symbol, Error: "unavailable"}
	}
	s := value.String()
	return SupplyResult{Symbol: symbol, Supply: &s}
}
