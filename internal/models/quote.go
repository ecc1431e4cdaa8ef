package models

import (
	"encoding/json"
	"time"
)

// QuoteResponse is the body of GET /api/cmc.
// Data carries the upstream quote payload unchanged.
type QuoteResponse struct {
	Symbol    string          `json:"symbol"`
	Data      json.RawMessage `json:"data"`
	FetchedAt time.Time       `json:"fetched_at"`
	Cached    bool            `json:"cached"`
	Stale     bool            `json:"stale,omitempty"`
}
