package services

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/zacharyr0th/aptos-stables/internal/models"
)

var (
	// ErrValidation marks an upstream response whose shape does not match what was asked for
	ErrValidation = errors.New("malformed upstream response")
	// ErrDataUnavailable means some required asset has no value, fresh or stale
	ErrDataUnavailable = errors.New("supply data unavailable")
	// ErrQuoteUnavailable means the quote proxy has nothing to serve
	ErrQuoteUnavailable = errors.New("quote unavailable")
)

// IndexerClient fetches supplies for a batch of asset keys in one upstream call.
// Keys absent from the result were not returned by the upstream.
type IndexerClient interface {
	FetchSupplies(ctx context.Context, keys []string) (map[string]*big.Int, error)
}

// SnapshotStore persists the last known good supply per asset
type SnapshotStore interface {
	Save(ctx context.Context, snapshots []models.Snapshot) error
	LoadAll(ctx context.Context) ([]models.Snapshot, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// QuoteFetcher returns the raw quote payload for a symbol
type QuoteFetcher interface {
	FetchQuote(ctx context.Context, symbol string) (json.RawMessage, error)
}

// SupplyServiceInterface defines the operations the supply handler needs
type SupplyServiceInterface interface {
	GetSupplies(ctx context.Context) (*models.SupplyResponse, error)
	GetPartialSupplies() (*models.SupplyResponse, bool)
	CacheStatus() models.CacheStatus
}

// QuoteServiceInterface defines the operations the quote handler needs
type QuoteServiceInterface interface {
	GetQuote(ctx context.Context) (*models.QuoteResponse, error)
}
