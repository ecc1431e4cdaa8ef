package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/zacharyr0th/aptos-stables/internal/config"
	"github.com/zacharyr0th/aptos-stables/pkg/retry"
)

// supplyQuery aliases indexer rows to the generic {key, value} record shape
const supplyQuery = `query CirculatingSupply($keys: [String!]!) {
  records: fungible_asset_metadata(where: {asset_type: {_in: $keys}}) {
    key: asset_type
    value: supply_v2
  }
}`

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphQLResponse struct {
	Data       *graphQLData      `json:"data"`
	Errors     []json.RawMessage `json:"errors"`
	Extensions json.RawMessage   `json:"extensions"`
}

type graphQLData struct {
	Records *[]graphQLRecord `json:"records"`
}

type graphQLRecord struct {
	Key   *string         `json:"key"`
	Value json.RawMessage `json:"value"`
}

// GraphQLIndexer queries the Aptos indexer for fungible asset supplies
type GraphQLIndexer struct {
	endpoint string
	apiKey   string
	client   *retry.Client
}

// NewGraphQLIndexer creates an indexer client with the configured retry policy
func NewGraphQLIndexer(cfg *config.IndexerConfig, opts ...retry.Option) *GraphQLIndexer {
	return &GraphQLIndexer{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client: retry.New(retry.Config{
			Timeout:      cfg.Timeout,
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: cfg.InitialDelay,
			Multiplier:   cfg.Multiplier,
		}, opts...),
	}
}

// FetchSupplies issues one query for all keys
func (g *GraphQLIndexer) FetchSupplies(ctx context.Context, keys []string) (map[string]*big.Int, error) {
	payload, err := json.Marshal(graphQLRequest{
		Query:     supplyQuery,
		Variables: map[string]interface{}{"keys": keys},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	resp, err := g.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if g.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	return decodeSupplies(resp.Body)
}

// decodeSupplies rejects anything but {data: {records: [{key, value}]}} with no errors
func decodeSupplies(body []byte) (map[string]*big.Int, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()

	var envelope graphQLResponse
	if err := decoder.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after response", ErrValidation)
	}

	if len(envelope.Errors) > 0 {
		return nil, fmt.Errorf("%w: upstream reported %d errors", ErrValidation, len(envelope.Errors))
	}
	if envelope.Data == nil || envelope.Data.Records == nil {
		return nil, fmt.Errorf("%w: missing data.records", ErrValidation)
	}

	records := *envelope.Data.Records
	supplies := make(map[string]*big.Int, len(records))
	for i, record := range records {
		if record.Key == nil || *record.Key == "" {
			return nil, fmt.Errorf("%w: record %d has no key", ErrValidation, i)
		}

		value, err := parseSupply(record.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrValidation, i, err)
		}
		supplies[*record.Key] = value
	}

	return supplies, nil
}

// parseSupply accepts a JSON string or number holding a non-negative integer
func parseSupply(raw json.RawMessage) (*big.Int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("missing value")
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("invalid value: %w", err)
		}
	}

	value, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return nil, fmt.Errorf("value %q is not an integer", text)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("value is negative")
	}
	return value, nil
}
