package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/zacharyr0th/aptos-stables/internal/config"
	"github.com/zacharyr0th/aptos-stables/internal/models"
	"github.com/zacharyr0th/aptos-stables/pkg/keylock"
	"github.com/zacharyr0th/aptos-stables/pkg/logger"
	"github.com/zacharyr0th/aptos-stables/pkg/metrics"
	"github.com/zacharyr0th/aptos-stables/pkg/retry"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const quotesPath = "/v2/cryptocurrency/quotes/latest"

// CMCClient fetches quotes from CoinMarketCap
type CMCClient struct {
	endpoint string
	apiKey   string
	client   *retry.Client
}

type cmcResponse struct {
	Status struct {
		ErrorCode    int     `json:"error_code"`
		ErrorMessage *string `json:"error_message"`
	} `json:"status"`
	Data json.RawMessage `json:"data"`
}

// NewCMCClient creates a quote client. Throttling answers are never retried.
func NewCMCClient(cfg *config.QuoteConfig, opts ...retry.Option) *CMCClient {
	return &CMCClient{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client: retry.New(retry.Config{
			Timeout:    cfg.Timeout,
			MaxRetries: 1,
		}, opts...),
	}
}

// FetchQuote returns the data object of the latest quote for symbol in USD
func (c *CMCClient) FetchQuote(ctx context.Context, symbol string) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("convert", "USD")
	target := c.endpoint + quotesPath + "?" + query.Encode()

	resp, err := c.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var decoded cmcResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if decoded.Status.ErrorCode != 0 {
		return nil, fmt.Errorf("%w: quote status %d", ErrValidation, decoded.Status.ErrorCode)
	}

	data := bytes.TrimSpace(decoded.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, fmt.Errorf("%w: quote has no data", ErrValidation)
	}
	return data, nil
}

// quoteSlot is the single cached quote
type quoteSlot struct {
	data      json.RawMessage
	fetchedAt time.Time
}

// QuoteOption configures a QuoteService
type QuoteOption func(*QuoteService)

// WithQuoteClock sets the time source used for freshness and spacing
func WithQuoteClock(now func() time.Time) QuoteOption {
	return func(s *QuoteService) {
		s.now = now
	}
}

// QuoteService serves one quote through a single slot cache.
// Upstream calls are spaced by a global limiter; stale data covers the gaps.
type QuoteService struct {
	fetcher   QuoteFetcher
	symbol    string
	freshness time.Duration
	limiter   *rate.Limiter
	locks     *keylock.KeyLock
	metrics   *metrics.MetricsCollector
	now       func() time.Time

	slot  *quoteSlot
	mutex sync.RWMutex
}

// NewQuoteService creates a quote service for cfg.Symbol
func NewQuoteService(fetcher QuoteFetcher, cfg *config.QuoteConfig, collector *metrics.MetricsCollector, opts ...QuoteOption) *QuoteService {
	if collector == nil {
		collector = metrics.NewMetricsCollector()
	}

	s := &QuoteService{
		fetcher:   fetcher,
		symbol:    cfg.Symbol,
		freshness: cfg.Freshness,
		limiter:   rate.NewLimiter(rate.Every(cfg.MinSpacing), 1),
		locks:     keylock.New(lockIdleTTL),
		metrics:   collector,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// GetQuote returns the cached quote when fresh, otherwise refreshes it.
// An empty slot waits for the spacing limiter; a stale slot is served instead of waiting.
func (s *QuoteService) GetQuote(ctx context.Context) (*models.QuoteResponse, error) {
	log := logger.GetLogger().WithContext(ctx)

	if slot := s.current(); s.isFresh(slot) {
		s.metrics.RecordCacheHit()
		return s.response(slot, true, false), nil
	}
	s.metrics.RecordCacheMiss()

	unlock, err := s.locks.Lock(ctx, s.symbol)
	if err != nil {
		return s.staleOr(fmt.Errorf("%w: %w", ErrQuoteUnavailable, err))
	}
	defer unlock()

	slot := s.current()
	if s.isFresh(slot) {
		return s.response(slot, true, false), nil
	}

	if slot != nil {
		if !s.limiter.AllowN(s.now(), 1) {
			return s.response(slot, true, true), nil
		}
	} else if err := s.waitTurn(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuoteUnavailable, err)
	}

	start := time.Now()
	data, err := s.fetcher.FetchQuote(ctx, s.symbol)
	s.metrics.RecordUpstreamCall(time.Since(start), err == nil)
	if err != nil {
		log.Warn("Quote refresh failed",
			zap.String("symbol", s.symbol),
			zap.Bool("has_stale", slot != nil),
			zap.Error(err),
		)
		return s.staleOr(fmt.Errorf("%w: %w", ErrQuoteUnavailable, err))
	}

	fresh := &quoteSlot{data: data, fetchedAt: s.now()}
	s.mutex.Lock()
	s.slot = fresh
	s.mutex.Unlock()

	return s.response(fresh, false, false), nil
}

// waitTurn reserves the next upstream slot on the service clock and sleeps out its delay
func (s *QuoteService) waitTurn(ctx context.Context) error {
	now := s.now()
	reservation := s.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return fmt.Errorf("quote limiter cannot admit a request")
	}

	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		reservation.CancelAt(s.now())
		return ctx.Err()
	}
}

// CleanupLocks drops idle refresh locks
func (s *QuoteService) CleanupLocks() int {
	return s.locks.Cleanup()
}

func (s *QuoteService) current() *quoteSlot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.slot
}

func (s *QuoteService) isFresh(slot *quoteSlot) bool {
	return slot != nil && s.now().Sub(slot.fetchedAt) < s.freshness
}

// staleOr serves the slot marked stale, or err when the slot is empty
func (s *QuoteService) staleOr(err error) (*models.QuoteResponse, error) {
	slot := s.current()
	if slot == nil {
		return nil, err
	}
	s.metrics.RecordStaleResponse()
	return s.response(slot, true, true), nil
}

func (s *QuoteService) response(slot *quoteSlot, cached, stale bool) *models.QuoteResponse {
	return &models.QuoteResponse{
		Symbol:    s.symbol,
		Data:      slot.data,
		FetchedAt: slot.fetchedAt,
		Cached:    cached,
		Stale:     stale,
	}
}
