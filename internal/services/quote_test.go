package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zacharyr0th/aptos-stables/internal/config"
	"github.com/zacharyr0th/aptos-stables/pkg/retry"
)

type fakeQuoteFetcher struct {
	mu    sync.Mutex
	calls int
	data  json.RawMessage
	err   error
}

func (f *fakeQuoteFetcher) FetchQuote(ctx context.Context, symbol string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func (f *fakeQuoteFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeQuoteFetcher) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newTestQuoteService(fetcher QuoteFetcher, clock *fakeClock) *QuoteService {
	return NewQuoteService(fetcher, &config.QuoteConfig{
		Symbol:     "APT",
		Freshness:  5 * time.Minute,
		MinSpacing: 2 * time.Second,
	}, nil, WithQuoteClock(clock.Now))
}

func TestQuoteService_ServesFreshSlot(t *testing.T) {
	clock := newFakeClock()
	fetcher := &fakeQuoteFetcher{data: json.RawMessage(`{"APT":[{"id":21794}]}`)}
	service := newTestQuoteService(fetcher, clock)

	first, err := service.GetQuote(context.Background())
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, "APT", first.Symbol)
	assert.JSONEq(t, `{"APT":[{"id":21794}]}`, string(first.Data))

	clock.Advance(4 * time.Minute)
	second, err := service.GetQuote(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.False(t, second.Stale)
	assert.Equal(t, 1, fetcher.Calls())
}

func TestQuoteService_RefreshesAfterFreshness(t *testing.T) {
	clock := newFakeClock()
	fetcher := &fakeQuoteFetcher{data: json.RawMessage(`{"v":1}`)}
	service := newTestQuoteService(fetcher, clock)

	_, err := service.GetQuote(context.Background())
	require.NoError(t, err)

	clock.Advance(5*time.Minute + time.Second)
	resp, err := service.GetQuote(context.Background())
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, 2, fetcher.Calls())
}

func TestQuoteService_StaleOnErrorAndSpacing(t *testing.T) {
	clock := newFakeClock()
	fetcher := &fakeQuoteFetcher{data: json.RawMessage(`{"v":1}`)}
	service := newTestQuoteService(fetcher, clock)

	_, err := service.GetQuote(context.Background())
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	fetcher.Fail(retry.ErrThrottled)

	resp, err := service.GetQuote(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Stale)
	assert.True(t, resp.Cached)
	assert.Equal(t, 2, fetcher.Calls())

	// inside the 2s spacing the upstream is not called again
	clock.Advance(time.Second)
	resp, err = service.GetQuote(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Stale)
	assert.Equal(t, 2, fetcher.Calls())

	clock.Advance(2 * time.Second)
	_, err = service.GetQuote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, fetcher.Calls())
}

func TestQuoteService_EmptySlotError(t *testing.T) {
	clock := newFakeClock()
	fetcher := &fakeQuoteFetcher{err: errors.New("connection refused")}
	service := newTestQuoteService(fetcher, clock)

	resp, err := service.GetQuote(context.Background())
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrQuoteUnavailable)
}

func TestQuoteService_EmptySlotWaitsOnServiceClock(t *testing.T) {
	clock := newFakeClock()
	fetcher := &fakeQuoteFetcher{err: errors.New("connection refused")}
	service := newTestQuoteService(fetcher, clock)

	_, err := service.GetQuote(context.Background())
	require.ErrorIs(t, err, ErrQuoteUnavailable)
	require.Equal(t, 1, fetcher.Calls())

	// the next turn is 2s away on the service clock, longer than the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = service.GetQuote(ctx)
	assert.ErrorIs(t, err, ErrQuoteUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, fetcher.Calls())

	fetcher.Fail(nil)
	fetcher.data = json.RawMessage(`{"v":1}`)
	clock.Advance(2 * time.Second)

	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	resp, err := service.GetQuote(ctx)
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, 2, fetcher.Calls())
}

func TestCMCClient_FetchQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/cryptocurrency/quotes/latest", r.URL.Path)
		assert.Equal(t, "APT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "USD", r.URL.Query().Get("convert"))

		if r.Header.Get("X-CMC_PRO_API_KEY") != "cmc-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"status":{"error_code":1002,"error_message":"API key missing."}}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":{"error_code":0,"error_message":null},"data":{"APT":[{"quote":{"USD":{"price":8.1}}}]}}`)
	}))
	defer server.Close()

	client := NewCMCClient(&config.QuoteConfig{
		Endpoint: server.URL + "/",
		APIKey:   "cmc-secret",
		Timeout:  time.Second,
	})

	data, err := client.FetchQuote(context.Background(), "APT")
	require.NoError(t, err)
	assert.JSONEq(t, `{"APT":[{"quote":{"USD":{"price":8.1}}}]}`, string(data))

	unauthorized := NewCMCClient(&config.QuoteConfig{Endpoint: server.URL, Timeout: time.Second})
	_, err = unauthorized.FetchQuote(context.Background(), "APT")
	var statusErr *retry.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestCMCClient_RejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":{"error_code":400,"error_message":"Invalid symbol"},"data":{}}`)
	}))
	defer server.Close()

	client := NewCMCClient(&config.QuoteConfig{Endpoint: server.URL, APIKey: "k", Timeout: time.Second})
	_, err := client.FetchQuote(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrValidation)
}
