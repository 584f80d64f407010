package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	fetchAttempts = 5
	fetchDelay    = 100 * time.Millisecond
)

// Fetcher retrieves rate tables over HTTP with retries. Connections are kept
// alive across the fan-out burst of a single event.
type Fetcher struct {
	client   *http.Client
	limiter  *rate.Limiter
	attempts int
	delay    time.Duration
	logger   *slog.Logger
}

// NewFetcher constructs a fetcher with the default retry policy.
func NewFetcher(logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:  rate.NewLimiter(rate.Limit(10), 20),
		attempts: fetchAttempts,
		delay:    fetchDelay,
		logger:   logger,
	}
}

// Fetch GETs a rate table from the endpoint, retrying transient failures
// (transport errors, 1xx, 401-429 and 5xx responses) with a fixed delay.
func (f *Fetcher) Fetch(ctx context.Context, endpoint string) (*RateTable, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var lastErr error
	for attempt := 0; attempt < f.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.delay):
			}
		}
		table, retryable, err := f.fetchOnce(ctx, endpoint)
		if err == nil {
			return table, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		f.logger.Warn("rates fetch retry", slog.Int("attempt", attempt+1), slog.Any("error", err))
	}
	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, endpoint string) (*RateTable, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var table RateTable
	decodeErr := json.NewDecoder(resp.Body).Decode(&table)

	if retryableStatus(resp.StatusCode) {
		return nil, true, fmt.Errorf("rates endpoint returned status %d: %s", resp.StatusCode, tableMessage(&table))
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("rates endpoint returned status %d: %s", resp.StatusCode, tableMessage(&table))
	}
	if decodeErr != nil {
		return nil, false, fmt.Errorf("unable to get exchange rates from endpoint %s: %w", endpoint, decodeErr)
	}
	if !table.Error && (table.Base == "" || table.Rates == nil) {
		return nil, false, fmt.Errorf("rates json from %s in wrong format, expected {base, date, rates}", endpoint)
	}
	return &table, false, nil
}

func retryableStatus(status int) bool {
	switch {
	case status >= 100 && status < 200:
		return true
	case status >= 401 && status <= 429:
		return true
	case status >= 500:
		return true
	}
	return false
}

func tableMessage(t *RateTable) string {
	if t == nil {
		return ""
	}
	if t.Description != "" {
		return t.Description
	}
	return t.Message
}
