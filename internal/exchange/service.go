package exchange

import (
	"context"
	"time"
)

// Service fronts the fetcher with a cache. One instance is shared by the
// dispatcher and every mirror so a single event fetches rates at most once.
type Service struct {
	cache   Cache
	fetcher *Fetcher
	ttl     time.Duration
}

// NewService composes a cache and fetcher. A non-positive ttl falls back to
// DefaultTTL.
func NewService(cache Cache, fetcher *Fetcher, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{cache: cache, fetcher: fetcher, ttl: ttl}
}

// Rates returns the rate table for the endpoint, fetching on a cache miss.
func (s *Service) Rates(ctx context.Context, url string) (*RateTable, error) {
	return s.RatesWithTTL(ctx, url, s.ttl)
}

// RatesWithTTL is Rates with a per-call TTL override (books may configure
// their own cache window). Error-flagged responses are returned to the
// caller but never cached, forcing a re-fetch next time. Every caller gets
// its own copy of the table: conversions re-base tables in place, and the
// fan-out batches convert concurrently.
func (s *Service) RatesWithTTL(ctx context.Context, url string, ttl time.Duration) (*RateTable, error) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	if table, ok := s.cache.Get(ctx, url); ok {
		return table.Clone(), nil
	}
	table, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if !table.Error {
		s.cache.Set(ctx, url, table.Clone(), ttl)
	}
	return table, nil
}
