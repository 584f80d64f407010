package books

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/crossbooks/crossbooks/internal/platform"
)

// EndpointOptions carries the process-level defaults for rate endpoints.
type EndpointOptions struct {
	// DefaultURL is used when a book has no exc_rates_url property. It may
	// contain the same substitution tokens as book-level URLs.
	DefaultURL string
	// Agent replaces the ${agent} token.
	Agent string
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// EndpointConfig is the resolved rates endpoint for one transaction.
type EndpointConfig struct {
	URL string
	// TTL overrides the cache window when the book sets exc_rates_cache.
	TTL time.Duration
}

// RatesEndpoint resolves the rates endpoint URL for a transaction: the
// effective date is the transaction date unless a valid exc_date property
// overrides it, future dates clamp to today, and the ${date},
// ${transaction.date} (deprecated) and ${agent} tokens are substituted.
func RatesEndpoint(book *platform.Book, tx *platform.Transaction, opts EndpointOptions) (EndpointConfig, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	endpoint := book.Property(PropExcRatesURL, PropExchangeRatesURLLegacy)
	if endpoint == "" {
		endpoint = opts.DefaultURL
	}

	date := tx.Date
	if override := tx.Property(PropExcDate); override != "" {
		parsed, err := book.ParseDate(override)
		if err != nil {
			return EndpointConfig{}, fmt.Errorf("invalid value for %s property: use a date in %s format instead of %s", PropExcDate, book.Pattern(), override)
		}
		date = parsed.Format("2006-01-02")
	}

	// Use today if the date is in the future.
	if parsed, err := book.ParseDate(date); err == nil && parsed.After(now()) {
		date = now().UTC().Format("2006-01-02")
	}

	endpoint = strings.ReplaceAll(endpoint, "${transaction.date}", date)
	endpoint = strings.ReplaceAll(endpoint, "${date}", date)
	endpoint = strings.ReplaceAll(endpoint, "${agent}", opts.Agent)

	cfg := EndpointConfig{URL: endpoint}
	if raw := book.Property(PropExcRatesCache); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			cfg.TTL = time.Duration(seconds) * time.Second
		}
	}
	return cfg, nil
}
