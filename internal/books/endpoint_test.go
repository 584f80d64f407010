package books

import (
	"strings"
	"testing"
	"time"

	"github.com/crossbooks/crossbooks/internal/platform"
)

func fixedNow() time.Time {
	return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
}

func endpointOpts() EndpointOptions {
	return EndpointOptions{
		DefaultURL: "http://rates.test/${date}?agent=${agent}",
		Agent:      "exchange-bot",
		Now:        fixedNow,
	}
}

func TestRatesEndpointDefaultURL(t *testing.T) {
	book := &platform.Book{ID: "b1"}
	tx := &platform.Transaction{Date: "2024-03-10"}

	cfg, err := RatesEndpoint(book, tx, endpointOpts())
	if err != nil {
		t.Fatalf("RatesEndpoint returned error: %v", err)
	}
	if cfg.URL != "http://rates.test/2024-03-10?agent=exchange-bot" {
		t.Fatalf("unexpected url %s", cfg.URL)
	}
	if cfg.TTL != 0 {
		t.Fatalf("expected no ttl override got %s", cfg.TTL)
	}
}

func TestRatesEndpointBookOverride(t *testing.T) {
	book := &platform.Book{ID: "b1", Properties: map[string]string{
		PropExcRatesURL:   "http://custom.test/${transaction.date}",
		PropExcRatesCache: "120",
	}}
	tx := &platform.Transaction{Date: "2024-03-10"}

	cfg, err := RatesEndpoint(book, tx, endpointOpts())
	if err != nil {
		t.Fatalf("RatesEndpoint returned error: %v", err)
	}
	if cfg.URL != "http://custom.test/2024-03-10" {
		t.Fatalf("unexpected url %s", cfg.URL)
	}
	if cfg.TTL != 2*time.Minute {
		t.Fatalf("expected 2m ttl got %s", cfg.TTL)
	}
}

func TestRatesEndpointDateOverride(t *testing.T) {
	book := &platform.Book{ID: "b1"}
	tx := &platform.Transaction{
		Date:       "2024-03-10",
		Properties: map[string]string{PropExcDate: "2024-02-01"},
	}

	cfg, err := RatesEndpoint(book, tx, endpointOpts())
	if err != nil {
		t.Fatalf("RatesEndpoint returned error: %v", err)
	}
	if !strings.Contains(cfg.URL, "2024-02-01") {
		t.Fatalf("expected override date in url, got %s", cfg.URL)
	}
}

func TestRatesEndpointInvalidDateOverride(t *testing.T) {
	book := &platform.Book{ID: "b1"}
	tx := &platform.Transaction{
		Date:       "2024-03-10",
		Properties: map[string]string{PropExcDate: "not-a-date"},
	}

	_, err := RatesEndpoint(book, tx, endpointOpts())
	if err == nil || !strings.Contains(err.Error(), PropExcDate) {
		t.Fatalf("expected exc_date error got %v", err)
	}
}

func TestRatesEndpointClampsFutureDates(t *testing.T) {
	book := &platform.Book{ID: "b1"}
	tx := &platform.Transaction{Date: "2024-06-01"}

	cfg, err := RatesEndpoint(book, tx, endpointOpts())
	if err != nil {
		t.Fatalf("RatesEndpoint returned error: %v", err)
	}
	if !strings.Contains(cfg.URL, "2024-03-15") {
		t.Fatalf("expected future date clamped to today, got %s", cfg.URL)
	}
}

func TestRatesEndpointIgnoresBadCacheValue(t *testing.T) {
	book := &platform.Book{ID: "b1", Properties: map[string]string{PropExcRatesCache: "soon"}}
	tx := &platform.Transaction{Date: "2024-03-10"}

	cfg, err := RatesEndpoint(book, tx, endpointOpts())
	if err != nil {
		t.Fatalf("RatesEndpoint returned error: %v", err)
	}
	if cfg.TTL != 0 {
		t.Fatalf("expected no ttl for unparsable value got %s", cfg.TTL)
	}
}
