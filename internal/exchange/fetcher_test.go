package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testFetcher() *Fetcher {
	f := NewFetcher(nil)
	f.delay = time.Millisecond
	return f
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"base":"USD","date":"2024-03-15","rates":{"EUR":0.5,"BRL":"5"}}`))
	}))
	defer srv.Close()

	table, err := testFetcher().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if table.Base != "USD" {
		t.Fatalf("expected base USD got %s", table.Base)
	}
	if table.Rates["EUR"] != "0.5" || table.Rates["BRL"] != "5" {
		t.Fatalf("unexpected rates: %+v", table.Rates)
	}
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"base":"USD","rates":{"EUR":0.5}}`))
	}))
	defer srv.Close()

	table, err := testFetcher().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if table.Base != "USD" {
		t.Fatalf("unexpected table: %+v", table)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts got %d", got)
	}
}

func TestFetchGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"description":"quota exceeded"}`))
	}))
	defer srv.Close()

	_, err := testFetcher().Fetch(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected quota error got %v", err)
	}
	if got := calls.Load(); got != fetchAttempts {
		t.Fatalf("expected %d attempts got %d", fetchAttempts, got)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testFetcher().Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt got %d", got)
	}
}

func TestFetchRejectsWrongFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"hello":"world"}`))
	}))
	defer srv.Close()

	_, err := testFetcher().Fetch(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "wrong format") {
		t.Fatalf("expected wrong format error got %v", err)
	}
}

func TestServiceCachesTables(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"base":"USD","rates":{"EUR":0.5}}`))
	}))
	defer srv.Close()

	svc := NewService(NewMemoryCache(), testFetcher(), time.Minute)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.Rates(ctx, srv.URL); err != nil {
			t.Fatalf("Rates returned error: %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single fetch got %d", got)
	}
}

func TestServiceHandsOutIndependentTables(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"base":"USD","rates":{"EUR":0.5,"BRL":5}}`))
	}))
	defer srv.Close()

	svc := NewService(NewMemoryCache(), testFetcher(), time.Minute)
	ctx := context.Background()

	first, err := svc.Rates(ctx, srv.URL)
	if err != nil {
		t.Fatalf("Rates returned error: %v", err)
	}
	if ConvertBase(first, "EUR") == nil {
		t.Fatal("re-base failed")
	}

	second, err := svc.Rates(ctx, srv.URL)
	if err != nil {
		t.Fatalf("Rates returned error: %v", err)
	}
	if second.Base != "USD" || second.Rates["EUR"] != "0.5" {
		t.Fatalf("cached table poisoned by caller re-base: %+v", second)
	}
}

func TestServiceConcurrentConversions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"base":"USD","rates":{"EUR":0.5,"BRL":5}}`))
	}))
	defer srv.Close()

	svc := NewService(NewMemoryCache(), testFetcher(), time.Minute)
	ctx := context.Background()
	if _, err := svc.Rates(ctx, srv.URL); err != nil {
		t.Fatalf("Rates returned error: %v", err)
	}

	// One fan-out batch: every target converts through its own copy of the
	// cached table.
	var wg sync.WaitGroup
	errs := make(chan error, 14)
	for i := 0; i < 14; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			table, err := svc.Rates(ctx, srv.URL)
			if err != nil {
				errs <- err
				return
			}
			converted, err := Convert(decimal.NewFromInt(100), "USD", "EUR", table)
			if err != nil {
				errs <- err
				return
			}
			if !converted.Amount.Equal(decimal.NewFromInt(50)) {
				errs <- fmt.Errorf("expected 50 got %s", converted.Amount)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent conversion: %v", err)
	}
}

func TestServiceNeverCachesErrorTables(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"error":true,"description":"invalid app id"}`))
	}))
	defer srv.Close()

	svc := NewService(NewMemoryCache(), testFetcher(), time.Minute)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		table, err := svc.Rates(ctx, srv.URL)
		if err != nil {
			t.Fatalf("Rates returned error: %v", err)
		}
		if !table.Error {
			t.Fatal("expected error-flagged table")
		}
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected error responses to bypass the cache, got %d fetches", got)
	}
}
