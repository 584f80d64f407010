package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crossbooks/crossbooks/internal/books"
	"github.com/crossbooks/crossbooks/internal/event"
	"github.com/crossbooks/crossbooks/internal/exchange"
	"github.com/crossbooks/crossbooks/internal/platform"
)

// stubPlatform implements the Platform union with just enough behaviour for
// the fan-out tests. Book updates arrive from concurrent batch slots.
type stubPlatform struct {
	booksByID   map[string]*platform.Book
	collections map[string][]*platform.Book

	updateErrs  map[string]error
	updateDelay time.Duration

	mu      sync.Mutex
	updated []*platform.Book
}

func newStubPlatform() *stubPlatform {
	return &stubPlatform{
		booksByID:   map[string]*platform.Book{},
		collections: map[string][]*platform.Book{},
	}
}

func (s *stubPlatform) GetBook(ctx context.Context, id string) (*platform.Book, error) {
	if b, ok := s.booksByID[id]; ok {
		return b, nil
	}
	return nil, platform.ErrNotFound
}

func (s *stubPlatform) ListCollectionBooks(ctx context.Context, collectionID string) ([]*platform.Book, error) {
	return s.collections[collectionID], nil
}

func (s *stubPlatform) UpdateBook(ctx context.Context, book *platform.Book) error {
	if err := s.updateErrs[book.ID]; err != nil {
		return err
	}
	if s.updateDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.updateDelay):
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = append(s.updated, book)
	return nil
}

func (s *stubPlatform) updatedBooks() []*platform.Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*platform.Book(nil), s.updated...)
}

func (s *stubPlatform) GetAccount(ctx context.Context, bookID, name string) (*platform.Account, error) {
	return nil, nil
}

func (s *stubPlatform) CreateAccount(ctx context.Context, bookID string, account *platform.Account) (*platform.Account, error) {
	return account, nil
}

func (s *stubPlatform) UpdateAccount(ctx context.Context, bookID string, account *platform.Account) error {
	return nil
}

func (s *stubPlatform) DeleteAccount(ctx context.Context, bookID, accountID string) error {
	return nil
}

func (s *stubPlatform) GetGroup(ctx context.Context, bookID, name string) (*platform.Group, error) {
	return nil, nil
}

func (s *stubPlatform) CreateGroup(ctx context.Context, bookID string, group *platform.Group) (*platform.Group, error) {
	return group, nil
}

func (s *stubPlatform) UpdateGroup(ctx context.Context, bookID string, group *platform.Group) error {
	return nil
}

func (s *stubPlatform) DeleteGroup(ctx context.Context, bookID, groupID string) error {
	return nil
}

func (s *stubPlatform) QueryTransactions(ctx context.Context, bookID, query string) ([]*platform.Transaction, error) {
	return nil, nil
}

func (s *stubPlatform) CreateTransaction(ctx context.Context, bookID string, tx *platform.Transaction, post bool) (*platform.Transaction, error) {
	return tx, nil
}

func (s *stubPlatform) UpdateTransaction(ctx context.Context, bookID string, tx *platform.Transaction) error {
	return nil
}

func (s *stubPlatform) SetTransactionChecked(ctx context.Context, bookID, txID string, checked bool) error {
	return nil
}

func (s *stubPlatform) SetTransactionTrashed(ctx context.Context, bookID, txID string, trashed bool) error {
	return nil
}

func testBook(id, code string) *platform.Book {
	return &platform.Book{ID: id, Name: id, Properties: map[string]string{books.PropExcCode: code}}
}

func testService() *exchange.Service {
	return exchange.NewService(exchange.NewMemoryCache(), exchange.NewFetcher(nil), time.Minute)
}

func newTestDispatcher(api Platform, batchSize int) *Dispatcher {
	return NewDispatcher(api, testService(), Options{
		BatchSize: batchSize,
		Endpoints: books.EndpointOptions{DefaultURL: "http://rates.test/${date}"},
	}, nil)
}

func bookUpdatedEvent(source *platform.Book) *event.Event {
	return &event.Event{Type: event.BookUpdated, Book: source}
}

func TestHandleRequiresBaseCode(t *testing.T) {
	d := newTestDispatcher(newStubPlatform(), 0)
	source := &platform.Book{ID: "b-1", Name: "b-1"}

	result, err := d.Handle(context.Background(), bookUpdatedEvent(source))
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if result.Message == "" || !result.Handled() {
		t.Fatalf("expected advisory message got %+v", result)
	}
}

func TestHandleFansOutInDiscoveryOrder(t *testing.T) {
	api := newStubPlatform()
	source := testBook("b-src", "USD")
	source.CollectionID = "col-1"
	source.PageSize = 50

	var siblings []*platform.Book
	for i := 0; i < 30; i++ {
		sibling := testBook(fmt.Sprintf("b-%02d", i), fmt.Sprintf("C%02d", i))
		sibling.PageSize = 25
		siblings = append(siblings, sibling)
	}
	api.collections["col-1"] = siblings

	d := newTestDispatcher(api, 14)
	result, err := d.Handle(context.Background(), bookUpdatedEvent(source))
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(result.Records) != 30 {
		t.Fatalf("expected 30 records got %d", len(result.Records))
	}
	for i, record := range result.Records {
		wantBook := fmt.Sprintf(">b-%02d<", i)
		if !strings.Contains(record, wantBook) {
			t.Fatalf("record %d out of order: %q", i, record)
		}
	}
	if got := len(api.updatedBooks()); got != 30 {
		t.Fatalf("expected 30 book updates got %d", got)
	}
}

func TestHandleSkipsSourceAndCodelessBooks(t *testing.T) {
	api := newStubPlatform()
	source := testBook("b-src", "USD")
	source.CollectionID = "col-1"
	source.PageSize = 50

	sibling := testBook("b-eur", "EUR")
	sibling.PageSize = 25
	api.collections["col-1"] = []*platform.Book{source, sibling}

	d := newTestDispatcher(api, 0)
	result, err := d.Handle(context.Background(), bookUpdatedEvent(source))
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("expected the source book skipped, got %d records", len(result.Records))
	}
}

func TestHandlePostedHonoursOnCheckGuard(t *testing.T) {
	api := newStubPlatform()
	source := testBook("b-src", "USD")
	source.Properties[books.PropExcOnCheck] = "true"

	amount := decimal.NewFromInt(100)
	payload, err := json.Marshal(struct {
		Transaction *platform.Transaction `json:"transaction"`
	}{&platform.Transaction{ID: "t1", Date: "2024-03-10", Amount: &amount, Posted: true, Checked: false}})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	ev := &event.Event{Type: event.TransactionPosted, Book: source, Data: &event.Data{Object: payload}}

	d := newTestDispatcher(api, 0)
	result, err := d.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if result.Handled() {
		t.Fatalf("expected unchecked posted transaction skipped, got %+v", result)
	}
}

func TestHandleBatchFailureDoesNotCancelSiblings(t *testing.T) {
	api := newStubPlatform()
	api.updateErrs = map[string]error{"b-bad": errors.New("update rejected")}
	api.updateDelay = 20 * time.Millisecond

	source := testBook("b-src", "USD")
	source.CollectionID = "col-1"
	source.PageSize = 50
	var siblings []*platform.Book
	for _, id := range []string{"b-bad", "b-one", "b-two"} {
		sibling := testBook(id, "C-"+id)
		sibling.PageSize = 25
		siblings = append(siblings, sibling)
	}
	api.collections["col-1"] = siblings

	d := newTestDispatcher(api, 14)
	_, err := d.Handle(context.Background(), bookUpdatedEvent(source))
	if err == nil || !strings.Contains(err.Error(), "update rejected") {
		t.Fatalf("expected the failing target's error, got %v", err)
	}
	// The failure returns immediately; the other slots of the same batch
	// still run to completion and their writes stand.
	if got := len(api.updatedBooks()); got != 2 {
		t.Fatalf("expected both sibling updates to complete, got %d", got)
	}
}

func TestHandleSkipsRatePreloadForOnlyBaseBook(t *testing.T) {
	api := newStubPlatform()
	source := testBook("b-src", "USD")
	source.CollectionID = "col-1"
	source.Properties[books.PropExcBase] = "true"
	sibling := testBook("b-eur", "EUR")
	api.collections["col-1"] = []*platform.Book{source, sibling}

	amount := decimal.NewFromInt(100)
	payload, err := json.Marshal(struct {
		Transaction *platform.Transaction `json:"transaction"`
	}{&platform.Transaction{ID: "t1", AgentID: "exchange-bot", Date: "2024-03-10", Amount: &amount, Posted: true}})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	ev := &event.Event{Type: event.TransactionPosted, Book: source, Data: &event.Data{Object: payload}}

	// The rates service has no cached table and no reachable endpoint; the
	// only way this succeeds is the preload being skipped.
	d := newTestDispatcher(api, 0)
	result, err := d.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if result.Handled() {
		t.Fatalf("expected own-agent transaction skipped, got %+v", result)
	}
}

func TestHandleIgnoresUnknownEventTypes(t *testing.T) {
	d := newTestDispatcher(newStubPlatform(), 0)
	source := testBook("b-src", "USD")
	ev := &event.Event{Type: event.Type("SOMETHING_ELSE"), Book: source}

	result, err := d.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if result.Handled() {
		t.Fatalf("expected empty result got %+v", result)
	}
}
