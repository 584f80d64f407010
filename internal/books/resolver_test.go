package books

import (
	"context"
	"errors"
	"testing"

	"github.com/crossbooks/crossbooks/internal/platform"
)

type stubPlatform struct {
	books       map[string]*platform.Book
	collections map[string][]*platform.Book
	listErr     error
}

func (s *stubPlatform) GetBook(ctx context.Context, id string) (*platform.Book, error) {
	book, ok := s.books[id]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return book, nil
}

func (s *stubPlatform) ListCollectionBooks(ctx context.Context, collectionID string) ([]*platform.Book, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.collections[collectionID], nil
}

func book(id, code string) *platform.Book {
	b := &platform.Book{ID: id, Name: id}
	if code != "" {
		b.Properties = map[string]string{PropExcCode: code}
	}
	return b
}

func TestBaseCode(t *testing.T) {
	if got := BaseCode(book("b1", "USD")); got != "USD" {
		t.Fatalf("expected USD got %s", got)
	}
	legacy := &platform.Book{ID: "b2", Properties: map[string]string{PropExchangeCodeLegacy: "EUR"}}
	if got := BaseCode(legacy); got != "EUR" {
		t.Fatalf("expected legacy EUR got %s", got)
	}
	if got := BaseCode(&platform.Book{ID: "b3"}); got != "" {
		t.Fatalf("expected empty code got %s", got)
	}
}

func TestConnectedBooksFromLinkProperties(t *testing.T) {
	api := &stubPlatform{books: map[string]*platform.Book{
		"book-eur-12345": book("book-eur-12345", "EUR"),
		"book-brl-12345": book("book-brl-12345", "BRL"),
	}}
	source := book("book-usd-12345", "USD")
	source.Properties["exc_eur_book"] = "book-eur-12345"
	source.Properties["exc_brl_book"] = "book-brl-12345"
	source.Properties["unrelated"] = "x"

	connected, err := NewResolver(api, nil).ConnectedBooks(context.Background(), source)
	if err != nil {
		t.Fatalf("ConnectedBooks returned error: %v", err)
	}
	if len(connected) != 2 {
		t.Fatalf("expected 2 connected books got %d", len(connected))
	}
	// Keys resolve in sorted order.
	if connected[0].ID != "book-brl-12345" || connected[1].ID != "book-eur-12345" {
		t.Fatalf("unexpected order: %s, %s", connected[0].ID, connected[1].ID)
	}
}

func TestConnectedBooksLegacyList(t *testing.T) {
	api := &stubPlatform{books: map[string]*platform.Book{
		"book-eur-12345": book("book-eur-12345", "EUR"),
		"book-brl-12345": book("book-brl-12345", "BRL"),
	}}
	source := book("book-usd-12345", "USD")
	source.Properties[PropExcBooksLegacy] = "book-eur-12345, book-brl-12345 short"

	connected, err := NewResolver(api, nil).ConnectedBooks(context.Background(), source)
	if err != nil {
		t.Fatalf("ConnectedBooks returned error: %v", err)
	}
	if len(connected) != 2 {
		t.Fatalf("expected short ids skipped, got %d books", len(connected))
	}
}

func TestConnectedBooksCollectionSiblings(t *testing.T) {
	template := book("book-tpl-12345", TemplateCode)
	noCode := book("book-nocode-12", "")
	eur := book("book-eur-12345", "EUR")
	api := &stubPlatform{collections: map[string][]*platform.Book{
		"col-1": {template, noCode, eur},
	}}
	source := book("book-usd-12345", "USD")
	source.CollectionID = "col-1"

	connected, err := NewResolver(api, nil).ConnectedBooks(context.Background(), source)
	if err != nil {
		t.Fatalf("ConnectedBooks returned error: %v", err)
	}
	if len(connected) != 1 || connected[0].ID != "book-eur-12345" {
		t.Fatalf("expected only the EUR sibling, got %+v", connected)
	}
}

func TestConnectedBooksDeduplicates(t *testing.T) {
	eur := book("book-eur-12345", "EUR")
	api := &stubPlatform{
		books:       map[string]*platform.Book{"book-eur-12345": eur},
		collections: map[string][]*platform.Book{"col-1": {eur}},
	}
	source := book("book-usd-12345", "USD")
	source.CollectionID = "col-1"
	source.Properties["exc_eur_book"] = "book-eur-12345"

	connected, err := NewResolver(api, nil).ConnectedBooks(context.Background(), source)
	if err != nil {
		t.Fatalf("ConnectedBooks returned error: %v", err)
	}
	if len(connected) != 1 {
		t.Fatalf("expected deduplicated result got %d", len(connected))
	}
}

func TestConnectedBooksSkipsUnresolvableLinks(t *testing.T) {
	api := &stubPlatform{books: map[string]*platform.Book{}}
	source := book("book-usd-12345", "USD")
	source.Properties["exc_eur_book"] = "missing-book-id"

	connected, err := NewResolver(api, nil).ConnectedBooks(context.Background(), source)
	if err != nil {
		t.Fatalf("expected unresolvable link skipped, got error %v", err)
	}
	if len(connected) != 0 {
		t.Fatalf("expected no connected books got %d", len(connected))
	}
}

func TestConnectedBooksCollectionError(t *testing.T) {
	api := &stubPlatform{listErr: errors.New("boom")}
	source := book("book-usd-12345", "USD")
	source.CollectionID = "col-1"

	if _, err := NewResolver(api, nil).ConnectedBooks(context.Background(), source); err == nil {
		t.Fatal("expected collection listing error to propagate")
	}
}

func TestHasBaseBookInCollection(t *testing.T) {
	base := book("book-usd-12345", "USD")
	base.Properties[PropExcBase] = "true"
	api := &stubPlatform{collections: map[string][]*platform.Book{
		"col-1": {book("book-eur-12345", "EUR"), base},
	}}

	source := book("book-brl-12345", "BRL")
	source.CollectionID = "col-1"
	ok, err := NewResolver(api, nil).HasBaseBookInCollection(context.Background(), source)
	if err != nil {
		t.Fatalf("HasBaseBookInCollection returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected base book to be found")
	}

	source.CollectionID = ""
	ok, err = NewResolver(api, nil).HasBaseBookInCollection(context.Background(), source)
	if err != nil || ok {
		t.Fatalf("expected false for book without collection, got %v %v", ok, err)
	}
}
