package books

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/crossbooks/crossbooks/internal/platform"
)

// BaseCode returns the book's base exchange code, honouring the legacy key.
func BaseCode(b *platform.Book) string {
	return b.Property(PropExcCode, PropExchangeCodeLegacy)
}

// IsBaseBook reports whether the book is flagged as its collection's base.
func IsBaseBook(b *platform.Book) bool {
	return b.Property(PropExcBase) != ""
}

// Platform is the subset of the platform API the resolver needs.
type Platform interface {
	GetBook(ctx context.Context, id string) (*platform.Book, error)
	ListCollectionBooks(ctx context.Context, collectionID string) ([]*platform.Book, error)
}

// Resolver discovers the set of books a given book stays synchronized with.
type Resolver struct {
	api    Platform
	logger *slog.Logger
}

// NewResolver constructs a resolver.
func NewResolver(api Platform, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{api: api, logger: logger}
}

var legacyIDSeparator = regexp.MustCompile(`[ ,]+`)

// ConnectedBooks resolves the books connected to the given one: legacy
// exc*_book link properties, the legacy exc_books ID list, and every
// collection sibling with a base code other than TEMPLATE. The result is
// deduplicated by ID, ordered as discovered, and excludes books without a
// base code. Unresolvable references are skipped, not fatal.
func (r *Resolver) ConnectedBooks(ctx context.Context, book *platform.Book) ([]*platform.Book, error) {
	var connected []*platform.Book
	seen := make(map[string]bool)
	add := func(b *platform.Book) {
		if b == nil || seen[b.ID] || BaseCode(b) == "" {
			return
		}
		seen[b.ID] = true
		connected = append(connected, b)
	}

	// Map iteration order is random; sort for a stable result.
	keys := make([]string, 0, len(book.Properties))
	for key := range book.Properties {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !strings.HasPrefix(key, "exc") || !strings.HasSuffix(key, "_book") {
			continue
		}
		linked, err := r.api.GetBook(ctx, strings.TrimSpace(book.Properties[key]))
		if err != nil {
			r.logger.Warn("skip unresolvable linked book", slog.String("key", key), slog.Any("error", err))
			continue
		}
		add(linked)
	}

	if ids := book.Property(PropExcBooksLegacy); ids != "" {
		for _, id := range legacyIDSeparator.Split(ids, -1) {
			id = strings.TrimSpace(id)
			if len(id) <= 10 {
				continue
			}
			linked, err := r.api.GetBook(ctx, id)
			if err != nil {
				r.logger.Warn("skip unresolvable linked book", slog.String("book_id", id), slog.Any("error", err))
				continue
			}
			add(linked)
		}
	}

	if book.CollectionID != "" {
		siblings, err := r.api.ListCollectionBooks(ctx, book.CollectionID)
		if err != nil {
			return nil, err
		}
		for _, sibling := range siblings {
			if BaseCode(sibling) == TemplateCode {
				continue
			}
			add(sibling)
		}
	}

	return connected, nil
}

// HasBaseBookInCollection reports whether any collection sibling carries the
// base-book flag.
func (r *Resolver) HasBaseBookInCollection(ctx context.Context, book *platform.Book) (bool, error) {
	if book.CollectionID == "" {
		return false, nil
	}
	siblings, err := r.api.ListCollectionBooks(ctx, book.CollectionID)
	if err != nil {
		return false, err
	}
	for _, sibling := range siblings {
		if IsBaseBook(sibling) {
			return true, nil
		}
	}
	return false, nil
}
