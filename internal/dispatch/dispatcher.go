// Package dispatch routes platform events to the per-object mirrors and fans
// the work out across every connected book.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crossbooks/crossbooks/internal/books"
	"github.com/crossbooks/crossbooks/internal/event"
	"github.com/crossbooks/crossbooks/internal/exchange"
	"github.com/crossbooks/crossbooks/internal/mirror"
	"github.com/crossbooks/crossbooks/internal/platform"
)

// DefaultBatchSize bounds how many connected books are mirrored concurrently.
const DefaultBatchSize = 14

// Platform is the union of the API surface the resolver and the mirrors need.
type Platform interface {
	books.Platform
	mirror.Platform
}

// Options tunes the dispatcher.
type Options struct {
	// BatchSize caps concurrent per-book mirroring; DefaultBatchSize when
	// zero or negative.
	BatchSize int
	// Endpoints configures rate endpoint resolution.
	Endpoints books.EndpointOptions
}

// Dispatcher handles one event end to end: guard checks, rate warm-up,
// connected book resolution and batched fan-out to the matching mirror.
type Dispatcher struct {
	resolver     *books.Resolver
	rates        *exchange.Service
	transactions *mirror.TransactionMirror
	accounts     *mirror.AccountMirror
	groups       *mirror.GroupMirror
	bookSettings *mirror.BookMirror
	endpoints    books.EndpointOptions
	batchSize    int
	logger       *slog.Logger
}

// NewDispatcher wires the dispatcher with its mirrors.
func NewDispatcher(api Platform, rates *exchange.Service, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Dispatcher{
		resolver:     books.NewResolver(api, logger),
		rates:        rates,
		transactions: mirror.NewTransactionMirror(api, rates, opts.Endpoints, logger),
		accounts:     mirror.NewAccountMirror(api, logger),
		groups:       mirror.NewGroupMirror(api, logger),
		bookSettings: mirror.NewBookMirror(api, logger),
		endpoints:    opts.Endpoints,
		batchSize:    batchSize,
		logger:       logger,
	}
}

type handlerFunc func(ctx context.Context, source, target *platform.Book, ev *event.Event) (string, error)

// Handle processes one event. Unroutable event types and guard-skipped
// payloads yield an empty result, never an error.
func (d *Dispatcher) Handle(ctx context.Context, ev *event.Event) (*Result, error) {
	source := ev.Book
	started := time.Now()
	defer func() {
		d.logger.Info("event handled",
			slog.String("type", string(ev.Type)),
			slog.String("book", source.Name),
			slog.Duration("elapsed", time.Since(started)))
	}()

	if books.BaseCode(source) == "" {
		return &Result{Message: fmt.Sprintf("Please set the %q property of this book.", books.PropExcCode)}, nil
	}

	// With exc_on_check set, posting alone does not mirror; the checked
	// event will.
	if ev.Type == event.TransactionPosted && source.Property(books.PropExcOnCheck, books.PropExcAutoCheckLegacy) != "" {
		tx, err := ev.Transaction()
		if err != nil {
			return nil, err
		}
		if !tx.Checked {
			return &Result{}, nil
		}
	}

	connected, err := d.resolver.ConnectedBooks(ctx, source)
	if err != nil {
		return nil, err
	}
	if len(connected) == 0 || (len(connected) == 1 && connected[0].ID == source.ID) {
		return &Result{}, nil
	}

	// Warm the rate cache once before the parallel fan-out so the batch
	// shares a single fetch.
	if ev.Type.TouchesBalances() {
		if err := d.preloadRates(ctx, source, connected, ev); err != nil {
			return nil, err
		}
	}

	handler := d.route(ev.Type)
	if handler == nil {
		return &Result{}, nil
	}

	var records []string
	for start := 0; start < len(connected); start += d.batchSize {
		batch := connected[start:min(start+d.batchSize, len(connected))]
		out := make([]string, len(batch))
		// Each slot runs to completion independently; a failing target does
		// not cancel its siblings, whose partial writes stand.
		var g errgroup.Group
		for i, target := range batch {
			if target.ID == source.ID || books.BaseCode(target) == "" {
				continue
			}
			i, target := i, target
			g.Go(func() error {
				record, err := handler(ctx, source, target, ev)
				if err != nil {
					return err
				}
				out[i] = record
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, record := range out {
			if strings.TrimSpace(record) != "" {
				records = append(records, record)
			}
		}
	}
	return &Result{Records: records}, nil
}

// preloadRates fetches the rate table once so the fan-out hits a warm cache.
// When the source is the only base book among the connected set no converted
// amounts are derived from rates, so the fetch is skipped.
func (d *Dispatcher) preloadRates(ctx context.Context, source *platform.Book, connected []*platform.Book, ev *event.Event) error {
	if onlyBase, err := d.isOnlyBaseBook(ctx, source, connected); err != nil {
		return err
	} else if onlyBase {
		return nil
	}
	tx, err := ev.Transaction()
	if err != nil {
		return err
	}
	cfg, err := books.RatesEndpoint(source, tx, d.endpoints)
	if err != nil {
		return err
	}
	_, err = d.rates.RatesWithTTL(ctx, cfg.URL, cfg.TTL)
	return err
}

func (d *Dispatcher) isOnlyBaseBook(ctx context.Context, source *platform.Book, connected []*platform.Book) (bool, error) {
	hasBase, err := d.resolver.HasBaseBookInCollection(ctx, source)
	if err != nil || !hasBase {
		return false, err
	}
	var baseBooks []*platform.Book
	for _, b := range connected {
		if books.IsBaseBook(b) {
			baseBooks = append(baseBooks, b)
		}
	}
	return len(baseBooks) == 1 && baseBooks[0].ID == source.ID, nil
}

func (d *Dispatcher) route(t event.Type) handlerFunc {
	switch t {
	case event.TransactionPosted:
		return d.transactions.Posted
	case event.TransactionChecked:
		return d.transactions.Checked
	case event.TransactionUpdated:
		return d.transactions.Updated
	case event.TransactionDeleted:
		return d.transactions.Deleted
	case event.TransactionRestored:
		return d.transactions.Restored
	case event.AccountCreated, event.AccountUpdated:
		return d.accounts.CreatedOrUpdated
	case event.AccountDeleted:
		return d.accounts.Deleted
	case event.GroupCreated, event.GroupUpdated:
		return d.groups.CreatedOrUpdated
	case event.GroupDeleted:
		return d.groups.Deleted
	case event.BookUpdated:
		return d.bookSettings.Updated
	}
	return nil
}
