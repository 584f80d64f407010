package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crossbooks/crossbooks/internal/books"
	"github.com/crossbooks/crossbooks/internal/event"
	"github.com/crossbooks/crossbooks/internal/platform"
)

// BookMirror pushes shared book settings from the source book onto its
// connected books.
type BookMirror struct {
	api    Platform
	logger *slog.Logger
}

// NewBookMirror wires the book mirror.
func NewBookMirror(api Platform, logger *slog.Logger) *BookMirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookMirror{api: api, logger: logger}
}

// Updated copies the shared settings (page size, period, lock and closing
// dates, period start month) and the exchange control properties onto the
// target when they diverge. Only the settings that changed are reported; a
// fully aligned book yields an empty record and no write.
func (m *BookMirror) Updated(ctx context.Context, source, target *platform.Book, _ *event.Event) (string, error) {
	var changes []string

	if source.PageSize != target.PageSize {
		target.PageSize = source.PageSize
		changes = append(changes, fmt.Sprintf("page size: %d", source.PageSize))
	}
	if source.Period != target.Period {
		target.Period = source.Period
		changes = append(changes, fmt.Sprintf("period: %s", source.Period))
	}
	if source.LockDate != target.LockDate {
		target.LockDate = source.LockDate
		changes = append(changes, fmt.Sprintf("lock date: %s", source.LockDate))
	}
	if source.ClosingDate != target.ClosingDate {
		target.ClosingDate = source.ClosingDate
		changes = append(changes, fmt.Sprintf("closing date: %s", source.ClosingDate))
	}
	if source.PeriodStartMonth != target.PeriodStartMonth {
		target.PeriodStartMonth = source.PeriodStartMonth
		changes = append(changes, fmt.Sprintf("period start month: %s", source.PeriodStartMonth))
	}

	copyProp := func(key string, onlyWhenSet bool) {
		value := source.Property(key)
		if onlyWhenSet && value == "" {
			return
		}
		if value != target.Property(key) {
			target.SetProperty(key, value)
			changes = append(changes, fmt.Sprintf("%s: %s", key, value))
		}
	}
	copyProp(books.PropExcRatesURL, false)
	copyProp(books.PropExcRatesCache, false)
	copyProp(books.PropExcOnCheck, true)
	copyProp(books.PropExcAggregate, false)

	if len(changes) == 0 {
		return "", nil
	}
	if err := m.api.UpdateBook(ctx, target); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: %s", Anchor(target), strings.Join(changes, " ")), nil
}
