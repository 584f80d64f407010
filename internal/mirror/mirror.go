// Package mirror maintains the peer copies of transactions, accounts, groups
// and book settings in connected books. Every variant follows the same
// found/not-found template keyed by the source object's identity.
package mirror

import (
	"context"
	"fmt"
	"strings"

	"github.com/crossbooks/crossbooks/internal/platform"
)

// AgentID tags every write this system performs. Payloads carrying it are
// never mirrored again (loop prevention).
const AgentID = "exchange-bot"

// DefaultSkipAgents lists sibling automations whose writes must not be
// mirrored either.
var DefaultSkipAgents = []string{"sales-tax-bot"}

const bookAnchorURL = "https://app.crossbooks.io/b/#transactions:bookId="

// Anchor renders the clickable book reference used in outcome records.
func Anchor(b *platform.Book) string {
	return fmt.Sprintf("<a href='%s%s'>%s</a>", bookAnchorURL, b.ID, b.Name)
}

// Platform is the slice of the platform API the mirrors need.
type Platform interface {
	UpdateBook(ctx context.Context, book *platform.Book) error
	GetAccount(ctx context.Context, bookID, name string) (*platform.Account, error)
	CreateAccount(ctx context.Context, bookID string, account *platform.Account) (*platform.Account, error)
	UpdateAccount(ctx context.Context, bookID string, account *platform.Account) error
	DeleteAccount(ctx context.Context, bookID, accountID string) error
	GetGroup(ctx context.Context, bookID, name string) (*platform.Group, error)
	CreateGroup(ctx context.Context, bookID string, group *platform.Group) (*platform.Group, error)
	UpdateGroup(ctx context.Context, bookID string, group *platform.Group) error
	DeleteGroup(ctx context.Context, bookID, groupID string) error
	QueryTransactions(ctx context.Context, bookID, query string) ([]*platform.Transaction, error)
	CreateTransaction(ctx context.Context, bookID string, tx *platform.Transaction, post bool) (*platform.Transaction, error)
	UpdateTransaction(ctx context.Context, bookID string, tx *platform.Transaction) error
	SetTransactionChecked(ctx context.Context, bookID, txID string, checked bool) error
	SetTransactionTrashed(ctx context.Context, bookID, txID string, trashed bool) error
}

// visibleProperties copies a property map minus hidden keys (trailing
// underscore convention).
func visibleProperties(props map[string]string) map[string]string {
	out := make(map[string]string, len(props))
	for key, value := range props {
		if strings.HasSuffix(key, "_") {
			continue
		}
		out[key] = value
	}
	return out
}
