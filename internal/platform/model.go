// Package platform models the remote ledger platform objects and provides the
// HTTP client used to read and mutate them. The platform owns all durable
// state; this process only reads, mirrors and patches it.
package platform

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType enumerates the fundamental account classes.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeIncome    AccountType = "INCOME"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Credit reports whether balances of this type grow on the credit side.
func (t AccountType) Credit() bool {
	switch t {
	case AccountTypeLiability, AccountTypeEquity, AccountTypeIncome:
		return true
	}
	return false
}

// Book is one bookkeeping unit on the platform. Synchronization behaviour is
// driven entirely by its string properties.
type Book struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	OwnerName        string            `json:"ownerName,omitempty"`
	CollectionID     string            `json:"collectionId,omitempty"`
	FractionDigits   int32             `json:"fractionDigits"`
	PageSize         int               `json:"pageSize,omitempty"`
	Period           string            `json:"period,omitempty"`
	PeriodStartMonth string            `json:"periodStartMonth,omitempty"`
	LockDate         string            `json:"lockDate,omitempty"`
	ClosingDate      string            `json:"closingDate,omitempty"`
	DatePattern      string            `json:"datePattern,omitempty"`
	Properties       map[string]string `json:"properties,omitempty"`
}

// Property returns the first non-empty value among the given keys.
func (b *Book) Property(keys ...string) string {
	if b == nil || b.Properties == nil {
		return ""
	}
	for _, key := range keys {
		if v := strings.TrimSpace(b.Properties[key]); v != "" {
			return v
		}
	}
	return ""
}

// SetProperty writes a property value, initialising the map when needed.
func (b *Book) SetProperty(key, value string) {
	if b.Properties == nil {
		b.Properties = make(map[string]string)
	}
	b.Properties[key] = value
}

// ParseValue parses a numeric value the way the book's users write it. Decimal
// commas are accepted as a fallback.
func (b *Book) ParseValue(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("empty value")
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return d, nil
	}
	normalized := strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", ".")
	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid value %q", s)
	}
	return d, nil
}

// ISODatePattern is the fallback date pattern used when a book has none.
const ISODatePattern = "yyyy-MM-dd"

// layout translates the book's date pattern into a Go time layout.
func (b *Book) layout() string {
	pattern := ISODatePattern
	if b != nil && b.DatePattern != "" {
		pattern = b.DatePattern
	}
	r := strings.NewReplacer("yyyy", "2006", "MM", "01", "dd", "02")
	return r.Replace(pattern)
}

// ParseDate parses a date string using the book's date pattern, accepting ISO
// dates regardless of pattern.
func (b *Book) ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(b.layout(), s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q for pattern %s", s, b.Pattern())
	}
	return t, nil
}

// FormatDate renders a date using the book's date pattern.
func (b *Book) FormatDate(t time.Time) string {
	return t.Format(b.layout())
}

// Pattern returns the effective date pattern of the book.
func (b *Book) Pattern() string {
	if b != nil && b.DatePattern != "" {
		return b.DatePattern
	}
	return ISODatePattern
}

// Round rounds an amount to the book's configured precision.
func (b *Book) Round(d decimal.Decimal) decimal.Decimal {
	digits := int32(2)
	if b != nil {
		digits = b.FractionDigits
	}
	return d.Round(digits)
}

// FormatValue renders an amount at the book's precision.
func (b *Book) FormatValue(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	digits := int32(2)
	if b != nil {
		digits = b.FractionDigits
	}
	return d.StringFixed(digits)
}

// Group classifies accounts, optionally forming a hierarchy.
type Group struct {
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name"`
	Hidden     bool              `json:"hidden,omitempty"`
	Parent     *Group            `json:"parent,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Property returns the first non-empty value among the given keys.
func (g *Group) Property(keys ...string) string {
	if g == nil || g.Properties == nil {
		return ""
	}
	for _, key := range keys {
		if v := strings.TrimSpace(g.Properties[key]); v != "" {
			return v
		}
	}
	return ""
}

// SetProperty writes a property value, initialising the map when needed.
func (g *Group) SetProperty(key, value string) {
	if g.Properties == nil {
		g.Properties = make(map[string]string)
	}
	g.Properties[key] = value
}

// Account is a named ledger account. The name is the natural join key across
// connected books; IDs are book-local.
type Account struct {
	ID                    string            `json:"id,omitempty"`
	Name                  string            `json:"name"`
	Type                  AccountType       `json:"type"`
	Archived              bool              `json:"archived,omitempty"`
	HasTransactionsPosted bool              `json:"hasTransactionPosted,omitempty"`
	Groups                []*Group          `json:"groups,omitempty"`
	Properties            map[string]string `json:"properties,omitempty"`
}

// Property returns the first non-empty value among the given keys.
func (a *Account) Property(keys ...string) string {
	if a == nil || a.Properties == nil {
		return ""
	}
	for _, key := range keys {
		if v := strings.TrimSpace(a.Properties[key]); v != "" {
			return v
		}
	}
	return ""
}

// Credit reports whether the account carries a credit-nature balance.
func (a *Account) Credit() bool {
	return a != nil && a.Type.Credit()
}

// File is an attachment reference carried by a transaction.
type File struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
}

// Transaction is a double-entry record. Amount is nil while unresolved; such
// transactions exist only as drafts.
type Transaction struct {
	ID            string            `json:"id,omitempty"`
	AgentID       string            `json:"agentId,omitempty"`
	Date          string            `json:"date"`
	Amount        *decimal.Decimal  `json:"amount,omitempty"`
	Description   string            `json:"description,omitempty"`
	Posted        bool              `json:"posted,omitempty"`
	Checked       bool              `json:"checked,omitempty"`
	Trashed       bool              `json:"trashed,omitempty"`
	CreditAccount *Account          `json:"creditAccount,omitempty"`
	DebitAccount  *Account          `json:"debitAccount,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
	RemoteIDs     []string          `json:"remoteIds,omitempty"`
	URLs          []string          `json:"urls,omitempty"`
	Files         []File            `json:"files,omitempty"`
}

// Property returns the first non-empty value among the given keys.
func (t *Transaction) Property(keys ...string) string {
	if t == nil || t.Properties == nil {
		return ""
	}
	for _, key := range keys {
		if v := strings.TrimSpace(t.Properties[key]); v != "" {
			return v
		}
	}
	return ""
}

// SetProperty writes a property value, initialising the map when needed.
func (t *Transaction) SetProperty(key, value string) {
	if t.Properties == nil {
		t.Properties = make(map[string]string)
	}
	t.Properties[key] = value
}

// AddRemoteID appends a remote identifier when not already present.
func (t *Transaction) AddRemoteID(id string) {
	for _, existing := range t.RemoteIDs {
		if existing == id {
			return
		}
	}
	t.RemoteIDs = append(t.RemoteIDs, id)
}

// CreditAccountName returns the credit account name, or empty when unset.
func (t *Transaction) CreditAccountName() string {
	if t == nil || t.CreditAccount == nil {
		return ""
	}
	return t.CreditAccount.Name
}

// DebitAccountName returns the debit account name, or empty when unset.
func (t *Transaction) DebitAccountName() string {
	if t == nil || t.DebitAccount == nil {
		return ""
	}
	return t.DebitAccount.Name
}
