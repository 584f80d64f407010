// Package amount decides the converted amount and description for a mirrored
// transaction through a priority chain of explicit overrides before falling
// back to rate-table conversion.
package amount

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/crossbooks/crossbooks/internal/books"
	"github.com/crossbooks/crossbooks/internal/exchange"
	"github.com/crossbooks/crossbooks/internal/platform"
)

// Description is the resolved amount decision for one (transaction, target
// code) pair. It is computed once and reused for every property written onto
// the mirror.
type Description struct {
	Amount      decimal.Decimal
	BaseCode    string
	Text        string
	BaseRate    decimal.Decimal
	HasBaseRate bool
	Rates       *exchange.RateTable
}

// Resolver applies the resolution chain. It is stateless.
type Resolver struct{}

// NewResolver constructs a resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Extract resolves the amount and description, rounds the amount to 8
// fractional digits, derives the base rate (resolved amount over original
// amount) and attaches the consulted rate table for audit logging.
func (r *Resolver) Extract(source, target *platform.Book, baseCode, targetCode string, tx *platform.Transaction, rates *exchange.RateTable) (*Description, error) {
	if rates == nil {
		return nil, errors.New("amount: exchange rates must be provided")
	}
	desc, err := r.Resolve(source, target, baseCode, targetCode, tx, rates)
	if err != nil {
		return nil, err
	}
	desc.Amount = desc.Amount.Round(8)
	if tx.Amount != nil && !tx.Amount.IsZero() {
		desc.BaseRate = desc.Amount.Div(*tx.Amount)
		desc.HasBaseRate = true
	}
	desc.Rates = rates
	return desc, nil
}

// Resolve walks the decision chain, first match wins:
//  1. an explicit exc_amount property, when the transaction's exc_code or
//     its accounts' groups match the target code;
//  2. an explicit exc_rate property, under the same match or when the
//     target book is a base book;
//  3. a description token starting with the target code whose remainder
//     parses as a number, replaced in the description by the original
//     amount under the base code;
//  4. rate-table conversion of the transaction amount.
func (r *Resolver) Resolve(source, target *platform.Book, baseCode, targetCode string, tx *platform.Transaction, rates *exchange.RateTable) (*Description, error) {
	excAmount := tx.Property(books.PropExcAmount)
	excRate := tx.Property(books.PropExcRate)
	excCode := tx.Property(books.PropExcCode)

	if excAmount != "" && (targetCode == excCode || groupsMatch(targetCode, tx)) {
		value, err := target.ParseValue(excAmount)
		if err != nil {
			return nil, fmt.Errorf("invalid %s property %q: %w", books.PropExcAmount, excAmount, err)
		}
		return &Description{Amount: value, BaseCode: baseCode, Text: tx.Description}, nil
	}

	if excRate != "" && (targetCode == excCode || books.IsBaseBook(target) || groupsMatch(targetCode, tx)) {
		value, err := target.ParseValue(excRate)
		if err != nil {
			return nil, fmt.Errorf("invalid %s property %q: %w", books.PropExcRate, excRate, err)
		}
		if tx.Amount == nil {
			return nil, fmt.Errorf("transaction %s has no amount", tx.ID)
		}
		return &Description{Amount: value.Mul(*tx.Amount), BaseCode: baseCode, Text: tx.Description}, nil
	}

	// Free-text hint: the first token starting with the target code whose
	// remainder parses wins. Known fragility, kept as-is deliberately.
	for _, part := range strings.Split(tx.Description, " ") {
		if part == "" || !strings.HasPrefix(part, targetCode) {
			continue
		}
		value, err := target.ParseValue(strings.Replace(part, targetCode, "", 1))
		if err != nil {
			continue
		}
		original := ""
		if tx.Amount != nil {
			original = tx.Amount.String()
		}
		return &Description{
			Amount:   value,
			BaseCode: baseCode,
			Text:     strings.Replace(tx.Description, part, baseCode+original, 1),
		}, nil
	}

	if tx.Amount == nil {
		return nil, fmt.Errorf("transaction %s has no amount", tx.ID)
	}
	converted, err := exchange.Convert(*tx.Amount, baseCode, targetCode, rates)
	if err != nil {
		return nil, err
	}
	return &Description{Amount: converted.Amount, BaseCode: converted.Base, Text: tx.Description}, nil
}

// groupsMatch reports whether either transaction account belongs to a group
// naming the target code, or carrying it as exc_code property.
func groupsMatch(targetCode string, tx *platform.Transaction) bool {
	for _, account := range []*platform.Account{tx.CreditAccount, tx.DebitAccount} {
		if account == nil {
			continue
		}
		for _, group := range account.Groups {
			if group == nil {
				continue
			}
			if group.Name == targetCode || group.Property(books.PropExcCode) == targetCode {
				return true
			}
		}
	}
	return false
}
