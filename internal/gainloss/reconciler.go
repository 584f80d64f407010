// Package gainloss books the unrealized exchange gain and loss adjustments
// that reconcile a book's local balances with the converted balances of its
// connected books on a given date.
package gainloss

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crossbooks/crossbooks/internal/books"
	"github.com/crossbooks/crossbooks/internal/exchange"
	"github.com/crossbooks/crossbooks/internal/mirror"
	"github.com/crossbooks/crossbooks/internal/platform"
)

const (
	histSuffix     = " Hist"
	excSuffix      = " EXC"
	excNamePrefix  = "Exchange_"
	stockExcSuffix = " Unrealized EXC"
)

// Platform is the slice of the platform API the reconciler needs.
type Platform interface {
	books.Platform
	GetAccount(ctx context.Context, bookID, name string) (*platform.Account, error)
	ListAccounts(ctx context.Context, bookID string) ([]*platform.Account, error)
	CreateAccount(ctx context.Context, bookID string, account *platform.Account) (*platform.Account, error)
	GetGroup(ctx context.Context, bookID, name string) (*platform.Group, error)
	ListGroups(ctx context.Context, bookID string) ([]*platform.Group, error)
	ListGroupAccounts(ctx context.Context, bookID, groupID string) ([]*platform.Account, error)
	BatchCreateTransactions(ctx context.Context, bookID string, txs []*platform.Transaction) error
	GetBalance(ctx context.Context, bookID, accountName, query string) (decimal.Decimal, bool, error)
}

// Summary reports the net adjustment booked per exchange account.
type Summary struct {
	Code   string            `json:"code"`
	Totals map[string]string `json:"result"`
}

// Reconciler books gain/loss adjustment transactions on a base book.
type Reconciler struct {
	api       Platform
	resolver  *books.Resolver
	rates     *exchange.Service
	endpoints books.EndpointOptions
	logger    *slog.Logger
}

// NewReconciler wires the reconciler.
func NewReconciler(api Platform, rates *exchange.Service, endpoints books.EndpointOptions, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		api:       api,
		resolver:  books.NewResolver(api, logger),
		rates:     rates,
		endpoints: endpoints,
		logger:    logger,
	}
}

// Run reconciles the book against every connected book on the given date.
// For each account matching a connected code, the local cumulative balance is
// compared with the connected balance converted at that date's rates; any
// difference is booked against the account's exchange account with a
// #exchange_gain or #exchange_loss tag. Adjustments already booked are part
// of the local balance, so a second run on the same date finds zero deltas.
func (r *Reconciler) Run(ctx context.Context, bookID, dateParam string) (*Summary, error) {
	book, err := r.api.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	baseCode := books.BaseCode(book)
	if baseCode == "" {
		return nil, fmt.Errorf("please set the %q property of book %s", books.PropExcCode, book.Name)
	}

	date, err := book.ParseDate(dateParam)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: use the %s format", dateParam, book.Pattern())
	}

	table, err := r.ratesOn(ctx, book, dateParam)
	if err != nil {
		return nil, err
	}

	connected, err := r.resolver.ConnectedBooks(ctx, book)
	if err != nil {
		return nil, err
	}

	historical := book.Property(books.PropExcHistorical) != ""
	query, err := balanceQuery(book, date, historical)
	if err != nil {
		return nil, err
	}
	histQuery := "before:" + book.FormatDate(date.AddDate(0, 0, 1))

	totals := map[string]decimal.Decimal{}
	var excInfo *excAccountInfo

	for _, connectedBook := range connected {
		if connectedBook.ID == book.ID {
			continue
		}
		connectedCode := books.BaseCode(connectedBook)
		if connectedCode == "" {
			continue
		}

		accounts, err := r.matchingAccounts(ctx, book, connectedCode)
		if err != nil {
			return nil, err
		}

		var adjustments []*platform.Transaction
		for _, account := range accounts {
			peer, err := r.api.GetAccount(ctx, connectedBook.ID, account.Name)
			if err != nil {
				return nil, err
			}
			if peer == nil {
				continue
			}
			// Hist accounts track acquisition-date rates; a historical
			// book is entirely at those rates already.
			if historical && isHistAccount(peer) {
				continue
			}
			accountQuery := query
			if !historical && isHistAccount(peer) {
				accountQuery = histQuery
			}

			peerBalance, ok, err := r.api.GetBalance(ctx, connectedBook.ID, peer.Name, accountQuery)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			expected, err := exchange.Convert(peerBalance, connectedCode, baseCode, table)
			if err != nil {
				return nil, fmt.Errorf("converting %s balance of %s on %s: %w", connectedBook.Name, peer.Name, dateParam, err)
			}

			balance, ok, err := r.api.GetBalance(ctx, book.ID, account.Name, accountQuery)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}

			delta := balance.Sub(expected.Amount)

			excName := excAccountName(book, peer, connectedCode)
			excAccount, err := r.api.GetAccount(ctx, book.ID, excName)
			if err != nil {
				return nil, err
			}
			if excAccount == nil {
				if excInfo == nil {
					excInfo, err = r.loadExcAccountInfo(ctx, book)
					if err != nil {
						return nil, err
					}
				}
				excAccount, err = r.api.CreateAccount(ctx, book.ID, &platform.Account{
					Name:   excName,
					Type:   excInfo.accountType,
					Groups: excInfo.groups,
				})
				if err != nil {
					return nil, err
				}
				totals[excAccount.Name] = decimal.Zero
			}

			if account.Credit() {
				delta = delta.Neg()
			}
			rounded := book.Round(delta)
			if rounded.IsZero() {
				continue
			}

			amount := delta.Abs()
			adjustment := &platform.Transaction{
				AgentID: mirror.AgentID,
				Date:    dateParam,
				Amount:  &amount,
			}
			adjustment.SetProperty(books.PropExcCode, connectedCode)
			adjustment.SetProperty(books.PropExcRate, expected.Rate.String())
			adjustment.SetProperty(books.PropExcAmount, "0")

			if rounded.IsPositive() {
				// Local balance exceeds the converted peer balance:
				// book a loss out of the account.
				adjustment.CreditAccount = account
				adjustment.DebitAccount = excAccount
				adjustment.Description = lossTag(account)
			} else {
				adjustment.CreditAccount = excAccount
				adjustment.DebitAccount = account
				adjustment.Description = gainTag(account)
			}
			adjustments = append(adjustments, adjustment)
			totals[excAccount.Name] = totals[excAccount.Name].Add(delta)
		}

		if len(adjustments) > 0 {
			if err := r.api.BatchCreateTransactions(ctx, book.ID, adjustments); err != nil {
				return nil, err
			}
		}
	}

	summary := &Summary{Code: baseCode, Totals: make(map[string]string, len(totals))}
	for name, total := range totals {
		rounded := book.Round(total)
		summary.Totals[name] = book.FormatValue(&rounded)
	}
	return summary, nil
}

// ratesOn fetches the rate table effective on the reconciliation date by
// resolving the book's endpoint with a synthetic transaction on that date.
func (r *Reconciler) ratesOn(ctx context.Context, book *platform.Book, dateParam string) (*exchange.RateTable, error) {
	cfg, err := books.RatesEndpoint(book, &platform.Transaction{Date: dateParam}, r.endpoints)
	if err != nil {
		return nil, err
	}
	return r.rates.RatesWithTTL(ctx, cfg.URL, cfg.TTL)
}

// balanceQuery bounds the cumulative balance window. With a closing date set
// on a non-historical book only the open period counts; earlier periods were
// reconciled before closing.
func balanceQuery(book *platform.Book, date time.Time, historical bool) (string, error) {
	before := "before:" + book.FormatDate(date.AddDate(0, 0, 1))
	if historical || book.ClosingDate == "" {
		return before, nil
	}
	closing, err := book.ParseDate(book.ClosingDate)
	if err != nil {
		return "", fmt.Errorf("error parsing book closing date: %s", book.ClosingDate)
	}
	opening := closing.AddDate(0, 0, 1)
	return fmt.Sprintf("after:%s %s", book.FormatDate(opening), before), nil
}

// matchingAccounts collects the accounts tied to a connected code: members of
// the group named after the code plus members of any group carrying it as
// exc_code property.
func (r *Reconciler) matchingAccounts(ctx context.Context, book *platform.Book, code string) ([]*platform.Account, error) {
	seen := map[string]bool{}
	var accounts []*platform.Account
	add := func(list []*platform.Account) {
		for _, account := range list {
			if account == nil || seen[account.ID] {
				continue
			}
			seen[account.ID] = true
			accounts = append(accounts, account)
		}
	}

	group, err := r.api.GetGroup(ctx, book.ID, code)
	if err != nil {
		return nil, err
	}
	if group != nil {
		members, err := r.api.ListGroupAccounts(ctx, book.ID, group.ID)
		if err != nil {
			return nil, err
		}
		add(members)
	}

	groups, err := r.api.ListGroups(ctx, book.ID)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if g == nil || g.Property(books.PropExcCode) != code {
			continue
		}
		members, err := r.api.ListGroupAccounts(ctx, book.ID, g.ID)
		if err != nil {
			return nil, err
		}
		add(members)
	}
	return accounts, nil
}

// excAccountName resolves where an account's gain/loss is booked: an explicit
// exc_account property on the account or one of its groups wins, then the
// book-level aggregate account per code, then a per-account exchange account
// (with a distinct name for stock accounts).
func excAccountName(book *platform.Book, account *platform.Account, code string) string {
	if name := account.Property(books.PropExcAccount); name != "" {
		return name
	}
	for _, group := range account.Groups {
		if group == nil {
			continue
		}
		if name := group.Property(books.PropExcAccount); name != "" {
			return name
		}
	}
	if book.Property(books.PropExcAggregate) != "" {
		if isHistAccount(account) {
			return excNamePrefix + code + histSuffix
		}
		return excNamePrefix + code
	}
	for _, group := range account.Groups {
		if group == nil {
			continue
		}
		if group.Property(books.PropStockExcCode) != "" {
			return account.Name + stockExcSuffix
		}
	}
	return account.Name + excSuffix
}

func isHistAccount(account *platform.Account) bool {
	return strings.HasSuffix(account.Name, histSuffix)
}

func lossTag(account *platform.Account) string {
	if isHistAccount(account) {
		return "#exchange_loss_hist"
	}
	return "#exchange_loss"
}

func gainTag(account *platform.Account) string {
	if isHistAccount(account) {
		return "#exchange_gain_hist"
	}
	return "#exchange_gain"
}

// excAccountInfo carries the groups and type applied to newly created
// exchange accounts, derived from the exchange accounts the book already has.
type excAccountInfo struct {
	groups      []*platform.Group
	accountType platform.AccountType
}

// loadExcAccountInfo scans the book's accounts for existing exchange accounts
// (referenced by exc_account properties or named by convention) and derives
// the group memberships and the most common account type among them.
// LIABILITY is the default type when no clear majority exists.
func (r *Reconciler) loadExcAccountInfo(ctx context.Context, book *platform.Book) (*excAccountInfo, error) {
	accounts, err := r.api.ListAccounts(ctx, book.ID)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*platform.Account, len(accounts))
	candidates := map[string]bool{}
	for _, account := range accounts {
		if account == nil {
			continue
		}
		byName[account.Name] = account
		if name := account.Property(books.PropExcAccount); name != "" {
			candidates[name] = true
		}
		if strings.HasPrefix(account.Name, excNamePrefix) || strings.HasSuffix(account.Name, excSuffix) {
			candidates[account.Name] = true
		}
	}

	info := &excAccountInfo{accountType: platform.AccountTypeLiability}
	seenGroups := map[string]bool{}
	typeCounts := map[platform.AccountType]int{}
	for name := range candidates {
		account := byName[name]
		if account == nil {
			continue
		}
		typeCounts[account.Type]++
		for _, group := range account.Groups {
			if group == nil || seenGroups[group.ID] {
				continue
			}
			seenGroups[group.ID] = true
			info.groups = append(info.groups, group)
		}
	}
	best := 1
	for accountType, count := range typeCounts {
		if count > best {
			best = count
			info.accountType = accountType
		}
	}
	return info, nil
}
