package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/crossbooks/crossbooks/internal/amount"
	"github.com/crossbooks/crossbooks/internal/books"
	"github.com/crossbooks/crossbooks/internal/event"
	"github.com/crossbooks/crossbooks/internal/exchange"
	"github.com/crossbooks/crossbooks/internal/platform"
)

// TransactionMirror keeps the peer copy of a transaction in one connected
// book. The source transaction's ID in the mirror's remote-identifier set is
// the sole idempotency key.
type TransactionMirror struct {
	api        Platform
	amounts    *amount.Resolver
	rates      *exchange.Service
	endpoints  books.EndpointOptions
	logger     *slog.Logger
	agentID    string
	skipAgents []string
}

// NewTransactionMirror wires the transaction mirror.
func NewTransactionMirror(api Platform, rates *exchange.Service, endpoints books.EndpointOptions, logger *slog.Logger) *TransactionMirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransactionMirror{
		api:        api,
		amounts:    amount.NewResolver(),
		rates:      rates,
		endpoints:  endpoints,
		logger:     logger,
		agentID:    AgentID,
		skipAgents: DefaultSkipAgents,
	}
}

type txHandler func(ctx context.Context, source, target *platform.Book, tx, peer *platform.Transaction) (string, error)
type txMissingHandler func(ctx context.Context, source, target *platform.Book, tx *platform.Transaction) (string, error)

// Posted mirrors a newly posted transaction.
func (m *TransactionMirror) Posted(ctx context.Context, source, target *platform.Book, ev *event.Event) (string, error) {
	return m.process(ctx, source, target, ev, false, m.updateFound, m.createMissing)
}

// Checked mirrors a checked transaction, creating the peer when absent.
func (m *TransactionMirror) Checked(ctx context.Context, source, target *platform.Book, ev *event.Event) (string, error) {
	return m.process(ctx, source, target, ev, false, m.updateFound, m.createMissing)
}

// Updated propagates edits onto the existing peer, creating it when absent.
func (m *TransactionMirror) Updated(ctx context.Context, source, target *platform.Book, ev *event.Event) (string, error) {
	return m.process(ctx, source, target, ev, false, m.updateFound, m.createMissing)
}

// Deleted trashes the peer; a missing peer is a no-op.
func (m *TransactionMirror) Deleted(ctx context.Context, source, target *platform.Book, ev *event.Event) (string, error) {
	return m.process(ctx, source, target, ev, false, m.trashFound, nil)
}

// Restored untrashes the peer; a missing peer is a no-op.
func (m *TransactionMirror) Restored(ctx context.Context, source, target *platform.Book, ev *event.Event) (string, error) {
	return m.process(ctx, source, target, ev, true, m.untrashFound, nil)
}

// process is the shared found/not-found template. Payloads written by this
// agent or a known sibling automation, and unposted transactions, are never
// mirrored.
func (m *TransactionMirror) process(ctx context.Context, source, target *platform.Book, ev *event.Event, trashedOnly bool, found txHandler, missing txMissingHandler) (string, error) {
	tx, err := ev.Transaction()
	if err != nil {
		return "", err
	}
	if tx.AgentID == m.agentID {
		m.logger.Info("same payload agent, preventing loop", slog.String("transaction_id", tx.ID))
		return "", nil
	}
	if slices.Contains(m.skipAgents, tx.AgentID) {
		m.logger.Info("skipping sibling agent", slog.String("agent_id", tx.AgentID))
		return "", nil
	}
	if !tx.Posted {
		return "", nil
	}
	query := "remoteId:" + tx.ID
	if trashedOnly {
		query += " is:trashed"
	}
	matches, err := m.api.QueryTransactions(ctx, target.ID, query)
	if err != nil {
		return "", err
	}
	if len(matches) > 0 {
		return found(ctx, source, target, tx, matches[0])
	}
	if missing == nil {
		return "", nil
	}
	return missing(ctx, source, target, tx)
}

// createMissing builds a new peer transaction: accounts resolved by name
// (created with their groups when absent), amount and description resolved
// through the override chain, audit properties attached. The peer is posted
// when both accounts and the amount resolved, else created as a draft naming
// the missing side.
func (m *TransactionMirror) createMissing(ctx context.Context, source, target *platform.Book, tx *platform.Transaction) (string, error) {
	baseCode := books.BaseCode(source)
	targetCode := books.BaseCode(target)

	if err := m.copyAccount(ctx, target, tx.CreditAccount); err != nil {
		// A concurrent mirror or the platform may have created it first.
		m.logger.Debug("credit account copy skipped", slog.Any("error", err))
	}
	if err := m.copyAccount(ctx, target, tx.DebitAccount); err != nil {
		m.logger.Debug("debit account copy skipped", slog.Any("error", err))
	}

	desc, err := m.extract(ctx, source, target, baseCode, targetCode, tx)
	if err != nil {
		return "", err
	}
	if desc.Amount.IsZero() {
		return "", nil
	}

	credit, err := m.api.GetAccount(ctx, target.ID, tx.CreditAccountName())
	if err != nil {
		return "", err
	}
	debit, err := m.api.GetAccount(ctx, target.ID, tx.DebitAccountName())
	if err != nil {
		return "", err
	}

	amt := desc.Amount
	peer := &platform.Transaction{
		AgentID:       m.agentID,
		Date:          tx.Date,
		Amount:        &amt,
		Description:   desc.Text,
		CreditAccount: credit,
		DebitAccount:  debit,
		Checked:       tx.Checked,
		Properties:    visibleProperties(tx.Properties),
	}
	peer.AddRemoteID(tx.ID)
	m.applyAuditProperties(peer, tx, desc)

	readyToPost := peer.CreditAccount != nil && peer.DebitAccount != nil && peer.Amount != nil
	if !readyToPost {
		missing := ""
		if peer.CreditAccount == nil {
			missing = tx.CreditAccountName()
		}
		if peer.DebitAccount == nil {
			missing = strings.TrimSpace(missing + " " + tx.DebitAccountName())
		}
		peer.Description = strings.TrimSpace(missing + " " + peer.Description)
	}
	if _, err := m.api.CreateTransaction(ctx, target.ID, peer, readyToPost); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: %s %s %s", Anchor(target), peer.Date, target.FormatValue(peer.Amount), peer.Description), nil
}

// updateFound recomputes the amount for an existing peer. A zero amount
// converges the peer to trashed; otherwise every mirrored field is rewritten
// (unchecking first when needed).
func (m *TransactionMirror) updateFound(ctx context.Context, source, target *platform.Book, tx, peer *platform.Transaction) (string, error) {
	baseCode := books.BaseCode(source)
	targetCode := books.BaseCode(target)

	credit, err := m.namedAccount(ctx, target, tx.CreditAccountName())
	if err != nil {
		return "", err
	}
	debit, err := m.namedAccount(ctx, target, tx.DebitAccountName())
	if err != nil {
		return "", err
	}

	desc, err := m.extract(ctx, source, target, baseCode, targetCode, tx)
	if err != nil {
		return "", err
	}

	if desc.Amount.IsZero() {
		if peer.Checked {
			if err := m.api.SetTransactionChecked(ctx, target.ID, peer.ID, false); err != nil {
				return "", err
			}
		}
		if err := m.api.SetTransactionTrashed(ctx, target.ID, peer.ID, true); err != nil {
			return "", err
		}
		record := fmt.Sprintf("DELETED: %s %s %s %s %s", peer.Date, target.FormatValue(peer.Amount), peer.CreditAccountName(), peer.DebitAccountName(), peer.Description)
		return fmt.Sprintf("%s: %s", Anchor(target), record), nil
	}

	if peer.Checked {
		if err := m.api.SetTransactionChecked(ctx, target.ID, peer.ID, false); err != nil {
			return "", err
		}
	}

	amt := desc.Amount
	peer.Amount = &amt
	peer.Description = desc.Text
	peer.Date = tx.Date
	peer.Properties = visibleProperties(tx.Properties)
	peer.CreditAccount = credit
	peer.DebitAccount = debit
	peer.Checked = tx.Checked
	peer.AddRemoteID(tx.ID)
	m.applyAuditProperties(peer, tx, desc)

	urls := slices.Clone(tx.URLs)
	for _, file := range tx.Files {
		urls = append(urls, file.URL)
	}
	peer.URLs = urls

	if err := m.api.UpdateTransaction(ctx, target.ID, peer); err != nil {
		return "", err
	}
	record := fmt.Sprintf("EDITED: %s %s %s %s %s", peer.Date, target.FormatValue(peer.Amount), peer.CreditAccountName(), peer.DebitAccountName(), peer.Description)
	return fmt.Sprintf("%s: %s", Anchor(target), record), nil
}

func (m *TransactionMirror) trashFound(ctx context.Context, _, target *platform.Book, _, peer *platform.Transaction) (string, error) {
	if peer.Checked {
		if err := m.api.SetTransactionChecked(ctx, target.ID, peer.ID, false); err != nil {
			return "", err
		}
	}
	if err := m.api.SetTransactionTrashed(ctx, target.ID, peer.ID, true); err != nil {
		return "", err
	}
	record := fmt.Sprintf("DELETED: %s %s %s", peer.Date, target.FormatValue(peer.Amount), peer.Description)
	return fmt.Sprintf("%s: %s", Anchor(target), record), nil
}

func (m *TransactionMirror) untrashFound(ctx context.Context, _, target *platform.Book, _, peer *platform.Transaction) (string, error) {
	if err := m.api.SetTransactionTrashed(ctx, target.ID, peer.ID, false); err != nil {
		return "", err
	}
	record := fmt.Sprintf("RESTORED: %s %s %s", peer.Date, target.FormatValue(peer.Amount), peer.Description)
	return fmt.Sprintf("%s: %s", Anchor(target), record), nil
}

func (m *TransactionMirror) extract(ctx context.Context, source, target *platform.Book, baseCode, targetCode string, tx *platform.Transaction) (*amount.Description, error) {
	cfg, err := books.RatesEndpoint(source, tx, m.endpoints)
	if err != nil {
		return nil, err
	}
	table, err := m.rates.RatesWithTTL(ctx, cfg.URL, cfg.TTL)
	if err != nil {
		return nil, err
	}
	return m.amounts.Extract(source, target, baseCode, targetCode, tx, table)
}

// applyAuditProperties records the conversion provenance on the peer.
func (m *TransactionMirror) applyAuditProperties(peer, tx *platform.Transaction, desc *amount.Description) {
	if desc.BaseCode != "" {
		peer.SetProperty(books.PropExcCode, desc.BaseCode)
	}
	if desc.HasBaseRate {
		peer.SetProperty(books.PropExcRate, desc.BaseRate.String())
		if tx.Amount != nil {
			peer.SetProperty(books.PropExcAmount, tx.Amount.String())
		}
	}
	if desc.Rates != nil {
		entries := []excLogEntry{{
			Date: desc.Rates.Date,
			Base: desc.Rates.Base,
		}}
		if desc.HasBaseRate {
			entries[0].Rate = desc.BaseRate.String()
		}
		if data, err := json.Marshal(entries); err == nil {
			peer.SetProperty(books.PropExcLog, string(data))
		}
	}
}

type excLogEntry struct {
	Date string `json:"date,omitempty"`
	Base string `json:"base"`
	Rate string `json:"rate,omitempty"`
}

// copyAccount creates a full structural copy of the source account on the
// target book, including its groups, when no account of that name exists.
func (m *TransactionMirror) copyAccount(ctx context.Context, target *platform.Book, src *platform.Account) error {
	if src == nil {
		return nil
	}
	existing, err := m.api.GetAccount(ctx, target.ID, src.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	peer := &platform.Account{
		Name:       src.Name,
		Type:       src.Type,
		Properties: visibleProperties(src.Properties),
	}
	for _, group := range src.Groups {
		if group == nil {
			continue
		}
		peerGroup, err := m.api.GetGroup(ctx, target.ID, group.Name)
		if err != nil {
			return err
		}
		if peerGroup == nil {
			peerGroup, err = m.api.CreateGroup(ctx, target.ID, &platform.Group{
				Name:       group.Name,
				Properties: visibleProperties(group.Properties),
			})
			if err != nil {
				return err
			}
		}
		peer.Groups = append(peer.Groups, peerGroup)
	}
	_, err = m.api.CreateAccount(ctx, target.ID, peer)
	return err
}

// namedAccount resolves an account by name, creating a bare one when absent.
// Creation failures are treated as races and resolve to a missing account.
func (m *TransactionMirror) namedAccount(ctx context.Context, target *platform.Book, name string) (*platform.Account, error) {
	if name == "" {
		return nil, nil
	}
	account, err := m.api.GetAccount(ctx, target.ID, name)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}
	account, err = m.api.CreateAccount(ctx, target.ID, &platform.Account{Name: name})
	if err != nil {
		m.logger.Debug("account create race", slog.String("account", name), slog.Any("error", err))
		return m.api.GetAccount(ctx, target.ID, name)
	}
	return account, nil
}
