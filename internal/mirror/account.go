package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crossbooks/crossbooks/internal/event"
	"github.com/crossbooks/crossbooks/internal/platform"
)

// AccountMirror keeps peer accounts aligned by name across connected books.
type AccountMirror struct {
	api    Platform
	logger *slog.Logger
}

// NewAccountMirror wires the account mirror.
func NewAccountMirror(api Platform, logger *slog.Logger) *AccountMirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountMirror{api: api, logger: logger}
}

// CreatedOrUpdated converges the peer account to the source account's name,
// type, visible properties and group memberships, creating it when absent.
func (m *AccountMirror) CreatedOrUpdated(ctx context.Context, _, target *platform.Book, ev *event.Event) (string, error) {
	account, err := ev.Account()
	if err != nil {
		return "", err
	}
	groups, err := m.peerGroups(ctx, target, account)
	if err != nil {
		return "", err
	}

	peer, err := m.api.GetAccount(ctx, target.ID, account.Name)
	if err != nil {
		return "", err
	}
	if peer == nil {
		created := &platform.Account{
			Name:       account.Name,
			Type:       account.Type,
			Properties: visibleProperties(account.Properties),
			Groups:     groups,
		}
		if _, err := m.api.CreateAccount(ctx, target.ID, created); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s: ACCOUNT %s CREATED", Anchor(target), created.Name), nil
	}

	peer.Name = account.Name
	peer.Type = account.Type
	peer.Properties = visibleProperties(account.Properties)
	peer.Groups = groups
	if err := m.api.UpdateAccount(ctx, target.ID, peer); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: ACCOUNT %s UPDATED", Anchor(target), peer.Name), nil
}

// Deleted removes the peer account, or archives it when it already has posted
// transactions. A missing peer is reported, not an error.
func (m *AccountMirror) Deleted(ctx context.Context, _, target *platform.Book, ev *event.Event) (string, error) {
	account, err := ev.Account()
	if err != nil {
		return "", err
	}
	peer, err := m.api.GetAccount(ctx, target.ID, account.Name)
	if err != nil {
		return "", err
	}
	if peer == nil {
		return fmt.Sprintf("%s: ACCOUNT %s NOT Found", Anchor(target), account.Name), nil
	}
	if peer.HasTransactionsPosted {
		peer.Archived = true
		if err := m.api.UpdateAccount(ctx, target.ID, peer); err != nil {
			return "", err
		}
	} else if err := m.api.DeleteAccount(ctx, target.ID, peer.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: ACCOUNT %s DELETED", Anchor(target), peer.Name), nil
}

// peerGroups resolves the source account's groups on the target book by name,
// creating missing ones.
func (m *AccountMirror) peerGroups(ctx context.Context, target *platform.Book, account *platform.Account) ([]*platform.Group, error) {
	var groups []*platform.Group
	for _, group := range account.Groups {
		if group == nil {
			continue
		}
		peer, err := m.api.GetGroup(ctx, target.ID, group.Name)
		if err != nil {
			return nil, err
		}
		if peer == nil {
			peer, err = m.api.CreateGroup(ctx, target.ID, &platform.Group{
				Name:       group.Name,
				Hidden:     group.Hidden,
				Properties: visibleProperties(group.Properties),
			})
			if err != nil {
				return nil, err
			}
		}
		groups = append(groups, peer)
	}
	return groups, nil
}
