// Package event models the change notifications delivered by the ledger
// platform webhook.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/crossbooks/crossbooks/internal/platform"
)

// Type tags the kind of change an event describes.
type Type string

const (
	TransactionPosted   Type = "TRANSACTION_POSTED"
	TransactionChecked  Type = "TRANSACTION_CHECKED"
	TransactionUpdated  Type = "TRANSACTION_UPDATED"
	TransactionDeleted  Type = "TRANSACTION_DELETED"
	TransactionRestored Type = "TRANSACTION_RESTORED"
	AccountCreated      Type = "ACCOUNT_CREATED"
	AccountUpdated      Type = "ACCOUNT_UPDATED"
	AccountDeleted      Type = "ACCOUNT_DELETED"
	GroupCreated        Type = "GROUP_CREATED"
	GroupUpdated        Type = "GROUP_UPDATED"
	GroupDeleted        Type = "GROUP_DELETED"
	BookUpdated         Type = "BOOK_UPDATED"
)

// TouchesBalances reports whether handling this event type requires exchange
// rates.
func (t Type) TouchesBalances() bool {
	switch t {
	case TransactionPosted, TransactionChecked, TransactionUpdated:
		return true
	}
	return false
}

// User identifies the actor behind the change.
type User struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
}

// Data wraps the type-specific payload.
type Data struct {
	Object json.RawMessage `json:"object"`
}

// Event is one change notification: a type tag, the originating book and a
// type-specific payload.
type Event struct {
	Type Type           `json:"type" validate:"required"`
	Book *platform.Book `json:"book" validate:"required"`
	User *User          `json:"user,omitempty"`
	Data *Data          `json:"data,omitempty"`
}

func (e *Event) object(out any) error {
	if e.Data == nil || len(e.Data.Object) == 0 {
		return fmt.Errorf("event %s carries no payload", e.Type)
	}
	return json.Unmarshal(e.Data.Object, out)
}

// Transaction decodes a transaction payload.
func (e *Event) Transaction() (*platform.Transaction, error) {
	var op struct {
		Transaction *platform.Transaction `json:"transaction"`
	}
	if err := e.object(&op); err != nil {
		return nil, err
	}
	if op.Transaction == nil {
		return nil, fmt.Errorf("event %s carries no transaction", e.Type)
	}
	return op.Transaction, nil
}

// Account decodes an account payload.
func (e *Event) Account() (*platform.Account, error) {
	var op struct {
		Account *platform.Account `json:"account"`
	}
	if err := e.object(&op); err != nil {
		return nil, err
	}
	if op.Account == nil {
		return nil, fmt.Errorf("event %s carries no account", e.Type)
	}
	return op.Account, nil
}

// Group decodes a group payload.
func (e *Event) Group() (*platform.Group, error) {
	var op struct {
		Group *platform.Group `json:"group"`
	}
	if err := e.object(&op); err != nil {
		return nil, err
	}
	if op.Group == nil {
		return nil, fmt.Errorf("event %s carries no group", e.Type)
	}
	return op.Group, nil
}
