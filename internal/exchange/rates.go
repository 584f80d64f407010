// Package exchange fetches, caches and applies currency rate tables.
package exchange

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Rate is a string-encoded decimal rate, parsed lazily. Endpoints return
// rates as either JSON numbers or strings; both decode into Rate.
type Rate string

// UnmarshalJSON accepts numeric and string rate encodings.
func (r *Rate) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Rate(s)
		return nil
	}
	*r = Rate(data)
	return nil
}

// Decimal parses the rate value.
func (r Rate) Decimal() (decimal.Decimal, error) {
	return decimal.NewFromString(string(r))
}

// RateTable is a base currency plus a map of codes to conversion rates as of
// a date. ConvertBase rewrites it in place, so the service hands every caller
// its own copy; the cached table is never mutated.
type RateTable struct {
	Base        string          `json:"base"`
	Date        string          `json:"date,omitempty"`
	Rates       map[string]Rate `json:"rates"`
	Status      int             `json:"status,omitempty"`
	Error       bool            `json:"error,omitempty"`
	Description string          `json:"description,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// Clone returns an independent copy of the table, safe to re-base without
// affecting other holders.
func (t *RateTable) Clone() *RateTable {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Rates != nil {
		clone.Rates = make(map[string]Rate, len(t.Rates))
		for code, value := range t.Rates {
			clone.Rates[code] = value
		}
	}
	return &clone
}

// ConvertedAmount is the outcome of one conversion through a rate table.
type ConvertedAmount struct {
	Amount decimal.Decimal
	Base   string
	Rate   decimal.Decimal
}

var one = decimal.NewFromInt(1)

// ConvertBase re-bases the table onto toBase, mutating it in place: the old
// base gains an identity entry and every rate is divided by toBase's rate.
// Returns nil when toBase is absent or its rate does not parse. Sibling
// entries that fail to parse are left untouched.
func ConvertBase(t *RateTable, toBase string) *RateTable {
	if t == nil {
		return nil
	}
	if t.Rates == nil {
		t.Rates = make(map[string]Rate)
	}
	t.Rates[t.Base] = "1"
	if t.Base == toBase {
		return t
	}
	target, ok := t.Rates[toBase]
	if !ok {
		return nil
	}
	rate, err := target.Decimal()
	if err != nil || rate.IsZero() {
		return nil
	}
	factor := one.Div(rate)
	t.Base = toBase
	for code, value := range t.Rates {
		d, err := value.Decimal()
		if err != nil {
			continue
		}
		t.Rates[code] = Rate(d.Mul(factor).String())
	}
	return t
}

// Convert converts value from one code to another through the table. The
// table is re-based onto from as a side effect.
func Convert(value decimal.Decimal, from, to string, t *RateTable) (*ConvertedAmount, error) {
	if t == nil {
		return nil, errors.New("exchange: rate table must be provided")
	}
	if t.Error {
		msg := t.Description
		if msg == "" {
			msg = t.Message
		}
		if msg == "" {
			msg = "error reading rates"
		}
		return nil, errors.New(msg)
	}
	rebased := ConvertBase(t, from)
	if rebased == nil {
		return nil, fmt.Errorf("code %s not found in %s", from, describeTable(t))
	}
	raw, ok := rebased.Rates[to]
	if !ok {
		return nil, fmt.Errorf("code %s not found in %s", to, describeTable(rebased))
	}
	rate, err := raw.Decimal()
	if err != nil {
		return nil, fmt.Errorf("invalid rate %q for code %s", raw, to)
	}
	return &ConvertedAmount{
		Amount: rate.Mul(value),
		Base:   rebased.Base,
		Rate:   rate,
	}, nil
}

func describeTable(t *RateTable) string {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Sprintf("rate table (base %s)", t.Base)
	}
	return string(data)
}
