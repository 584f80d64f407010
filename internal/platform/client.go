package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// ErrNotFound indicates the requested platform object does not exist.
var ErrNotFound = errors.New("platform: not found")

// Client wraps interactions with the ledger platform REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient constructs a new client. The limiter bounds outbound call rate so
// a large fan-out cannot stampede the platform.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(50), 100),
	}
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("platform: %s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("platform: %s %s returned status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetBook loads a book by ID.
func (c *Client) GetBook(ctx context.Context, id string) (*Book, error) {
	var book Book
	if err := c.do(ctx, http.MethodGet, "/books/"+url.PathEscape(id), nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// UpdateBook patches the book's settings and properties.
func (c *Client) UpdateBook(ctx context.Context, book *Book) error {
	return c.do(ctx, http.MethodPatch, "/books/"+url.PathEscape(book.ID), book, nil)
}

// ListCollectionBooks returns every book in a collection.
func (c *Client) ListCollectionBooks(ctx context.Context, collectionID string) ([]*Book, error) {
	var out struct {
		Items []*Book `json:"items"`
	}
	path := "/collections/" + url.PathEscape(collectionID) + "/books"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// GetAccount finds an account by name. A missing account is (nil, nil): the
// caller decides whether absence is an error.
func (c *Client) GetAccount(ctx context.Context, bookID, name string) (*Account, error) {
	var out struct {
		Items []*Account `json:"items"`
	}
	path := "/books/" + url.PathEscape(bookID) + "/accounts?name=" + url.QueryEscape(name)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	return out.Items[0], nil
}

// ListAccounts returns every account of a book.
func (c *Client) ListAccounts(ctx context.Context, bookID string) ([]*Account, error) {
	var out struct {
		Items []*Account `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/books/"+url.PathEscape(bookID)+"/accounts", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// CreateAccount creates an account on a book.
func (c *Client) CreateAccount(ctx context.Context, bookID string, account *Account) (*Account, error) {
	var created Account
	if err := c.do(ctx, http.MethodPost, "/books/"+url.PathEscape(bookID)+"/accounts", account, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateAccount patches an existing account.
func (c *Client) UpdateAccount(ctx context.Context, bookID string, account *Account) error {
	path := "/books/" + url.PathEscape(bookID) + "/accounts/" + url.PathEscape(account.ID)
	return c.do(ctx, http.MethodPatch, path, account, nil)
}

// DeleteAccount removes an account outright.
func (c *Client) DeleteAccount(ctx context.Context, bookID, accountID string) error {
	path := "/books/" + url.PathEscape(bookID) + "/accounts/" + url.PathEscape(accountID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// GetGroup finds a group by name, (nil, nil) when absent.
func (c *Client) GetGroup(ctx context.Context, bookID, name string) (*Group, error) {
	var out struct {
		Items []*Group `json:"items"`
	}
	path := "/books/" + url.PathEscape(bookID) + "/groups?name=" + url.QueryEscape(name)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	return out.Items[0], nil
}

// ListGroups returns every group of a book.
func (c *Client) ListGroups(ctx context.Context, bookID string) ([]*Group, error) {
	var out struct {
		Items []*Group `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/books/"+url.PathEscape(bookID)+"/groups", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ListGroupAccounts returns the accounts belonging to a group.
func (c *Client) ListGroupAccounts(ctx context.Context, bookID, groupID string) ([]*Account, error) {
	var out struct {
		Items []*Account `json:"items"`
	}
	path := "/books/" + url.PathEscape(bookID) + "/groups/" + url.PathEscape(groupID) + "/accounts"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// CreateGroup creates a group on a book.
func (c *Client) CreateGroup(ctx context.Context, bookID string, group *Group) (*Group, error) {
	var created Group
	if err := c.do(ctx, http.MethodPost, "/books/"+url.PathEscape(bookID)+"/groups", group, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateGroup patches an existing group.
func (c *Client) UpdateGroup(ctx context.Context, bookID string, group *Group) error {
	path := "/books/" + url.PathEscape(bookID) + "/groups/" + url.PathEscape(group.ID)
	return c.do(ctx, http.MethodPatch, path, group, nil)
}

// DeleteGroup removes a group.
func (c *Client) DeleteGroup(ctx context.Context, bookID, groupID string) error {
	path := "/books/" + url.PathEscape(bookID) + "/groups/" + url.PathEscape(groupID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// QueryTransactions runs a transaction query (remoteId:, is:trashed, date
// range operators) against a book.
func (c *Client) QueryTransactions(ctx context.Context, bookID, query string) ([]*Transaction, error) {
	var out struct {
		Items []*Transaction `json:"items"`
	}
	path := "/books/" + url.PathEscape(bookID) + "/transactions?query=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// CreateTransaction creates a transaction, posting it immediately when post
// is true and leaving it as a draft otherwise.
func (c *Client) CreateTransaction(ctx context.Context, bookID string, tx *Transaction, post bool) (*Transaction, error) {
	var created Transaction
	path := "/books/" + url.PathEscape(bookID) + "/transactions"
	if post {
		path += "?post=true"
	}
	if err := c.do(ctx, http.MethodPost, path, tx, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// BatchCreateTransactions creates a set of transactions in one write.
func (c *Client) BatchCreateTransactions(ctx context.Context, bookID string, txs []*Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	in := struct {
		Items []*Transaction `json:"items"`
	}{Items: txs}
	return c.do(ctx, http.MethodPost, "/books/"+url.PathEscape(bookID)+"/transactions/batch", in, nil)
}

// UpdateTransaction patches an existing transaction.
func (c *Client) UpdateTransaction(ctx context.Context, bookID string, tx *Transaction) error {
	path := "/books/" + url.PathEscape(bookID) + "/transactions/" + url.PathEscape(tx.ID)
	return c.do(ctx, http.MethodPatch, path, tx, nil)
}

// SetTransactionChecked checks or unchecks a transaction.
func (c *Client) SetTransactionChecked(ctx context.Context, bookID, txID string, checked bool) error {
	op := "uncheck"
	if checked {
		op = "check"
	}
	path := "/books/" + url.PathEscape(bookID) + "/transactions/" + url.PathEscape(txID) + "/" + op
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// SetTransactionTrashed moves a transaction to or out of the trash.
func (c *Client) SetTransactionTrashed(ctx context.Context, bookID, txID string, trashed bool) error {
	op := "untrash"
	if trashed {
		op = "trash"
	}
	path := "/books/" + url.PathEscape(bookID) + "/transactions/" + url.PathEscape(txID) + "/" + op
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// GetBalance reads an account's cumulative balance under a query. The second
// return is false when the account has no balance container for the query.
func (c *Client) GetBalance(ctx context.Context, bookID, accountName, query string) (decimal.Decimal, bool, error) {
	var out struct {
		Balance decimal.Decimal `json:"cumulativeBalance"`
	}
	path := "/books/" + url.PathEscape(bookID) + "/balances?account=" + url.QueryEscape(accountName) + "&query=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		if errors.Is(err, ErrNotFound) {
			return decimal.Decimal{}, false, nil
		}
		return decimal.Decimal{}, false, err
	}
	return out.Balance, true, nil
}
