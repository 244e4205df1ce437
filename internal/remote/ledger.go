package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"thebox/internal/core"
	"thebox/internal/log"
)

var errMissingTokens = errors.New("response carries no tokens")

// ListTransactions returns the authoritative list, filtered server side.
func (c *Client) ListTransactions(ctx context.Context, f core.Filters) ([]core.Transaction, error) {
	q := url.Values{}
	if !f.From.IsZero() {
		q.Set("startDate", f.From.String())
	}
	if !f.To.IsZero() {
		q.Set("endDate", f.To.String())
	}
	if f.Category != "" {
		q.Set("category", f.Category)
	}

	resp, err := c.doAuthed(ctx, log.OpList, http.MethodGet, "/transactions", q, nil)
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp.status) {
		return nil, statusError(log.OpList, resp)
	}
	var out struct {
		Transactions []transactionDTO `json:"transactions"`
	}
	if err := decode(log.OpList, resp, &out); err != nil {
		return nil, err
	}
	txs := make([]core.Transaction, 0, len(out.Transactions))
	for _, d := range out.Transactions {
		txs = append(txs, d.toCore())
	}
	return txs, nil
}

// CreateTransaction posts a draft; the server assigns the id. A 403 means the
// plan's transaction cap is reached.
func (c *Client) CreateTransaction(ctx context.Context, d core.Draft, deviceID string) (core.Transaction, error) {
	if err := d.Validate(); err != nil {
		return core.Transaction{}, err
	}
	resp, err := c.doAuthed(ctx, log.OpCreate, http.MethodPost, "/transactions", nil, draftToDTO(d, deviceID))
	if err != nil {
		return core.Transaction{}, err
	}
	if resp.status == http.StatusForbidden {
		return core.Transaction{}, fmt.Errorf("%w: %s", core.ErrQuotaExceeded, errorMessage(resp.body))
	}
	return decodeTransaction(log.OpCreate, resp)
}

// UpdateTransaction replaces the editable fields of an existing entry.
func (c *Client) UpdateTransaction(ctx context.Context, id string, d core.Draft) (core.Transaction, error) {
	const op = "update"
	if err := d.Validate(); err != nil {
		return core.Transaction{}, err
	}
	resp, err := c.doAuthed(ctx, op, http.MethodPut, "/transactions/"+url.PathEscape(id), nil, draftToDTO(d, ""))
	if err != nil {
		return core.Transaction{}, err
	}
	return decodeTransaction(op, resp)
}

// DeleteTransaction is idempotent: an id unknown to the server counts as deleted.
func (c *Client) DeleteTransaction(ctx context.Context, id string) error {
	resp, err := c.doAuthed(ctx, log.OpDelete, http.MethodDelete, "/transactions/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return err
	}
	if isSuccess(resp.status) || resp.status == http.StatusNotFound {
		return nil
	}
	return statusError(log.OpDelete, resp)
}

// GetStats returns server-computed totals; nothing is cached.
func (c *Client) GetStats(ctx context.Context) (core.Stats, error) {
	resp, err := c.doAuthed(ctx, log.OpStats, http.MethodGet, "/stats", nil, nil)
	if err != nil {
		return core.Stats{}, err
	}
	if !isSuccess(resp.status) {
		return core.Stats{}, statusError(log.OpStats, resp)
	}
	var out statsDTO
	if err := decode(log.OpStats, resp, &out); err != nil {
		return core.Stats{}, err
	}
	return out.toCore(), nil
}

// Checkout asks the backend for a payment-provider session id for plan
// ("monthly" or "annual"). Completing the payment happens outside this client.
func (c *Client) Checkout(ctx context.Context, plan string) (string, error) {
	const op = "checkout"
	resp, err := c.doAuthed(ctx, op, http.MethodPost, "/checkout", nil, map[string]string{"plan": plan})
	if err != nil {
		return "", err
	}
	if !isSuccess(resp.status) {
		return "", statusError(op, resp)
	}
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := decode(op, resp, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

func decodeTransaction(op string, resp response) (core.Transaction, error) {
	if !isSuccess(resp.status) {
		return core.Transaction{}, statusError(op, resp)
	}
	var out struct {
		Transaction transactionDTO `json:"transaction"`
	}
	if err := decode(op, resp, &out); err != nil {
		return core.Transaction{}, err
	}
	if out.Transaction.ID == "" {
		return core.Transaction{}, &core.NetworkError{Op: op, Status: resp.status, Err: errors.New("transaction without id")}
	}
	return out.Transaction.toCore(), nil
}
