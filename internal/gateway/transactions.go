package gateway

import (
	"context"
	"fmt"
	"net/http"

	"amlwatch/internal/model"
)

func (c *Client) Transactions(ctx context.Context) ([]model.TransactionEvent, error) {
	var out []model.TransactionEvent
	if err := c.do(ctx, Request{Method: http.MethodGet, Path: "/transactions"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SuspiciousTransactions(ctx context.Context) ([]model.TransactionEvent, error) {
	var out []model.TransactionEvent
	if err := c.do(ctx, Request{Method: http.MethodGet, Path: "/transactions/suspicious"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateTransaction validates tx locally; invalid input never reaches the
// network.
func (c *Client) CreateTransaction(ctx context.Context, tx model.NewTransaction) (model.TransactionEvent, error) {
	if err := tx.Validate(); err != nil {
		return model.TransactionEvent{}, err
	}
	var out model.TransactionEvent
	if err := c.do(ctx, Request{Method: http.MethodPost, Path: "/transactions", Body: tx}, &out); err != nil {
		return model.TransactionEvent{}, err
	}
	return out, nil
}

func (c *Client) Users(ctx context.Context) ([]model.User, error) {
	var out []model.User
	if err := c.do(ctx, Request{Method: http.MethodGet, Path: "/admin/users"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ToggleUser(ctx context.Context, id int64) error {
	return c.do(ctx, Request{Method: http.MethodPut, Path: fmt.Sprintf("/admin/users/%d/toggle", id)}, nil)
}
