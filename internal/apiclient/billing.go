package apiclient

import (
	"context"
	"encoding/json"
)

type SubscriptionRequest struct {
	PlanID string `json:"plan_id"`
}

type Subscription struct {
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
	CheckoutURL    string `json:"checkout_url,omitempty"`
}

func (c *Client) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*Subscription, error) {
	var resp Subscription
	if err := c.post(ctx, "/api/billing/subscription", "/api/billing/subscription", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type VerifyPaymentRequest struct {
	PaymentID      string `json:"payment_id"`
	SubscriptionID string `json:"subscription_id"`
	Signature      string `json:"signature"`
}

func (c *Client) VerifyPayment(ctx context.Context, req VerifyPaymentRequest) (*Subscription, error) {
	var resp Subscription
	if err := c.post(ctx, "/api/billing/verify", "/api/billing/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CancelSubscription(ctx context.Context) (*Subscription, error) {
	var resp Subscription
	if err := c.post(ctx, "/api/billing/cancel", "/api/billing/cancel", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type BillingStatus struct {
	Plan      string `json:"plan"`
	Status    string `json:"status"`
	RenewsAt  string `json:"renews_at,omitempty"`
	CancelsAt string `json:"cancels_at,omitempty"`
}

func (c *Client) BillingStatus(ctx context.Context) (*BillingStatus, error) {
	var resp BillingStatus
	if err := c.get(ctx, "/api/billing/status", "/api/billing/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Usage returns the plan usage document as sent by the backend.
func (c *Client) Usage(ctx context.Context) (json.RawMessage, error) {
	var resp json.RawMessage
	if err := c.get(ctx, "/api/billing/usage", "/api/billing/usage", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
