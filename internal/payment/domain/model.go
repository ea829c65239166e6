// Package domain defines the payment provider contract: checkout session
// creation plus webhook verification and parsing.
package domain

import (
	"context"
	"errors"
	"net/http"
)

// CheckoutSessionRequest describes the session to open with the provider.
type CheckoutSessionRequest struct {
	ProductID     string
	CustomerEmail string
	Metadata      map[string]string
	SuccessURL    string
	CancelURL     string
}

// CheckoutSession is the provider's handle for a newly created session.
type CheckoutSession struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

// CheckoutEvent is the normalized shape of a provider checkout webhook.
type CheckoutEvent struct {
	ID     string         `json:"id"`
	Type   string         `json:"eventType"`
	Object CheckoutObject `json:"object"`
}

type CheckoutObject struct {
	ID           string             `json:"id"`
	Metadata     map[string]any     `json:"metadata"`
	Subscription *EventSubscription `json:"subscription"`
	Product      EventProduct       `json:"product"`
	Order        EventOrder         `json:"order"`
}

type EventSubscription struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata"`
}

type EventProduct struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	BillingType string `json:"billing_type"`
}

type EventOrder struct {
	// Amount is in the currency's minor units (cents).
	Amount   *float64 `json:"amount"`
	Currency string   `json:"currency"`
	Type     string   `json:"type"`
}

// Adapter abstracts one payment provider's API surface.
type Adapter interface {
	Name() string
	Verify(payload []byte, headers http.Header) error
	ParseCheckout(payload []byte) (*CheckoutEvent, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
}

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrExternalService  = errors.New("external_service_error")
)
