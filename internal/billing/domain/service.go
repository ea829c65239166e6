package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creditrail/creditrail/internal/config"
)

type PrecheckRequest struct {
	UserID string `json:"-"`
	Model  string `json:"model"`
	// EstimatedTokens, when set, is used as-is. Otherwise the token count
	// is estimated from Message and History plus the configured output
	// estimate.
	EstimatedTokens int64    `json:"estimated_tokens,omitempty"`
	Message         string   `json:"message,omitempty"`
	History         []string `json:"history,omitempty"`
}

type PrecheckResponse struct {
	EstimatedTokens  int64 `json:"estimated_tokens"`
	EstimatedCredits int64 `json:"estimated_credits"`
	AvailableCredits int64 `json:"available_credits"`
}

type CommitUsageRequest struct {
	UserID            string         `json:"-"`
	Model             string         `json:"model"`
	PromptTokens      int64          `json:"prompt_tokens"`
	CompletionTokens  int64          `json:"completion_tokens"`
	ProviderRequestID string         `json:"provider_request_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

type CommitUsageResponse struct {
	CostCredits    int64        `json:"cost_credits"`
	OverageCredits int64        `json:"overage_credits"`
	Wallet         CreditWallet `json:"wallet"`
}

type GrantMonthlyAllowanceRequest struct {
	UserID                 string
	Provider               string
	ProviderSubscriptionID string
	PlanName               string
	MonthlyCredits         int64
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
	Metadata               map[string]any
}

type ApplyPackPurchaseRequest struct {
	UserID     string
	Provider   string
	ExternalID string
	Credits    int64
	Amount     float64
	Currency   string
	Metadata   map[string]any
}

type RecordSubscriptionPaymentRequest struct {
	UserID         string
	Provider       string
	ExternalID     string
	Amount         float64
	Currency       string
	CreditsGranted int64
	Metadata       map[string]any
}

// ApplySubscriptionPaymentRequest carries one provider subscription payment:
// the transaction to record plus the allowance it grants.
type ApplySubscriptionPaymentRequest struct {
	UserID                 string
	Provider               string
	ExternalID             string
	Amount                 float64
	Currency               string
	ProviderSubscriptionID string
	PlanName               string
	MonthlyCredits         int64
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
	Metadata               map[string]any
}

type ListLedgerRequest struct {
	UserID string
	Limit  int
}

type CheckoutKind string

const (
	CheckoutKindSubscription CheckoutKind = "subscription"
	CheckoutKindCreditPack   CheckoutKind = "credit_pack"
)

type CreateCheckoutRequest struct {
	UserID        string       `json:"-"`
	Kind          CheckoutKind `json:"kind"`
	PackCredits   int64        `json:"pack_credits,omitempty"`
	CustomerEmail string       `json:"customer_email,omitempty"`
}

type CreateCheckoutResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

type Service interface {
	GetWallet(ctx context.Context, userID string) (CreditWallet, error)
	GetSubscription(ctx context.Context, userID string) (*Subscription, error)
	ListLedger(ctx context.Context, req ListLedgerRequest) ([]TokenLedger, error)
	ListPacks(ctx context.Context) []config.CreditPack
	Precheck(ctx context.Context, req PrecheckRequest) (PrecheckResponse, error)
	CommitUsage(ctx context.Context, req CommitUsageRequest) (CommitUsageResponse, error)
	GrantMonthlyAllowance(ctx context.Context, req GrantMonthlyAllowanceRequest) error
	ApplyPackPurchase(ctx context.Context, req ApplyPackPurchaseRequest) (bool, error)
	RecordSubscriptionPayment(ctx context.Context, req RecordSubscriptionPaymentRequest) (bool, error)
	ApplySubscriptionPayment(ctx context.Context, req ApplySubscriptionPaymentRequest) (bool, error)
	CreateCheckout(ctx context.Context, req CreateCheckoutRequest) (CreateCheckoutResponse, error)
}

var (
	ErrInvalidRequest      = errors.New("invalid_request")
	ErrUnknownPack         = errors.New("unknown_pack")
	ErrMissingProductID    = errors.New("missing_product_id")
	ErrInvalidCheckoutKind = errors.New("invalid_checkout_kind")
)

// InsufficientCreditsError reports how far short the wallet falls. It is
// returned by Precheck only; usage commits never block on balance.
type InsufficientCreditsError struct {
	RequiredCredits  int64
	AvailableCredits int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient_credits: required %d, available %d", e.RequiredCredits, e.AvailableCredits)
}
