// Package domain contains persistence models for the credit ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// CreditWallet tracks a user's spendable credits. Monthly credits reset on
// each subscription payment; prepaid credits only grow through pack
// purchases and only shrink through usage.
type CreditWallet struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID           string       `gorm:"type:text;not null;uniqueIndex" json:"user_id"`
	MonthlyRemaining int64        `gorm:"not null;default:0" json:"monthly_remaining"`
	PrepaidBalance   int64        `gorm:"not null;default:0" json:"prepaid_balance"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (CreditWallet) TableName() string { return "credit_wallets" }

// TokenLedger is an append-only record of one model call's token usage and
// the credits it cost. OverageCredits captures the part of the cost the
// wallet could not cover.
type TokenLedger struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID            string            `gorm:"type:text;not null;index" json:"user_id"`
	ModelName         string            `gorm:"type:text;not null" json:"model_name"`
	PromptTokens      int64             `gorm:"not null;default:0" json:"prompt_tokens"`
	CompletionTokens  int64             `gorm:"not null;default:0" json:"completion_tokens"`
	TotalTokens       int64             `gorm:"not null;default:0" json:"total_tokens"`
	CostCredits       int64             `gorm:"not null;default:0" json:"cost_credits"`
	OverageCredits    int64             `gorm:"not null;default:0" json:"overage_credits"`
	ProviderRequestID string            `gorm:"type:text" json:"provider_request_id,omitempty"`
	Metadata          datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (TokenLedger) TableName() string { return "token_ledgers" }

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
)

// Subscription mirrors the payment provider's view of a user's recurring
// plan. Only the latest row per user is authoritative.
type Subscription struct {
	ID                     snowflake.ID       `gorm:"primaryKey" json:"id"`
	UserID                 string             `gorm:"type:text;not null;index" json:"user_id"`
	Provider               string             `gorm:"type:text;not null" json:"provider"`
	ProviderSubscriptionID string             `gorm:"type:text" json:"provider_subscription_id,omitempty"`
	Status                 SubscriptionStatus `gorm:"type:text;not null" json:"status"`
	PlanName               string             `gorm:"type:text" json:"plan_name,omitempty"`
	MonthlyCredits         int64              `gorm:"not null;default:0" json:"monthly_credits"`
	CurrentPeriodStart     *time.Time         `gorm:"" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time         `gorm:"" json:"current_period_end,omitempty"`
	Metadata               datatypes.JSONMap  `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// TransactionKind distinguishes recurring subscription payments from
// one-time credit pack purchases.
type TransactionKind string

const (
	TransactionKindSubscription TransactionKind = "subscription"
	TransactionKindCreditPack   TransactionKind = "credit_pack"
)

// PaymentTransaction records money received from the provider. ExternalID
// is the provider's event or order id and carries the unique constraint
// that makes webhook processing idempotent.
type PaymentTransaction struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID         string            `gorm:"type:text;not null;index" json:"user_id"`
	Provider       string            `gorm:"type:text;not null" json:"provider"`
	ExternalID     string            `gorm:"type:text;not null;uniqueIndex" json:"external_id"`
	Kind           TransactionKind   `gorm:"type:text;not null" json:"kind"`
	Status         string            `gorm:"type:text;not null" json:"status"`
	Amount         float64           `gorm:"type:numeric(10,2);not null;default:0" json:"amount"`
	Currency       string            `gorm:"type:text" json:"currency,omitempty"`
	CreditsGranted int64             `gorm:"not null;default:0" json:"credits_granted"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (PaymentTransaction) TableName() string { return "payment_transactions" }
