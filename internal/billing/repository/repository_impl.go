package repository

import (
	"context"
	"strings"

	billingdomain "github.com/creditrail/creditrail/internal/billing/domain"
	pkgdb "github.com/creditrail/creditrail/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() billingdomain.Repository {
	return &repo{}
}

const walletColumns = `id, user_id, monthly_remaining, prepaid_balance, created_at, updated_at`

func (r *repo) FindWalletByUserID(ctx context.Context, db *gorm.DB, userID string) (*billingdomain.CreditWallet, error) {
	var wallet billingdomain.CreditWallet
	err := db.WithContext(ctx).Raw(
		`SELECT `+walletColumns+` FROM credit_wallets WHERE user_id = ?`,
		userID,
	).Scan(&wallet).Error
	if err != nil {
		return nil, err
	}
	if wallet.ID == 0 {
		return nil, nil
	}
	return &wallet, nil
}

func (r *repo) FindWalletByUserIDForUpdate(ctx context.Context, db *gorm.DB, userID string) (*billingdomain.CreditWallet, error) {
	query := `SELECT ` + walletColumns + ` FROM credit_wallets WHERE user_id = ?`
	// sqlite has no row locks; its single writer serializes access
	if !strings.EqualFold(db.Dialector.Name(), "sqlite") {
		query += ` FOR UPDATE`
	}

	var wallet billingdomain.CreditWallet
	err := db.WithContext(ctx).Raw(query, userID).Scan(&wallet).Error
	if err != nil {
		return nil, err
	}
	if wallet.ID == 0 {
		return nil, nil
	}
	return &wallet, nil
}

func (r *repo) InsertWallet(ctx context.Context, db *gorm.DB, wallet *billingdomain.CreditWallet) (bool, error) {
	result := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(wallet)
	if result.Error != nil {
		// backends without ON CONFLICT support report the unique constraint
		if pkgdb.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateWalletBalances(ctx context.Context, db *gorm.DB, wallet *billingdomain.CreditWallet) error {
	return db.WithContext(ctx).Exec(
		`UPDATE credit_wallets
		 SET monthly_remaining = ?, prepaid_balance = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		wallet.MonthlyRemaining,
		wallet.PrepaidBalance,
		wallet.ID,
	).Error
}

func (r *repo) InsertLedger(ctx context.Context, db *gorm.DB, entry *billingdomain.TokenLedger) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO token_ledgers (
			id, user_id, model_name, prompt_tokens, completion_tokens, total_tokens,
			cost_credits, overage_credits, provider_request_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.UserID,
		entry.ModelName,
		entry.PromptTokens,
		entry.CompletionTokens,
		entry.TotalTokens,
		entry.CostCredits,
		entry.OverageCredits,
		entry.ProviderRequestID,
		entry.Metadata,
		entry.CreatedAt,
	).Error
}

func (r *repo) ListLedgerByUserID(ctx context.Context, db *gorm.DB, userID string, limit int) ([]billingdomain.TokenLedger, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []billingdomain.TokenLedger
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, model_name, prompt_tokens, completion_tokens, total_tokens,
		 cost_credits, overage_credits, provider_request_id, metadata, created_at
		 FROM token_ledgers WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID,
		limit,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) FindLatestSubscription(ctx context.Context, db *gorm.DB, userID string) (*billingdomain.Subscription, error) {
	var subscription billingdomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, provider, provider_subscription_id, status, plan_name,
		 monthly_credits, current_period_start, current_period_end, metadata, created_at, updated_at
		 FROM subscriptions WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) InsertSubscription(ctx context.Context, db *gorm.DB, subscription *billingdomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, user_id, provider, provider_subscription_id, status, plan_name,
			monthly_credits, current_period_start, current_period_end, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.UserID,
		subscription.Provider,
		subscription.ProviderSubscriptionID,
		subscription.Status,
		subscription.PlanName,
		subscription.MonthlyCredits,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.Metadata,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) UpdateSubscription(ctx context.Context, db *gorm.DB, subscription *billingdomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET provider = ?, provider_subscription_id = ?, status = ?, plan_name = ?,
		     monthly_credits = ?, current_period_start = ?, current_period_end = ?,
		     metadata = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		subscription.Provider,
		subscription.ProviderSubscriptionID,
		subscription.Status,
		subscription.PlanName,
		subscription.MonthlyCredits,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.Metadata,
		subscription.ID,
	).Error
}

func (r *repo) FindTransactionByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*billingdomain.PaymentTransaction, error) {
	var tx billingdomain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, provider, external_id, kind, status, amount, currency,
		 credits_granted, metadata, created_at
		 FROM payment_transactions WHERE external_id = ?`,
		externalID,
	).Scan(&tx).Error
	if err != nil {
		return nil, err
	}
	if tx.ID == 0 {
		return nil, nil
	}
	return &tx, nil
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, tx *billingdomain.PaymentTransaction) (bool, error) {
	result := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(tx)
	if result.Error != nil {
		if pkgdb.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
