package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	FindWalletByUserID(ctx context.Context, db *gorm.DB, userID string) (*CreditWallet, error)
	FindWalletByUserIDForUpdate(ctx context.Context, db *gorm.DB, userID string) (*CreditWallet, error)
	InsertWallet(ctx context.Context, db *gorm.DB, wallet *CreditWallet) (bool, error)
	UpdateWalletBalances(ctx context.Context, db *gorm.DB, wallet *CreditWallet) error
	InsertLedger(ctx context.Context, db *gorm.DB, entry *TokenLedger) error
	ListLedgerByUserID(ctx context.Context, db *gorm.DB, userID string, limit int) ([]TokenLedger, error)
	FindLatestSubscription(ctx context.Context, db *gorm.DB, userID string) (*Subscription, error)
	InsertSubscription(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	UpdateSubscription(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindTransactionByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*PaymentTransaction, error)
	InsertTransaction(ctx context.Context, db *gorm.DB, tx *PaymentTransaction) (bool, error)
}
