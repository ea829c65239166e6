package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	billingdomain "github.com/creditrail/creditrail/internal/billing/domain"
	"github.com/creditrail/creditrail/internal/billing/repository"
	"github.com/creditrail/creditrail/internal/config"
	"github.com/creditrail/creditrail/internal/observability/metrics"
	"github.com/creditrail/creditrail/internal/payment/adapters"
	paymentdomain "github.com/creditrail/creditrail/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubAdapter struct {
	lastReq paymentdomain.CheckoutSessionRequest
	err     error
}

func (a *stubAdapter) Name() string { return "creem" }

func (a *stubAdapter) Verify(payload []byte, headers http.Header) error { return nil }

func (a *stubAdapter) ParseCheckout(payload []byte) (*paymentdomain.CheckoutEvent, error) {
	return nil, paymentdomain.ErrInvalidPayload
}

func (a *stubAdapter) CreateCheckoutSession(ctx context.Context, req paymentdomain.CheckoutSessionRequest) (*paymentdomain.CheckoutSession, error) {
	a.lastReq = req
	if a.err != nil {
		return nil, a.err
	}
	return &paymentdomain.CheckoutSession{ID: "cs_test", CheckoutURL: "https://pay.test/cs_test"}, nil
}

func testBillingConfig() config.BillingConfig {
	return config.BillingConfig{
		MonthlyCredits:       50,
		TokensPerCredit:      1000,
		CharsPerToken:        4,
		OutputTokensEstimate: 512,
		ModelMultipliers:     map[string]float64{"default": 1.0},
		CreditPacks: []config.CreditPack{
			{Credits: 2000, PriceUSD: 9.9, ProviderProductID: "prod_pack_2000"},
			{Credits: 5000, PriceUSD: 19.9, ProviderProductID: "prod_pack_5000"},
		},
	}
}

func setupService(t *testing.T, name string) (*gorm.DB, billingdomain.Service, *stubAdapter) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&billingdomain.CreditWallet{},
		&billingdomain.TokenLedger{},
		&billingdomain.Subscription{},
		&billingdomain.PaymentTransaction{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	adapter := &stubAdapter{}
	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Cfg: config.Config{
			BillingProvider: "creem",
			Creem: config.CreemConfig{
				SubscriptionProductID: "prod_sub",
				SuccessURL:            "https://app.test/billing?status=success",
				CancelURL:             "https://app.test/billing?status=cancel",
			},
		},
		Billing:   config.NewBillingConfigHolderFrom(testBillingConfig()),
		Providers: adapters.NewRegistry(adapter),
		Metrics:   metrics.Nop(),
	})
	return db, svc, adapter
}

func seedWallet(t *testing.T, db *gorm.DB, userID string, monthly, prepaid int64) {
	t.Helper()
	node, _ := snowflake.NewNode(2)
	require.NoError(t, db.Create(&billingdomain.CreditWallet{
		ID:               node.Generate(),
		UserID:           userID,
		MonthlyRemaining: monthly,
		PrepaidBalance:   prepaid,
	}).Error)
}

func TestCommitUsage_DeductsMonthlyFirst(t *testing.T) {
	db, svc, _ := setupService(t, "commit_monthly")
	seedWallet(t, db, "u1", 50, 10)

	// 2500 tokens at 1000 per credit round up to 3 credits
	resp, err := svc.CommitUsage(context.Background(), billingdomain.CommitUsageRequest{
		UserID:           "u1",
		Model:            "default",
		PromptTokens:     1500,
		CompletionTokens: 1000,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3), resp.CostCredits)
	assert.Equal(t, int64(0), resp.OverageCredits)
	assert.Equal(t, int64(47), resp.Wallet.MonthlyRemaining)
	assert.Equal(t, int64(10), resp.Wallet.PrepaidBalance)

	var entries []billingdomain.TokenLedger
	require.NoError(t, db.Where("user_id = ?", "u1").Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2500), entries[0].TotalTokens)
	assert.Equal(t, int64(3), entries[0].CostCredits)
}

func TestCommitUsage_SpillsToPrepaidThenOverage(t *testing.T) {
	db, svc, _ := setupService(t, "commit_overage")
	seedWallet(t, db, "u1", 2, 1)

	// 5000 tokens cost 5 credits against 3 available
	resp, err := svc.CommitUsage(context.Background(), billingdomain.CommitUsageRequest{
		UserID:       "u1",
		Model:        "default",
		PromptTokens: 5000,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5), resp.CostCredits)
	assert.Equal(t, int64(2), resp.OverageCredits)
	assert.Equal(t, int64(0), resp.Wallet.MonthlyRemaining)
	assert.Equal(t, int64(0), resp.Wallet.PrepaidBalance)

	var entry billingdomain.TokenLedger
	require.NoError(t, db.Where("user_id = ?", "u1").First(&entry).Error)
	assert.Equal(t, int64(2), entry.OverageCredits)
}

func TestCommitUsage_CreatesWalletLazily(t *testing.T) {
	db, svc, _ := setupService(t, "commit_lazy")

	resp, err := svc.CommitUsage(context.Background(), billingdomain.CommitUsageRequest{
		UserID:       "fresh",
		Model:        "default",
		PromptTokens: 1000,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), resp.CostCredits)
	assert.Equal(t, int64(1), resp.OverageCredits)

	var count int64
	require.NoError(t, db.Model(&billingdomain.CreditWallet{}).Where("user_id = ?", "fresh").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCommitUsage_RejectsInvalidRequest(t *testing.T) {
	_, svc, _ := setupService(t, "commit_invalid")

	_, err := svc.CommitUsage(context.Background(), billingdomain.CommitUsageRequest{Model: "default"})
	assert.ErrorIs(t, err, billingdomain.ErrInvalidRequest)

	_, err = svc.CommitUsage(context.Background(), billingdomain.CommitUsageRequest{
		UserID:       "u1",
		Model:        "default",
		PromptTokens: -1,
	})
	assert.ErrorIs(t, err, billingdomain.ErrInvalidRequest)
}

func TestCommitUsage_EmptyModelFallsBackToDefaultRate(t *testing.T) {
	db, svc, _ := setupService(t, "commit_no_model")
	seedWallet(t, db, "u1", 50, 0)

	resp, err := svc.CommitUsage(context.Background(), billingdomain.CommitUsageRequest{
		UserID:       "u1",
		PromptTokens: 2500,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.CostCredits)
	assert.Equal(t, int64(47), resp.Wallet.MonthlyRemaining)
}

func TestPrecheck_ReportsShortfallWithoutReserving(t *testing.T) {
	db, svc, _ := setupService(t, "precheck")
	seedWallet(t, db, "u1", 1, 1)

	// 20000 chars -> 5000 prompt tokens, +512 output estimate -> 6 credits
	// against 2 available
	message := make([]byte, 20000)
	for i := range message {
		message[i] = 'a'
	}

	resp, err := svc.Precheck(context.Background(), billingdomain.PrecheckRequest{
		UserID:  "u1",
		Model:   "default",
		Message: string(message),
	})

	var insufficient *billingdomain.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, resp.EstimatedCredits, insufficient.RequiredCredits)
	assert.Equal(t, int64(2), insufficient.AvailableCredits)
	assert.Equal(t, int64(5512), resp.EstimatedTokens)

	// the wallet is untouched
	var wallet billingdomain.CreditWallet
	require.NoError(t, db.Where("user_id = ?", "u1").First(&wallet).Error)
	assert.Equal(t, int64(1), wallet.MonthlyRemaining)
	assert.Equal(t, int64(1), wallet.PrepaidBalance)
}

func TestPrecheck_PassesWhenAffordable(t *testing.T) {
	db, svc, _ := setupService(t, "precheck_ok")
	seedWallet(t, db, "u1", 50, 0)

	resp, err := svc.Precheck(context.Background(), billingdomain.PrecheckRequest{
		UserID:  "u1",
		Model:   "default",
		Message: "hello there",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50), resp.AvailableCredits)
	assert.Equal(t, int64(1), resp.EstimatedCredits)
}

func TestPrecheck_UsesCallerTokenEstimate(t *testing.T) {
	db, svc, _ := setupService(t, "precheck_tokens")
	seedWallet(t, db, "u1", 50, 0)

	resp, err := svc.Precheck(context.Background(), billingdomain.PrecheckRequest{
		UserID:          "u1",
		Model:           "default",
		EstimatedTokens: 2500,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), resp.EstimatedTokens)
	assert.Equal(t, int64(3), resp.EstimatedCredits)
}

func TestGrantMonthlyAllowance_ResetsNotAdds(t *testing.T) {
	db, svc, _ := setupService(t, "grant_reset")
	seedWallet(t, db, "u1", 10, 7)

	require.NoError(t, svc.GrantMonthlyAllowance(context.Background(), billingdomain.GrantMonthlyAllowanceRequest{
		UserID:   "u1",
		Provider: "creem",
		PlanName: "Pro",
	}))

	var wallet billingdomain.CreditWallet
	require.NoError(t, db.Where("user_id = ?", "u1").First(&wallet).Error)
	assert.Equal(t, int64(50), wallet.MonthlyRemaining)
	assert.Equal(t, int64(7), wallet.PrepaidBalance)
}

func TestGrantMonthlyAllowance_UpsertsLatestSubscription(t *testing.T) {
	db, svc, _ := setupService(t, "grant_upsert")

	require.NoError(t, svc.GrantMonthlyAllowance(context.Background(), billingdomain.GrantMonthlyAllowanceRequest{
		UserID:                 "u1",
		Provider:               "creem",
		ProviderSubscriptionID: "sub_1",
		PlanName:               "Pro",
	}))
	require.NoError(t, svc.GrantMonthlyAllowance(context.Background(), billingdomain.GrantMonthlyAllowanceRequest{
		UserID:                 "u1",
		Provider:               "creem",
		ProviderSubscriptionID: "sub_2",
		PlanName:               "Pro Annual",
	}))

	var subs []billingdomain.Subscription
	require.NoError(t, db.Where("user_id = ?", "u1").Find(&subs).Error)
	require.Len(t, subs, 1)
	assert.Equal(t, "sub_2", subs[0].ProviderSubscriptionID)
	assert.Equal(t, "Pro Annual", subs[0].PlanName)
	assert.Equal(t, billingdomain.SubscriptionStatusActive, subs[0].Status)
}

func TestApplyPackPurchase_IsIdempotent(t *testing.T) {
	db, svc, _ := setupService(t, "pack_idempotent")
	seedWallet(t, db, "u1", 0, 100)

	req := billingdomain.ApplyPackPurchaseRequest{
		UserID:     "u1",
		Provider:   "creem",
		ExternalID: "evt_1",
		Credits:    2000,
		Amount:     9.9,
		Currency:   "USD",
	}

	applied, err := svc.ApplyPackPurchase(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.ApplyPackPurchase(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, applied)

	var wallet billingdomain.CreditWallet
	require.NoError(t, db.Where("user_id = ?", "u1").First(&wallet).Error)
	assert.Equal(t, int64(2100), wallet.PrepaidBalance)

	var count int64
	require.NoError(t, db.Model(&billingdomain.PaymentTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestApplyPackPurchase_Concurrent(t *testing.T) {
	db, svc, _ := setupService(t, "pack_concurrent")

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = svc.ApplyPackPurchase(context.Background(), billingdomain.ApplyPackPurchaseRequest{
				UserID:     "u1",
				Provider:   "creem",
				ExternalID: fmt.Sprintf("evt_%d", n),
				Credits:    2000,
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	var wallet billingdomain.CreditWallet
	require.NoError(t, db.Where("user_id = ?", "u1").First(&wallet).Error)
	assert.Equal(t, int64(workers*2000), wallet.PrepaidBalance)
}

func TestRecordSubscriptionPayment_DuplicateExternalID(t *testing.T) {
	db, svc, _ := setupService(t, "sub_payment")

	req := billingdomain.RecordSubscriptionPaymentRequest{
		UserID:     "u1",
		Provider:   "creem",
		ExternalID: "evt_sub_1",
		Amount:     9.9,
		Currency:   "USD",
	}

	created, err := svc.RecordSubscriptionPayment(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.RecordSubscriptionPayment(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, created)

	// the monthly allowance is recorded on the transaction by default
	var tx billingdomain.PaymentTransaction
	require.NoError(t, db.Where("external_id = ?", "evt_sub_1").First(&tx).Error)
	assert.Equal(t, int64(50), tx.CreditsGranted)
}

func TestApplySubscriptionPayment_GrantsAndRecords(t *testing.T) {
	db, svc, _ := setupService(t, "sub_apply")
	seedWallet(t, db, "u1", 3, 7)

	req := billingdomain.ApplySubscriptionPaymentRequest{
		UserID:                 "u1",
		Provider:               "creem",
		ExternalID:             "evt_sub_apply",
		Amount:                 19.9,
		Currency:               "USD",
		ProviderSubscriptionID: "sub_abc",
		PlanName:               "Pro",
	}

	applied, err := svc.ApplySubscriptionPayment(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, applied)

	var wallet billingdomain.CreditWallet
	require.NoError(t, db.Where("user_id = ?", "u1").First(&wallet).Error)
	assert.Equal(t, int64(50), wallet.MonthlyRemaining)
	assert.Equal(t, int64(7), wallet.PrepaidBalance)

	var tx billingdomain.PaymentTransaction
	require.NoError(t, db.Where("external_id = ?", "evt_sub_apply").First(&tx).Error)
	assert.Equal(t, billingdomain.TransactionKindSubscription, tx.Kind)
	assert.Equal(t, int64(50), tx.CreditsGranted)

	applied, err = svc.ApplySubscriptionPayment(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, applied)

	var count int64
	require.NoError(t, db.Model(&billingdomain.PaymentTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestApplySubscriptionPayment_RetryAfterFailedGrant(t *testing.T) {
	db, svc, _ := setupService(t, "sub_apply_retry")
	seedWallet(t, db, "u1", 3, 0)

	req := billingdomain.ApplySubscriptionPaymentRequest{
		UserID:     "u1",
		Provider:   "creem",
		ExternalID: "evt_sub_retry",
		Amount:     19.9,
		Currency:   "USD",
		PlanName:   "Pro",
	}

	// force the grant step to fail after the transaction row is inserted
	require.NoError(t, db.Migrator().DropTable(&billingdomain.Subscription{}))

	_, err := svc.ApplySubscriptionPayment(context.Background(), req)
	require.Error(t, err)

	// the rollback releases the idempotency key
	var count int64
	require.NoError(t, db.Model(&billingdomain.PaymentTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	require.NoError(t, db.AutoMigrate(&billingdomain.Subscription{}))

	applied, err := svc.ApplySubscriptionPayment(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, applied)

	var wallet billingdomain.CreditWallet
	require.NoError(t, db.Where("user_id = ?", "u1").First(&wallet).Error)
	assert.Equal(t, int64(50), wallet.MonthlyRemaining)
}

func TestCreateCheckout(t *testing.T) {
	_, svc, adapter := setupService(t, "checkout")

	resp, err := svc.CreateCheckout(context.Background(), billingdomain.CreateCheckoutRequest{
		UserID:      "u42",
		Kind:        billingdomain.CheckoutKindCreditPack,
		PackCredits: 2000,
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test", resp.SessionID)
	assert.Equal(t, "https://pay.test/cs_test", resp.CheckoutURL)
	assert.Equal(t, "prod_pack_2000", adapter.lastReq.ProductID)
	assert.Equal(t, "u42", adapter.lastReq.Metadata["user_id"])

	_, err = svc.CreateCheckout(context.Background(), billingdomain.CreateCheckoutRequest{
		UserID: "u42",
		Kind:   billingdomain.CheckoutKindSubscription,
	})
	require.NoError(t, err)
	assert.Equal(t, "prod_sub", adapter.lastReq.ProductID)

	_, err = svc.CreateCheckout(context.Background(), billingdomain.CreateCheckoutRequest{
		UserID:      "u42",
		Kind:        billingdomain.CheckoutKindCreditPack,
		PackCredits: 123,
	})
	assert.ErrorIs(t, err, billingdomain.ErrUnknownPack)

	_, err = svc.CreateCheckout(context.Background(), billingdomain.CreateCheckoutRequest{
		UserID: "u42",
		Kind:   "something_else",
	})
	assert.ErrorIs(t, err, billingdomain.ErrInvalidCheckoutKind)
}
