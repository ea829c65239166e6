package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/creditrail/creditrail/internal/billing/domain"
	"github.com/creditrail/creditrail/internal/config"
	"github.com/creditrail/creditrail/internal/costmodel"
	"github.com/creditrail/creditrail/internal/observability/metrics"
	"github.com/creditrail/creditrail/internal/payment/adapters"
	paymentdomain "github.com/creditrail/creditrail/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	repo    billingdomain.Repository
	cfg     config.Config
	billing *config.BillingConfigHolder

	providers *adapters.Registry
	metrics   *metrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    billingdomain.Repository
	Cfg     config.Config
	Billing *config.BillingConfigHolder

	Providers *adapters.Registry
	Metrics   *metrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) billingdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("billing.service"),

		genID:   p.GenID,
		repo:    p.Repo,
		cfg:     p.Cfg,
		billing: p.Billing,

		providers: p.Providers,
		metrics:   p.Metrics,
	}
}

func (s *Service) costConfig() costmodel.Config {
	billing := s.billing.Get()
	return costmodel.Config{
		CharsPerToken:    billing.CharsPerToken,
		TokensPerCredit:  billing.TokensPerCredit,
		ModelMultipliers: billing.ModelMultipliers,
	}
}

// GetWallet implements domain.Service. Users without a wallet row read as
// an empty wallet; the row itself is created lazily on first write.
func (s *Service) GetWallet(ctx context.Context, userID string) (billingdomain.CreditWallet, error) {
	if strings.TrimSpace(userID) == "" {
		return billingdomain.CreditWallet{}, billingdomain.ErrInvalidRequest
	}

	wallet, err := s.repo.FindWalletByUserID(ctx, s.db, userID)
	if err != nil {
		return billingdomain.CreditWallet{}, err
	}
	if wallet == nil {
		return billingdomain.CreditWallet{UserID: userID}, nil
	}
	return *wallet, nil
}

// GetSubscription implements domain.Service.
func (s *Service) GetSubscription(ctx context.Context, userID string) (*billingdomain.Subscription, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, billingdomain.ErrInvalidRequest
	}
	return s.repo.FindLatestSubscription(ctx, s.db, userID)
}

// ListLedger implements domain.Service.
func (s *Service) ListLedger(ctx context.Context, req billingdomain.ListLedgerRequest) ([]billingdomain.TokenLedger, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, billingdomain.ErrInvalidRequest
	}
	return s.repo.ListLedgerByUserID(ctx, s.db, req.UserID, req.Limit)
}

// ListPacks implements domain.Service.
func (s *Service) ListPacks(ctx context.Context) []config.CreditPack {
	_ = ctx
	return s.billing.Get().CreditPacks
}

// Precheck implements domain.Service. It estimates the cost of a prompt
// before the model call and reports a shortfall without reserving credits.
func (s *Service) Precheck(ctx context.Context, req billingdomain.PrecheckRequest) (billingdomain.PrecheckResponse, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return billingdomain.PrecheckResponse{}, billingdomain.ErrInvalidRequest
	}

	billing := s.billing.Get()
	cost := s.costConfig()

	estimatedTokens := req.EstimatedTokens
	if estimatedTokens <= 0 {
		promptTokens := costmodel.EstimatePromptTokens(req.History, req.Message, billing.CharsPerToken)
		estimatedTokens = promptTokens + billing.OutputTokensEstimate
	}
	estimatedCredits := cost.CostCredits(estimatedTokens, req.Model)

	wallet, err := s.GetWallet(ctx, req.UserID)
	if err != nil {
		return billingdomain.PrecheckResponse{}, err
	}
	available := wallet.MonthlyRemaining + wallet.PrepaidBalance

	resp := billingdomain.PrecheckResponse{
		EstimatedTokens:  estimatedTokens,
		EstimatedCredits: estimatedCredits,
		AvailableCredits: available,
	}
	if estimatedCredits > available {
		return resp, &billingdomain.InsufficientCreditsError{
			RequiredCredits:  estimatedCredits,
			AvailableCredits: available,
		}
	}
	return resp, nil
}

// CommitUsage implements domain.Service. The cost is deducted from monthly
// credits first, then prepaid; whatever remains is recorded as overage so a
// completed model call is always billed, never rejected.
func (s *Service) CommitUsage(ctx context.Context, req billingdomain.CommitUsageRequest) (billingdomain.CommitUsageResponse, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return billingdomain.CommitUsageResponse{}, billingdomain.ErrInvalidRequest
	}
	if req.PromptTokens < 0 || req.CompletionTokens < 0 {
		return billingdomain.CommitUsageResponse{}, billingdomain.ErrInvalidRequest
	}

	totalTokens := req.PromptTokens + req.CompletionTokens
	costCredits := s.costConfig().CostCredits(totalTokens, req.Model)

	var resp billingdomain.CommitUsageResponse
	err := s.db.Transaction(func(tx *gorm.DB) error {
		wallet, err := s.walletForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		remaining := costCredits

		fromMonthly := min64(wallet.MonthlyRemaining, remaining)
		wallet.MonthlyRemaining -= fromMonthly
		remaining -= fromMonthly

		fromPrepaid := min64(wallet.PrepaidBalance, remaining)
		wallet.PrepaidBalance -= fromPrepaid
		remaining -= fromPrepaid

		overage := remaining

		entry := &billingdomain.TokenLedger{
			ID:                s.genID.Generate(),
			UserID:            req.UserID,
			ModelName:         req.Model,
			PromptTokens:      req.PromptTokens,
			CompletionTokens:  req.CompletionTokens,
			TotalTokens:       totalTokens,
			CostCredits:       costCredits,
			OverageCredits:    overage,
			ProviderRequestID: req.ProviderRequestID,
			Metadata:          datatypes.JSONMap(req.Metadata),
			CreatedAt:         time.Now().UTC(),
		}
		if err := s.repo.InsertLedger(ctx, tx, entry); err != nil {
			return err
		}
		if err := s.repo.UpdateWalletBalances(ctx, tx, wallet); err != nil {
			return err
		}

		resp = billingdomain.CommitUsageResponse{
			CostCredits:    costCredits,
			OverageCredits: overage,
			Wallet:         *wallet,
		}
		return nil
	})
	if err != nil {
		return billingdomain.CommitUsageResponse{}, err
	}

	s.metrics.RecordUsageCommit(ctx, req.Model, resp.CostCredits, resp.OverageCredits)
	if resp.OverageCredits > 0 {
		s.log.Warn("usage committed with overage",
			zap.String("user_id", req.UserID),
			zap.String("model", req.Model),
			zap.Int64("overage_credits", resp.OverageCredits),
		)
	}
	return resp, nil
}

// GrantMonthlyAllowance implements domain.Service. The monthly balance is
// reset to the plan amount, not topped up, and the latest subscription row
// is refreshed in place.
func (s *Service) GrantMonthlyAllowance(ctx context.Context, req billingdomain.GrantMonthlyAllowanceRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return billingdomain.ErrInvalidRequest
	}

	monthlyCredits := req.MonthlyCredits
	if monthlyCredits <= 0 {
		monthlyCredits = s.billing.Get().MonthlyCredits
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.grantMonthlyAllowance(ctx, tx, req, monthlyCredits)
	})
}

// grantMonthlyAllowance resets the wallet and refreshes the latest
// subscription row inside the caller's transaction.
func (s *Service) grantMonthlyAllowance(ctx context.Context, tx *gorm.DB, req billingdomain.GrantMonthlyAllowanceRequest, monthlyCredits int64) error {
	wallet, err := s.walletForUpdate(ctx, tx, req.UserID)
	if err != nil {
		return err
	}

	wallet.MonthlyRemaining = monthlyCredits
	if err := s.repo.UpdateWalletBalances(ctx, tx, wallet); err != nil {
		return err
	}

	now := time.Now().UTC()
	existing, err := s.repo.FindLatestSubscription(ctx, tx, req.UserID)
	if err != nil {
		return err
	}
	if existing != nil {
		existing.Provider = req.Provider
		existing.ProviderSubscriptionID = req.ProviderSubscriptionID
		existing.Status = billingdomain.SubscriptionStatusActive
		existing.PlanName = req.PlanName
		existing.MonthlyCredits = monthlyCredits
		existing.CurrentPeriodStart = req.PeriodStart
		existing.CurrentPeriodEnd = req.PeriodEnd
		existing.Metadata = datatypes.JSONMap(req.Metadata)
		return s.repo.UpdateSubscription(ctx, tx, existing)
	}

	return s.repo.InsertSubscription(ctx, tx, &billingdomain.Subscription{
		ID:                     s.genID.Generate(),
		UserID:                 req.UserID,
		Provider:               req.Provider,
		ProviderSubscriptionID: req.ProviderSubscriptionID,
		Status:                 billingdomain.SubscriptionStatusActive,
		PlanName:               req.PlanName,
		MonthlyCredits:         monthlyCredits,
		CurrentPeriodStart:     req.PeriodStart,
		CurrentPeriodEnd:       req.PeriodEnd,
		Metadata:               datatypes.JSONMap(req.Metadata),
		CreatedAt:              now,
		UpdatedAt:              now,
	})
}

// ApplyPackPurchase implements domain.Service. The payment transaction row
// is inserted first; its unique external id makes redelivered webhooks
// no-ops before the wallet is touched.
func (s *Service) ApplyPackPurchase(ctx context.Context, req billingdomain.ApplyPackPurchaseRequest) (bool, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.ExternalID) == "" || req.Credits <= 0 {
		return false, billingdomain.ErrInvalidRequest
	}

	applied := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		created, err := s.repo.InsertTransaction(ctx, tx, &billingdomain.PaymentTransaction{
			ID:             s.genID.Generate(),
			UserID:         req.UserID,
			Provider:       req.Provider,
			ExternalID:     req.ExternalID,
			Kind:           billingdomain.TransactionKindCreditPack,
			Status:         "completed",
			Amount:         req.Amount,
			Currency:       req.Currency,
			CreditsGranted: req.Credits,
			Metadata:       datatypes.JSONMap(req.Metadata),
			CreatedAt:      time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if !created {
			return nil
		}

		wallet, err := s.walletForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		wallet.PrepaidBalance += req.Credits
		if err := s.repo.UpdateWalletBalances(ctx, tx, wallet); err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// RecordSubscriptionPayment implements domain.Service.
func (s *Service) RecordSubscriptionPayment(ctx context.Context, req billingdomain.RecordSubscriptionPaymentRequest) (bool, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.ExternalID) == "" {
		return false, billingdomain.ErrInvalidRequest
	}

	creditsGranted := req.CreditsGranted
	if creditsGranted <= 0 {
		creditsGranted = s.billing.Get().MonthlyCredits
	}

	return s.repo.InsertTransaction(ctx, s.db, &billingdomain.PaymentTransaction{
		ID:             s.genID.Generate(),
		UserID:         req.UserID,
		Provider:       req.Provider,
		ExternalID:     req.ExternalID,
		Kind:           billingdomain.TransactionKindSubscription,
		Status:         "completed",
		Amount:         req.Amount,
		Currency:       req.Currency,
		CreditsGranted: creditsGranted,
		Metadata:       datatypes.JSONMap(req.Metadata),
		CreatedAt:      time.Now().UTC(),
	})
}

// ApplySubscriptionPayment implements domain.Service. The transaction record
// and the allowance grant commit together; a failed grant rolls back the
// idempotency row so the provider's redelivery can apply the payment in full.
func (s *Service) ApplySubscriptionPayment(ctx context.Context, req billingdomain.ApplySubscriptionPaymentRequest) (bool, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.ExternalID) == "" {
		return false, billingdomain.ErrInvalidRequest
	}

	monthlyCredits := req.MonthlyCredits
	if monthlyCredits <= 0 {
		monthlyCredits = s.billing.Get().MonthlyCredits
	}

	applied := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		created, err := s.repo.InsertTransaction(ctx, tx, &billingdomain.PaymentTransaction{
			ID:             s.genID.Generate(),
			UserID:         req.UserID,
			Provider:       req.Provider,
			ExternalID:     req.ExternalID,
			Kind:           billingdomain.TransactionKindSubscription,
			Status:         "completed",
			Amount:         req.Amount,
			Currency:       req.Currency,
			CreditsGranted: monthlyCredits,
			Metadata:       datatypes.JSONMap(req.Metadata),
			CreatedAt:      time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if !created {
			return nil
		}

		if err := s.grantMonthlyAllowance(ctx, tx, billingdomain.GrantMonthlyAllowanceRequest{
			UserID:                 req.UserID,
			Provider:               req.Provider,
			ProviderSubscriptionID: req.ProviderSubscriptionID,
			PlanName:               req.PlanName,
			PeriodStart:            req.PeriodStart,
			PeriodEnd:              req.PeriodEnd,
			Metadata:               req.Metadata,
		}, monthlyCredits); err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// CreateCheckout implements domain.Service.
func (s *Service) CreateCheckout(ctx context.Context, req billingdomain.CreateCheckoutRequest) (billingdomain.CreateCheckoutResponse, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return billingdomain.CreateCheckoutResponse{}, billingdomain.ErrInvalidRequest
	}

	var productID string
	switch req.Kind {
	case billingdomain.CheckoutKindSubscription:
		productID = s.cfg.Creem.SubscriptionProductID
		if productID == "" {
			return billingdomain.CreateCheckoutResponse{}, billingdomain.ErrMissingProductID
		}
	case billingdomain.CheckoutKindCreditPack:
		pack, ok := s.billing.Get().PackByCredits(req.PackCredits)
		if !ok {
			return billingdomain.CreateCheckoutResponse{}, billingdomain.ErrUnknownPack
		}
		if pack.ProviderProductID == "" {
			return billingdomain.CreateCheckoutResponse{}, billingdomain.ErrMissingProductID
		}
		productID = pack.ProviderProductID
	default:
		return billingdomain.CreateCheckoutResponse{}, billingdomain.ErrInvalidCheckoutKind
	}

	adapter, err := s.providers.Get(s.cfg.BillingProvider)
	if err != nil {
		return billingdomain.CreateCheckoutResponse{}, err
	}

	session, err := adapter.CreateCheckoutSession(ctx, paymentdomain.CheckoutSessionRequest{
		ProductID:     productID,
		CustomerEmail: req.CustomerEmail,
		Metadata:      map[string]string{"user_id": req.UserID},
		SuccessURL:    s.cfg.Creem.SuccessURL,
		CancelURL:     s.cfg.Creem.CancelURL,
	})
	if err != nil {
		return billingdomain.CreateCheckoutResponse{}, err
	}

	s.metrics.RecordCheckout(ctx, string(req.Kind))
	s.log.Info("checkout session created",
		zap.String("user_id", req.UserID),
		zap.String("kind", string(req.Kind)),
		zap.String("session_id", session.ID),
	)

	return billingdomain.CreateCheckoutResponse{
		SessionID:   session.ID,
		CheckoutURL: session.CheckoutURL,
	}, nil
}

// walletForUpdate loads the user's wallet under a row lock, creating the
// row first when the user has never been billed.
func (s *Service) walletForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*billingdomain.CreditWallet, error) {
	wallet, err := s.repo.FindWalletByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if wallet != nil {
		return wallet, nil
	}

	now := time.Now().UTC()
	_, err = s.repo.InsertWallet(ctx, tx, &billingdomain.CreditWallet{
		ID:        s.genID.Generate(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	wallet, err = s.repo.FindWalletByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return wallet, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
