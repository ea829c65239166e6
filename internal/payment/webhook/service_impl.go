// Package webhook reconciles provider checkout events into the credit ledger.
package webhook

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	billingdomain "github.com/creditrail/creditrail/internal/billing/domain"
	"github.com/creditrail/creditrail/internal/config"
	"github.com/creditrail/creditrail/internal/observability/metrics"
	"github.com/creditrail/creditrail/internal/payment/adapters"
	paymentdomain "github.com/creditrail/creditrail/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const eventCheckoutCompleted = "checkout.completed"

// Result statuses returned to the webhook handler.
const (
	StatusProcessed = "processed"
	StatusDuplicate = "duplicate"
	StatusIgnored   = "ignored"
)

// Result reports how a webhook delivery was resolved. Ignored deliveries
// carry a reason so the provider dashboard stays debuggable.
type Result struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Response maps the internal status onto the wire contract: applied and
// already-applied deliveries both acknowledge as "ok" so providers stop
// retrying, ignored ones keep their reason.
func (r *Result) Response() Result {
	switch r.Status {
	case StatusProcessed, StatusDuplicate:
		return Result{Status: "ok"}
	default:
		return Result{Status: r.Status, Reason: r.Reason}
	}
}

type Service struct {
	log *zap.Logger

	cfg        config.Config
	billing    *config.BillingConfigHolder
	billingsvc billingdomain.Service
	providers  *adapters.Registry
	metrics    *metrics.Metrics
}

type ServiceParam struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Billing    *config.BillingConfigHolder
	Billingsvc billingdomain.Service
	Providers  *adapters.Registry
	Metrics    *metrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) *Service {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		cfg:        p.Cfg,
		billing:    p.Billing,
		billingsvc: p.Billingsvc,
		providers:  p.Providers,
		metrics:    p.Metrics,
	}
}

// HandleCheckout verifies, parses and applies one checkout webhook
// delivery. Signature and payload failures return an error; everything the
// provider should not retry resolves to a Result.
func (s *Service) HandleCheckout(ctx context.Context, provider string, payload []byte, headers http.Header) (*Result, error) {
	adapter, err := s.providers.Get(provider)
	if err != nil {
		return nil, err
	}

	if err := adapter.Verify(payload, headers); err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "rejected")
		return nil, err
	}

	event, err := adapter.ParseCheckout(payload)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "rejected")
		return nil, err
	}

	result, err := s.apply(ctx, adapter.Name(), event)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "failed")
		return nil, err
	}

	s.metrics.RecordWebhookEvent(ctx, provider, result.Status)
	s.log.Info("webhook resolved",
		zap.String("provider", provider),
		zap.String("event_id", event.ID),
		zap.String("status", result.Status),
		zap.String("reason", result.Reason),
	)
	return result, nil
}

func (s *Service) apply(ctx context.Context, provider string, event *paymentdomain.CheckoutEvent) (*Result, error) {
	if event.Type != eventCheckoutCompleted {
		return &Result{Status: StatusIgnored, Reason: "unsupported_event"}, nil
	}

	meta := mergeMetadata(event)

	userID, reason := extractUserID(meta)
	if userID == "" {
		return &Result{Status: StatusIgnored, Reason: reason}, nil
	}

	amount := 0.0
	if event.Object.Order.Amount != nil {
		// provider amounts arrive in minor units
		amount = *event.Object.Order.Amount / 100
	}
	currency := event.Object.Order.Currency

	if s.isRecurring(event) {
		return s.applySubscription(ctx, provider, event, userID, amount, currency, meta)
	}
	return s.applyPack(ctx, provider, event, userID, amount, currency, meta)
}

func (s *Service) applySubscription(ctx context.Context, provider string, event *paymentdomain.CheckoutEvent, userID string, amount float64, currency string, meta map[string]any) (*Result, error) {
	var providerSubscriptionID string
	if event.Object.Subscription != nil {
		providerSubscriptionID = event.Object.Subscription.ID
	}

	applied, err := s.billingsvc.ApplySubscriptionPayment(ctx, billingdomain.ApplySubscriptionPaymentRequest{
		UserID:                 userID,
		Provider:               provider,
		ExternalID:             event.ID,
		Amount:                 amount,
		Currency:               currency,
		ProviderSubscriptionID: providerSubscriptionID,
		PlanName:               event.Object.Product.Name,
		MonthlyCredits:         s.billing.Get().MonthlyCredits,
		Metadata:               meta,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return &Result{Status: StatusDuplicate}, nil
	}
	return &Result{Status: StatusProcessed}, nil
}

func (s *Service) applyPack(ctx context.Context, provider string, event *paymentdomain.CheckoutEvent, userID string, amount float64, currency string, meta map[string]any) (*Result, error) {
	pack, ok := s.billing.Get().PackByProductID(event.Object.Product.ID)
	if !ok {
		return &Result{Status: StatusIgnored, Reason: "unknown_pack"}, nil
	}

	applied, err := s.billingsvc.ApplyPackPurchase(ctx, billingdomain.ApplyPackPurchaseRequest{
		UserID:     userID,
		Provider:   provider,
		ExternalID: event.ID,
		Credits:    pack.Credits,
		Amount:     amount,
		Currency:   currency,
		Metadata:   meta,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return &Result{Status: StatusDuplicate}, nil
	}
	return &Result{Status: StatusProcessed}, nil
}

// isRecurring classifies the purchase. The product's billing type or order
// type wins; a match on the configured subscription product covers
// providers that omit both.
func (s *Service) isRecurring(event *paymentdomain.CheckoutEvent) bool {
	if strings.EqualFold(event.Object.Product.BillingType, "recurring") {
		return true
	}
	if strings.EqualFold(event.Object.Order.Type, "recurring") {
		return true
	}
	subscriptionProduct := s.cfg.Creem.SubscriptionProductID
	return subscriptionProduct != "" && event.Object.Product.ID == subscriptionProduct
}

// mergeMetadata combines checkout and subscription metadata; the nested
// subscription values win on key collisions.
func mergeMetadata(event *paymentdomain.CheckoutEvent) map[string]any {
	merged := make(map[string]any, len(event.Object.Metadata))
	for k, v := range event.Object.Metadata {
		merged[k] = v
	}
	if event.Object.Subscription != nil {
		for k, v := range event.Object.Subscription.Metadata {
			merged[k] = v
		}
	}
	return merged
}

func extractUserID(meta map[string]any) (string, string) {
	value, ok := meta["user_id"]
	if !ok {
		value, ok = meta["internal_customer_id"]
	}
	if !ok || value == nil {
		return "", "missing_user_id"
	}

	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", "missing_user_id"
		}
		return strings.TrimSpace(v), ""
	case float64:
		return strings.TrimSpace(fmt.Sprintf("%.0f", v)), ""
	default:
		return "", "invalid_user_id"
	}
}
