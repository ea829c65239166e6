// Package creem implements the Creem payment provider adapter.
package creem

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/creditrail/creditrail/internal/config"
	paymentdomain "github.com/creditrail/creditrail/internal/payment/domain"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the raw body.
const SignatureHeader = "creem-signature"

const checkoutPath = "/v1/checkouts"

type Adapter struct {
	cfg        config.CreemConfig
	httpClient *http.Client
}

func New(cfg config.CreemConfig) *Adapter {
	return &Adapter{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (a *Adapter) Name() string { return "creem" }

// Verify checks the webhook signature against the shared secret. An
// unconfigured secret rejects every payload.
func (a *Adapter) Verify(payload []byte, headers http.Header) error {
	if a.cfg.WebhookSecret == "" {
		return paymentdomain.ErrInvalidSignature
	}

	signature := strings.TrimSpace(headers.Get(SignatureHeader))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) ParseCheckout(payload []byte) (*paymentdomain.CheckoutEvent, error) {
	var event paymentdomain.CheckoutEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	// a missing eventType is left to the caller, which ignores any type it
	// does not recognize
	return &event, nil
}

type checkoutRequest struct {
	ProductID     string            `json:"product_id"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	SuccessURL    string            `json:"success_url,omitempty"`
	CancelURL     string            `json:"cancel_url,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, req paymentdomain.CheckoutSessionRequest) (*paymentdomain.CheckoutSession, error) {
	if a.cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key not configured", paymentdomain.ErrExternalService)
	}

	body, err := json.Marshal(checkoutRequest{
		ProductID:     req.ProductID,
		CustomerEmail: req.CustomerEmail,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
		Metadata:      req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(a.cfg.APIBaseURL, "/") + checkoutPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: creem checkout returned %d: %s", paymentdomain.ErrExternalService, resp.StatusCode, snippet)
	}

	var session paymentdomain.CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrExternalService, err)
	}
	if session.ID == "" || session.CheckoutURL == "" {
		return nil, fmt.Errorf("%w: creem checkout response missing id or url", paymentdomain.ErrExternalService)
	}
	return &session, nil
}
