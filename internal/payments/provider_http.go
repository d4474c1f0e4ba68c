package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/iandrade/storefront-backend/pkg/config"
	pkgerrors "github.com/iandrade/storefront-backend/pkg/errors"
)

const providerRequestTimeout = 10 * time.Second

// HTTPProvider talks to the payment gateway's order API over REST with basic
// auth. Amounts are sent in the smallest currency unit, matching the rest of
// the system.
type HTTPProvider struct {
	baseURL    string
	keyID      string
	secret     string
	httpClient *http.Client
}

// NewHTTPProvider builds the gateway client from config.
func NewHTTPProvider(cfg config.PaymentConfig) (*HTTPProvider, error) {
	if cfg.ProviderBaseURL == "" {
		return nil, fmt.Errorf("provider base url required")
	}
	if cfg.ProviderKeyID == "" || cfg.ProviderSecret == "" {
		return nil, fmt.Errorf("provider credentials required")
	}
	return &HTTPProvider{
		baseURL:    cfg.ProviderBaseURL,
		keyID:      cfg.ProviderKeyID,
		secret:     cfg.ProviderSecret,
		httpClient: &http.Client{Timeout: providerRequestTimeout},
	}, nil
}

type providerOrderRequest struct {
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type providerOrderResponse struct {
	ID string `json:"id"`
}

// CreateOrder registers an order with the gateway and returns the provider's
// order id. Called before the local transaction so a gateway outage leaves
// the reservation untouched.
func (p *HTTPProvider) CreateOrder(ctx context.Context, amountCents int, receipt string) (string, error) {
	payload, err := json.Marshal(providerOrderRequest{
		Amount:   amountCents,
		Currency: "USD",
		Receipt:  receipt,
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode provider order")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build provider request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(p.keyID, p.secret)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "call payment provider")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read provider response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("payment provider returned %d", resp.StatusCode))
	}

	var decoded providerOrderResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode provider response")
	}
	if decoded.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "provider response missing order id")
	}
	return decoded.ID, nil
}
