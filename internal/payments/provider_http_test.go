package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/iandrade/storefront-backend/pkg/config"
	pkgerrors "github.com/iandrade/storefront-backend/pkg/errors"
)

func TestHTTPProviderCreateOrder(t *testing.T) {
	var gotPath, gotUser, gotPass string
	var gotBody providerOrderRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "order_abc123"})
	}))
	defer server.Close()

	provider, err := NewHTTPProvider(config.PaymentConfig{
		ProviderBaseURL: server.URL,
		ProviderKeyID:   "key_id",
		ProviderSecret:  "key_secret",
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	id, err := provider.CreateOrder(context.Background(), 3500, "SF-20260801-ABCDEF01")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if id != "order_abc123" {
		t.Fatalf("expected provider order id got %q", id)
	}
	if gotPath != "/v1/orders" {
		t.Fatalf("expected /v1/orders got %s", gotPath)
	}
	if gotUser != "key_id" || gotPass != "key_secret" {
		t.Fatalf("expected basic auth credentials got %s/%s", gotUser, gotPass)
	}
	if gotBody.Amount != 3500 || gotBody.Receipt != "SF-20260801-ABCDEF01" {
		t.Fatalf("unexpected request body %+v", gotBody)
	}
}

func TestHTTPProviderCreateOrderGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	provider, err := NewHTTPProvider(config.PaymentConfig{
		ProviderBaseURL: server.URL,
		ProviderKeyID:   "key_id",
		ProviderSecret:  "key_secret",
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	_, err = provider.CreateOrder(context.Background(), 100, "receipt")
	if !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error got %v", err)
	}
}

func TestHTTPProviderRequiresConfig(t *testing.T) {
	if _, err := NewHTTPProvider(config.PaymentConfig{}); err == nil {
		t.Fatal("expected error without base url")
	}
	if _, err := NewHTTPProvider(config.PaymentConfig{ProviderBaseURL: "http://localhost"}); err == nil {
		t.Fatal("expected error without credentials")
	}
}
