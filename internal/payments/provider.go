package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ProviderClient talks to the external payment provider. Only order creation
// crosses the wire from our side; confirmations arrive signed from the client
// app or the provider's webhook.
type ProviderClient interface {
	// CreateOrder registers an order intent with the provider and returns its
	// provider-side order identifier.
	CreateOrder(ctx context.Context, amountCents int, receipt string) (string, error)
}

// Signer computes and checks the provider's HMAC-SHA256 hex signatures.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("signing secret required")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign returns the hex HMAC-SHA256 of message.
func (s *Signer) Sign(message []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches message. Constant-time.
func (s *Signer) Verify(message []byte, signature string) bool {
	expected := s.Sign(message)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyOrderPayment checks the client-side confirmation signature, computed
// over "<providerOrderID>|<providerPaymentID>".
func (s *Signer) VerifyOrderPayment(providerOrderID, providerPaymentID, signature string) bool {
	return s.Verify([]byte(providerOrderID+"|"+providerPaymentID), signature)
}
