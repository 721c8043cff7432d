// Package payments models the external payment-provider boundary. The core
// never talks to a real processor: it hands a payment to a Provider, receives
// an opaque checkout reference, and later settles the payment when the
// provider confirms the reference through the webhook.
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"tutorly.org/internal/ids"
	"tutorly.org/internal/market"
)

var (
	ErrUnknownCheckout = errors.New("payments: unknown checkout reference")
	ErrBadSignature    = errors.New("payments: signature mismatch")
)

// Checkout is the provider's handle for a pending payment.
type Checkout struct {
	Ref       string    `json:"ref"`
	URL       string    `json:"url,omitempty"`
	PaymentID string    `json:"payment_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Provider is the seam towards an external payment processor.
type Provider interface {
	// CreateCheckout registers a pending payment and returns its reference.
	CreateCheckout(ctx context.Context, payment market.Payment) (Checkout, error)
	// Resolve maps a checkout reference back to the payment it was issued for.
	Resolve(ctx context.Context, ref string) (string, error)
	// Verify checks the webhook payload signature.
	Verify(payload []byte, signature string) error
}

// Manual is the in-process provider used by the prototype deployment. It
// issues references locally and authenticates webhook callbacks with an
// HMAC-SHA256 shared secret.
type Manual struct {
	mu     sync.Mutex
	secret []byte
	refs   map[string]string // ref -> payment id
	now    func() time.Time
}

// NewManual creates a provider with the given webhook signing secret.
func NewManual(secret string) *Manual {
	return &Manual{
		secret: []byte(secret),
		refs:   make(map[string]string),
		now:    time.Now,
	}
}

func (m *Manual) CreateCheckout(ctx context.Context, payment market.Payment) (Checkout, error) {
	if payment.ID == "" {
		return Checkout{}, market.ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := ids.New()
	m.refs[ref] = payment.ID
	return Checkout{
		Ref:       ref,
		URL:       "https://checkout.tutorly.test/" + ref,
		PaymentID: payment.ID,
		CreatedAt: m.now().UTC(),
	}, nil
}

func (m *Manual) Resolve(ctx context.Context, ref string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	paymentID, ok := m.refs[ref]
	if !ok {
		return "", ErrUnknownCheckout
	}
	return paymentID, nil
}

// Sign computes the hex HMAC-SHA256 signature the webhook caller must present.
func (m *Manual) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (m *Manual) Verify(payload []byte, signature string) error {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, m.secret)
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return ErrBadSignature
	}
	return nil
}
