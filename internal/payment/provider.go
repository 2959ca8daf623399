// Package payment wraps the payment providers used to collect order totals
// and verifies their confirmation signatures.
package payment

import (
	"context"
	"errors"
)

// ErrProviderUnavailable is returned when a provider cannot be reached or rejects the request
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// ProviderOrder is the provider-side order a customer pays against
type ProviderOrder struct {
	ID           string `json:"id"`
	Provider     string `json:"provider"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Receipt      string `json:"receipt"`
	ClientSecret string `json:"client_secret,omitempty"`
	Status       string `json:"status"`
}

// Provider creates payment orders. Amounts are in minor currency units.
type Provider interface {
	Name() string
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*ProviderOrder, error)
}
