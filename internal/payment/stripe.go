package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
)

type paymentIntents interface {
	Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
}

// StripeProvider creates a PaymentIntent per order
type StripeProvider struct {
	intents paymentIntents
}

func NewStripeProvider(apiKey string) *StripeProvider {
	sc := stripe.NewClient(apiKey)
	return &StripeProvider{intents: sc.V1PaymentIntents}
}

func (p *StripeProvider) Name() string {
	return "stripe"
}

func (p *StripeProvider) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*ProviderOrder, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:      stripe.Int64(amountMinor),
		Currency:    stripe.String(strings.ToLower(currency)),
		Description: stripe.String("Ticket order " + receipt),
		Metadata:    map[string]string{"receipt": receipt},
	}
	params.SetIdempotencyKey("order-" + receipt)

	pi, err := p.intents.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	return &ProviderOrder{
		ID:           pi.ID,
		Provider:     p.Name(),
		Amount:       pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
		Receipt:      receipt,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}, nil
}
