package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func TestSignatureRoundTrip(t *testing.T) {
	sig := Sign("secret", "order_1", "pay_1")

	assert.Len(t, sig, 64)
	assert.True(t, VerifySignature("secret", "order_1", "pay_1", sig))
}

func TestSignatureRejectsTampering(t *testing.T) {
	sig := Sign("secret", "order_1", "pay_1")

	assert.False(t, VerifySignature("other", "order_1", "pay_1", sig))
	assert.False(t, VerifySignature("secret", "order_2", "pay_1", sig))
	assert.False(t, VerifySignature("secret", "order_1", "pay_2", sig))
	assert.False(t, VerifySignature("secret", "order_1", "pay_1", sig[:63]+"0"))
	assert.False(t, VerifySignature("secret", "order_1", "pay_1", ""))
}

func TestSignatureSeparatorMatters(t *testing.T) {
	assert.NotEqual(t, Sign("k", "ab", "c"), Sign("k", "a", "bc"))
}

func TestSandboxProviderCreateOrder(t *testing.T) {
	p := NewSandboxProvider()

	order, err := p.CreateOrder(context.Background(), 7000, "inr", "ord-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7000), order.Amount)
	assert.Equal(t, "INR", order.Currency)
	assert.Equal(t, "ord-1", order.Receipt)
	assert.Equal(t, "sandbox", order.Provider)
	assert.Regexp(t, `^order_[0-9a-f]{14}$`, order.ID)

	other, err := p.CreateOrder(context.Background(), 7000, "INR", "ord-2")
	require.NoError(t, err)
	assert.NotEqual(t, order.ID, other.ID)
}

func TestSandboxProviderRejectsZeroAmount(t *testing.T) {
	_, err := NewSandboxProvider().CreateOrder(context.Background(), 0, "INR", "ord-1")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

type fakeIntents struct {
	params *stripe.PaymentIntentCreateParams
	err    error
}

func (f *fakeIntents) Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.PaymentIntent{
		ID:           "pi_123",
		Amount:       *params.Amount,
		Currency:     stripe.Currency(*params.Currency),
		ClientSecret: "pi_123_secret",
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
	}, nil
}

func TestStripeProviderCreateOrder(t *testing.T) {
	intents := &fakeIntents{}
	p := &StripeProvider{intents: intents}

	order, err := p.CreateOrder(context.Background(), 7000, "USD", "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "pi_123", order.ID)
	assert.Equal(t, "USD", order.Currency)
	assert.Equal(t, "pi_123_secret", order.ClientSecret)
	assert.Equal(t, "usd", *intents.params.Currency)
	assert.Equal(t, "ord-1", intents.params.Metadata["receipt"])
}

func TestStripeProviderError(t *testing.T) {
	p := &StripeProvider{intents: &fakeIntents{err: errors.New("card_declined")}}

	_, err := p.CreateOrder(context.Background(), 7000, "USD", "ord-1")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "card_declined")
}
