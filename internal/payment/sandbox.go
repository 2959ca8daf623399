package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// SandboxProvider issues provider orders locally. Development and tests use
// it in place of a real gateway; confirmations are signed with Sign.
type SandboxProvider struct {
	prefix string
}

func NewSandboxProvider() *SandboxProvider {
	return &SandboxProvider{prefix: "order_"}
}

func (p *SandboxProvider) Name() string {
	return "sandbox"
}

func (p *SandboxProvider) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*ProviderOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if amountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", ErrProviderUnavailable, amountMinor)
	}

	id, err := randomHex(7)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	return &ProviderOrder{
		ID:       p.prefix + id,
		Provider: p.Name(),
		Amount:   amountMinor,
		Currency: strings.ToUpper(currency),
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
