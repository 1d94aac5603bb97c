package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

type TaxInput struct {
	TenantID string
	Currency string
	Subtotal decimal.Decimal
}

// TaxCalculator is the pass-through hook for an external tax engine.
type TaxCalculator interface {
	Calculate(ctx context.Context, in TaxInput) (decimal.Decimal, error)
}

// ZeroTax is used until a tax engine is integrated.
type ZeroTax struct{}

func (ZeroTax) Calculate(context.Context, TaxInput) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
