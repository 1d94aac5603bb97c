package domain

import (
	"github.com/shopspring/decimal"
)

// Pricing is the subset of a plan the invoice math reads.
type Pricing struct {
	BasePrice            decimal.Decimal
	IncludedAssets       int64
	IncludedCredits      int64
	AssetUpliftRate      decimal.Decimal
	OveragePerCreditRate decimal.Decimal
}

// Amounts is the computed money side of an invoice before tax.
type Amounts struct {
	AssetOverage  int64
	CreditOverage int64

	Base         decimal.Decimal
	AssetUplift  decimal.Decimal
	UsageOverage decimal.Decimal
	Subtotal     decimal.Decimal
}

// ComputeAmounts applies the plan allowances. Amounts are exact; rounding to
// the currency minor unit happens only when talking to the processor.
func ComputeAmounts(p Pricing, assetCount, creditsUsed int64) Amounts {
	a := Amounts{
		AssetOverage:  max(0, assetCount-p.IncludedAssets),
		CreditOverage: max(0, creditsUsed-p.IncludedCredits),
		Base:          p.BasePrice,
	}
	a.AssetUplift = decimal.NewFromInt(a.AssetOverage).Mul(p.AssetUpliftRate)
	a.UsageOverage = decimal.NewFromInt(a.CreditOverage).Mul(p.OveragePerCreditRate)
	a.Subtotal = a.Base.Add(a.AssetUplift).Add(a.UsageOverage)
	return a
}
