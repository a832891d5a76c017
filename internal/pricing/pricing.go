// Package pricing computes loyalty tiers and discounted line prices.
//
// All money values are decimal.Decimal and every externally visible amount
// is rounded to two places with banker's rounding.
package pricing

import (
	"order-fulfillment/internal/apperr"

	"github.com/shopspring/decimal"
)

const (
	MinTier = 0
	MaxTier = 3

	moneyPlaces = 2
)

var (
	hundred = decimal.NewFromInt(100)

	// tierThresholds[i] is the minimum total spending for tier i+1.
	tierThresholds = []decimal.Decimal{
		decimal.NewFromInt(1000),
		decimal.NewFromInt(5000),
		decimal.NewFromInt(30000),
	}

	tierDiscountPercent = map[int]decimal.Decimal{
		0: decimal.Zero,
		1: decimal.NewFromInt(10),
		2: decimal.NewFromInt(15),
		3: decimal.NewFromInt(20),
	}
)

// DiscountBreakdown itemises how a final price was reached.
type DiscountBreakdown struct {
	BasePrice              decimal.Decimal `json:"base_price"`
	ProductDiscountPercent decimal.Decimal `json:"product_discount_percent"`
	ProductDiscountAmount  decimal.Decimal `json:"product_discount_amount"`
	VipTier                int             `json:"vip_tier"`
	VipDiscountPercent     decimal.Decimal `json:"vip_discount_percent"`
	VipDiscountAmount      decimal.Decimal `json:"vip_discount_amount"`
	TotalDiscountAmount    decimal.Decimal `json:"total_discount_amount"`
	EffectiveDiscount      decimal.Decimal `json:"effective_discount_percent"`
	FinalPrice             decimal.Decimal `json:"final_price"`
}

// Engine is stateless; the zero value is ready to use.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// CalculateTier maps cumulative paid spending to a VIP tier.
func (e *Engine) CalculateTier(totalSpending decimal.Decimal) (int, error) {
	if totalSpending.IsNegative() {
		return 0, apperr.Newf(apperr.CodeInvalidArgument, "total spending must not be negative: %s", totalSpending)
	}
	tier := MinTier
	for _, threshold := range tierThresholds {
		if totalSpending.LessThan(threshold) {
			break
		}
		tier++
	}
	return tier, nil
}

// GetDiscountPercentForTier returns the loyalty discount percent for tier.
func (e *Engine) GetDiscountPercentForTier(tier int) (decimal.Decimal, error) {
	pct, ok := tierDiscountPercent[tier]
	if !ok {
		return decimal.Zero, apperr.Newf(apperr.CodeInvalidArgument, "vip tier must be between %d and %d, got %d", MinTier, MaxTier, tier)
	}
	return pct, nil
}

// CalculateFinalPrice applies the product and tier discounts additively,
// capping the combined discount at the base price.
func (e *Engine) CalculateFinalPrice(basePrice, productDiscountPercent decimal.Decimal, vipTier int) (decimal.Decimal, error) {
	q, err := e.quote(basePrice, productDiscountPercent, vipTier)
	if err != nil {
		return decimal.Zero, err
	}
	return round(q.final), nil
}

// GetDiscountBreakdown returns every component of the price, each rounded
// independently for display and audit.
func (e *Engine) GetDiscountBreakdown(basePrice, productDiscountPercent decimal.Decimal, vipTier int) (*DiscountBreakdown, error) {
	q, err := e.quote(basePrice, productDiscountPercent, vipTier)
	if err != nil {
		return nil, err
	}

	effective := decimal.Zero
	if basePrice.IsPositive() {
		effective = q.total.Div(basePrice).Mul(hundred)
	}

	return &DiscountBreakdown{
		BasePrice:              round(basePrice),
		ProductDiscountPercent: round(productDiscountPercent),
		ProductDiscountAmount:  round(q.productAmt),
		VipTier:                vipTier,
		VipDiscountPercent:     round(q.vipPercent),
		VipDiscountAmount:      round(q.vipAmt),
		TotalDiscountAmount:    round(q.total),
		EffectiveDiscount:      round(effective),
		FinalPrice:             round(q.final),
	}, nil
}

type quote struct {
	vipPercent decimal.Decimal
	productAmt decimal.Decimal
	vipAmt     decimal.Decimal
	total      decimal.Decimal
	final      decimal.Decimal
}

func (e *Engine) quote(basePrice, productDiscountPercent decimal.Decimal, vipTier int) (quote, error) {
	if basePrice.IsNegative() {
		return quote{}, apperr.Newf(apperr.CodeInvalidArgument, "base price must not be negative: %s", basePrice)
	}
	if productDiscountPercent.IsNegative() || productDiscountPercent.GreaterThan(hundred) {
		return quote{}, apperr.Newf(apperr.CodeInvalidArgument, "product discount percent must be between 0 and 100, got %s", productDiscountPercent)
	}
	vipPercent, err := e.GetDiscountPercentForTier(vipTier)
	if err != nil {
		return quote{}, err
	}

	productAmt := basePrice.Mul(productDiscountPercent).Div(hundred)
	vipAmt := basePrice.Mul(vipPercent).Div(hundred)
	total := decimal.Min(productAmt.Add(vipAmt), basePrice)

	return quote{
		vipPercent: vipPercent,
		productAmt: productAmt,
		vipAmt:     vipAmt,
		total:      total,
		final:      basePrice.Sub(total),
	}, nil
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(moneyPlaces)
}
