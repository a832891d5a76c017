package pricing

import (
	"testing"

	"order-fulfillment/internal/apperr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2))
}

func TestCalculateTierBoundaries(t *testing.T) {
	e := NewEngine()

	tests := []struct {
		spending string
		tier     int
	}{
		{"0", 0},
		{"999.99", 0},
		{"1000", 1},
		{"4999.99", 1},
		{"5000", 2},
		{"29999.99", 2},
		{"30000", 3},
		{"1000000", 3},
	}

	for _, tt := range tests {
		t.Run(tt.spending, func(t *testing.T) {
			tier, err := e.CalculateTier(decimal.RequireFromString(tt.spending))
			require.NoError(t, err)
			assert.Equal(t, tt.tier, tier)
		})
	}
}

func TestCalculateTierIsMonotonic(t *testing.T) {
	e := NewEngine()
	prev := 0
	for cents := int64(0); cents <= 3500000; cents += 2500 {
		tier, err := e.CalculateTier(decimal.New(cents, -2))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, tier, prev)
		prev = tier
	}
}

func TestCalculateTierRejectsNegative(t *testing.T) {
	_, err := NewEngine().CalculateTier(decimal.NewFromInt(-1))
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument))
}

func TestDiscountPercentForTier(t *testing.T) {
	e := NewEngine()

	want := map[int]string{0: "0", 1: "10", 2: "15", 3: "20"}
	prev := decimal.NewFromInt(-1)
	for tier := MinTier; tier <= MaxTier; tier++ {
		pct, err := e.GetDiscountPercentForTier(tier)
		require.NoError(t, err)
		assert.Equal(t, want[tier], pct.String())
		assert.True(t, pct.GreaterThanOrEqual(prev), "discount must not decrease with tier")
		prev = pct
	}

	for _, tier := range []int{-1, 4} {
		_, err := e.GetDiscountPercentForTier(tier)
		assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument), "tier %d", tier)
	}
}

func TestCalculateFinalPriceScenarios(t *testing.T) {
	e := NewEngine()
	hundredDollars := decimal.NewFromInt(100)

	tests := []struct {
		name     string
		discount int64
		tier     int
		want     string
	}{
		{"product discount only", 10, 0, "90.00"},
		{"product and top tier", 10, 3, "70.00"},
		{"combined discount capped at base", 90, 3, "0.00"},
		{"no discounts", 0, 0, "100.00"},
		{"tier only", 0, 2, "85.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.CalculateFinalPrice(hundredDollars, decimal.NewFromInt(tt.discount), tt.tier)
			require.NoError(t, err)
			assertMoney(t, tt.want, got)
		})
	}
}

func TestCalculateFinalPriceStaysWithinBounds(t *testing.T) {
	e := NewEngine()
	bases := []string{"0", "0.01", "9.99", "19.995", "100", "1234.56"}

	for _, b := range bases {
		base := decimal.RequireFromString(b)
		for pd := int64(0); pd <= 100; pd += 5 {
			for tier := MinTier; tier <= MaxTier; tier++ {
				productPct := decimal.NewFromInt(pd)
				got, err := e.CalculateFinalPrice(base, productPct, tier)
				require.NoError(t, err)

				vipPct, _ := e.GetDiscountPercentForTier(tier)
				discount := decimal.Min(base.Mul(productPct.Add(vipPct)).Div(hundred), base)
				want := base.Sub(discount).RoundBank(2)

				assert.True(t, got.GreaterThanOrEqual(decimal.Zero))
				assert.True(t, got.LessThanOrEqual(base.RoundBank(2)))
				assert.True(t, want.Equal(got), "base=%s pd=%d tier=%d want=%s got=%s", b, pd, tier, want, got)
			}
		}
	}
}

func TestCalculateFinalPriceGuards(t *testing.T) {
	e := NewEngine()
	tests := []struct {
		name     string
		base     decimal.Decimal
		discount decimal.Decimal
		tier     int
	}{
		{"negative base", decimal.NewFromInt(-1), decimal.Zero, 0},
		{"negative discount", decimal.NewFromInt(10), decimal.NewFromInt(-1), 0},
		{"discount over 100", decimal.NewFromInt(10), decimal.NewFromInt(101), 0},
		{"tier too high", decimal.NewFromInt(10), decimal.Zero, 4},
		{"tier negative", decimal.NewFromInt(10), decimal.Zero, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.CalculateFinalPrice(tt.base, tt.discount, tt.tier)
			assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument))
		})
	}
}

func TestGetDiscountBreakdown(t *testing.T) {
	e := NewEngine()

	b, err := e.GetDiscountBreakdown(decimal.RequireFromString("49.99"), decimal.NewFromInt(10), 1)
	require.NoError(t, err)

	assertMoney(t, "49.99", b.BasePrice)
	assertMoney(t, "5.00", b.ProductDiscountAmount)
	assertMoney(t, "5.00", b.VipDiscountAmount)
	assertMoney(t, "10.00", b.TotalDiscountAmount)
	assertMoney(t, "39.99", b.FinalPrice)
	assertMoney(t, "10.00", b.ProductDiscountPercent)
	assertMoney(t, "10.00", b.VipDiscountPercent)
	assertMoney(t, "20.00", b.EffectiveDiscount)
	assert.Equal(t, 1, b.VipTier)
}

func TestGetDiscountBreakdownCapped(t *testing.T) {
	b, err := NewEngine().GetDiscountBreakdown(decimal.NewFromInt(100), decimal.NewFromInt(90), 3)
	require.NoError(t, err)

	assertMoney(t, "90.00", b.ProductDiscountAmount)
	assertMoney(t, "20.00", b.VipDiscountAmount)
	assertMoney(t, "100.00", b.TotalDiscountAmount)
	assertMoney(t, "100.00", b.EffectiveDiscount)
	assertMoney(t, "0.00", b.FinalPrice)
}

func TestGetDiscountBreakdownZeroBase(t *testing.T) {
	b, err := NewEngine().GetDiscountBreakdown(decimal.Zero, decimal.NewFromInt(50), 2)
	require.NoError(t, err)
	assertMoney(t, "0.00", b.EffectiveDiscount)
	assertMoney(t, "0.00", b.FinalPrice)
}
