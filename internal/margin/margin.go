// Package margin holds the pure accounting formulas shared by every code path
// that moves money: fills, closes, sweeps and marks.
package margin

import (
	"errors"

	"tradearena/internal/types"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

var ErrInvalidLeverage = errors.New("leverage must be at least 1")

// Notional = quantity x contractSize x price.
func Notional(qty, contractSize, price decimal.Decimal) decimal.Decimal {
	return qty.Mul(contractSize).Mul(price)
}

// RequiredMargin = notional / leverage.
func RequiredMargin(notional, leverage decimal.Decimal) (decimal.Decimal, error) {
	if leverage.LessThan(decimal.NewFromInt(1)) {
		return decimal.Zero, ErrInvalidLeverage
	}
	return notional.Div(leverage), nil
}

// PnL is the signed profit of a holding marked at price. Callers pass mid for
// unrealized marks and the bid/ask exit for realized closes.
func PnL(side types.OrderSide, qty, entry, price, contractSize decimal.Decimal) decimal.Decimal {
	diff := price.Sub(entry)
	if side == types.OrderSideSell {
		diff = entry.Sub(price)
	}
	return diff.Mul(qty).Mul(contractSize)
}

func DrawdownPct(peak, equity decimal.Decimal) decimal.Decimal {
	if !peak.IsPositive() {
		return decimal.Zero
	}
	return peak.Sub(equity).Div(peak).Mul(hundred)
}

// Equity is the balance plus the unrealized P&L of every open position.
func Equity(balance decimal.Decimal, unrealized ...decimal.Decimal) decimal.Decimal {
	eq := balance
	for _, u := range unrealized {
		eq = eq.Add(u)
	}
	return eq
}

func FreeMargin(equity, used decimal.Decimal) decimal.Decimal {
	return equity.Sub(used)
}

// PctOf returns pct percent of base.
func PctOf(pct, base decimal.Decimal) decimal.Decimal {
	return pct.Div(hundred).Mul(base)
}

// BlendEntry is the quantity-weighted average entry of two same-side lots.
func BlendEntry(qtyA, priceA, qtyB, priceB decimal.Decimal) decimal.Decimal {
	total := qtyA.Add(qtyB)
	if total.IsZero() {
		return priceA
	}
	return qtyA.Mul(priceA).Add(qtyB.Mul(priceB)).Div(total)
}

// Proportional scales amount by part/whole.
func Proportional(amount, part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(part).Div(whole)
}

// FillPrice is the price an opening order executes at: buys lift the ask,
// sells hit the bid.
func FillPrice(side types.OrderSide, bid, ask decimal.Decimal) decimal.Decimal {
	if side == types.OrderSideSell {
		return bid
	}
	return ask
}

// ExitPrice is the price a holding closes at: longs sell at the bid, shorts
// buy back at the ask.
func ExitPrice(side types.OrderSide, bid, ask decimal.Decimal) decimal.Decimal {
	if side == types.OrderSideSell {
		return ask
	}
	return bid
}
