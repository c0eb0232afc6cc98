// Package triggers runs the server-side sweeps: stop-loss / take-profit
// closes and the mark-to-market pass that feeds the risk monitor.
package triggers

import (
	"tradearena/internal/types"

	"github.com/shopspring/decimal"
)

// Evaluate decides whether a position with the given brackets fires at exit.
// exit is the bid for a long and the ask for a short. Stop-loss wins when both
// levels are crossed.
func Evaluate(side types.OrderSide, exit decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) (types.CloseReason, bool) {
	if !exit.IsPositive() {
		return "", false
	}
	switch side {
	case types.OrderSideBuy:
		if stopLoss != nil && exit.LessThanOrEqual(*stopLoss) {
			return types.CloseReasonStopLoss, true
		}
		if takeProfit != nil && exit.GreaterThanOrEqual(*takeProfit) {
			return types.CloseReasonTakeProfit, true
		}
	case types.OrderSideSell:
		if stopLoss != nil && exit.GreaterThanOrEqual(*stopLoss) {
			return types.CloseReasonStopLoss, true
		}
		if takeProfit != nil && exit.LessThanOrEqual(*takeProfit) {
			return types.CloseReasonTakeProfit, true
		}
	}
	return "", false
}
