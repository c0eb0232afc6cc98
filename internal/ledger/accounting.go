package ledger

import (
	"context"
	"fmt"
	"time"

	"tradearena/internal/margin"
	"tradearena/internal/model"
	"tradearena/internal/types"

	"github.com/shopspring/decimal"
)

// Recompute derives the ledger aggregates of acc from its open positions.
// Used margin and equity are rebuilt from scratch so they cannot drift; peak
// equity and max drawdown only ever ratchet upward.
func Recompute(acc model.Account, open []model.Position) (model.Account, decimal.Decimal) {
	used := decimal.Zero
	pnls := make([]decimal.Decimal, 0, len(open))
	for _, p := range open {
		if p.Status != types.PositionStatusOpen {
			continue
		}
		used = used.Add(p.MarginUsed)
		pnls = append(pnls, p.UnrealizedPnl)
	}
	acc.UsedMargin = used
	acc.Equity = margin.Equity(acc.Balance, pnls...)
	unrealized := acc.Equity.Sub(acc.Balance)
	if acc.Equity.GreaterThan(acc.PeakEquity) {
		acc.PeakEquity = acc.Equity
	}
	dd := margin.DrawdownPct(acc.PeakEquity, acc.Equity)
	if dd.GreaterThan(acc.MaxDrawdownPct) {
		acc.MaxDrawdownPct = dd
	}
	return acc, unrealized
}

// Settle recomputes acc against the open positions visible in tx, writes the
// account and appends an equity snapshot.
func Settle(ctx context.Context, tx Tx, acc model.Account, now time.Time) (model.Account, error) {
	open, err := tx.OpenPositions(ctx)
	if err != nil {
		return acc, fmt.Errorf("load open positions: %w", err)
	}
	acc, unrealized := Recompute(acc, open)
	acc.UpdatedAt = now
	if err := tx.UpdateAccount(ctx, acc); err != nil {
		return acc, fmt.Errorf("update account: %w", err)
	}
	snap := model.EquitySnapshot{
		AccountID:      acc.ID,
		Balance:        acc.Balance,
		Equity:         acc.Equity,
		UnrealizedPnl:  unrealized,
		MaxDrawdownPct: acc.MaxDrawdownPct,
		CreatedAt:      now,
	}
	if err := tx.InsertEquitySnapshot(ctx, snap); err != nil {
		return acc, fmt.Errorf("insert equity snapshot: %w", err)
	}
	return acc, nil
}

// CloseLot realizes the whole position at exit, credits acc.Balance and
// writes the Trade. The close is conditional on the position still being
// open; the loser of a race gets ErrPositionNotOpen.
func CloseLot(ctx context.Context, tx Tx, acc *model.Account, pos model.Position, contractSize, exit decimal.Decimal, reason types.CloseReason, now time.Time) (model.Trade, error) {
	realized := margin.PnL(pos.Side, pos.Quantity, pos.EntryPrice, exit, contractSize)
	closed := pos
	closed.Status = types.PositionStatusClosed
	closed.CurrentPrice = exit
	closed.RealizedPnl = pos.RealizedPnl.Add(realized)
	closed.UnrealizedPnl = decimal.Zero
	closed.CloseReason = reason
	closed.ClosedAt = &now
	if err := tx.ClosePosition(ctx, closed); err != nil {
		return model.Trade{}, err
	}
	acc.Balance = acc.Balance.Add(realized)
	trade := model.Trade{
		AccountID:    acc.ID,
		PositionID:   pos.ID,
		InstrumentID: pos.InstrumentID,
		Side:         pos.Side,
		Quantity:     pos.Quantity,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    exit,
		RealizedPnl:  realized,
		CloseReason:  reason,
		OpenedAt:     pos.OpenedAt,
		ClosedAt:     now,
	}
	if err := tx.InsertTrade(ctx, &trade); err != nil {
		return model.Trade{}, fmt.Errorf("insert trade: %w", err)
	}
	return trade, nil
}

// ReduceLot realizes qty of a larger position at exit. Quantity and margin
// shrink proportionally and the remainder stays open.
func ReduceLot(ctx context.Context, tx Tx, acc *model.Account, pos model.Position, contractSize, qty, exit decimal.Decimal, now time.Time) (model.Trade, model.Position, error) {
	if qty.GreaterThanOrEqual(pos.Quantity) {
		return model.Trade{}, pos, fmt.Errorf("reduce %s of %s: use CloseLot", qty, pos.Quantity)
	}
	realized := margin.PnL(pos.Side, qty, pos.EntryPrice, exit, contractSize)
	remaining := pos
	remaining.Quantity = pos.Quantity.Sub(qty)
	remaining.MarginUsed = pos.MarginUsed.Sub(margin.Proportional(pos.MarginUsed, qty, pos.Quantity))
	remaining.UnrealizedPnl = margin.Proportional(pos.UnrealizedPnl, remaining.Quantity, pos.Quantity)
	remaining.RealizedPnl = pos.RealizedPnl.Add(realized)
	if err := tx.UpdateOpenPosition(ctx, remaining); err != nil {
		return model.Trade{}, pos, err
	}
	acc.Balance = acc.Balance.Add(realized)
	trade := model.Trade{
		AccountID:    acc.ID,
		PositionID:   pos.ID,
		InstrumentID: pos.InstrumentID,
		Side:         pos.Side,
		Quantity:     qty,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    exit,
		RealizedPnl:  realized,
		CloseReason:  types.CloseReasonNetted,
		OpenedAt:     pos.OpenedAt,
		ClosedAt:     now,
	}
	if err := tx.InsertTrade(ctx, &trade); err != nil {
		return model.Trade{}, pos, fmt.Errorf("insert trade: %w", err)
	}
	return trade, remaining, nil
}
