package orders

import (
	"context"
	"fmt"
	"time"

	"tradearena/internal/ledger"
	"tradearena/internal/margin"
	"tradearena/internal/model"
	"tradearena/internal/types"

	"github.com/shopspring/decimal"
)

type fillInput struct {
	instrument model.Instrument
	side       types.OrderSide
	qty        decimal.Decimal
	leverage   decimal.Decimal
	price      decimal.Decimal
	margin     decimal.Decimal
	stopLoss   *decimal.Decimal
	takeProfit *decimal.Decimal
	now        time.Time
}

type fillOutcome struct {
	// position is where the fill ended up: the new or adjusted position, or
	// the closed one when a netting fill exactly flattened it.
	position *model.Position
	trades   []model.Trade
	// margin is what the fill newly committed: zero for a pure reduce, the
	// remainder's margin for a flip.
	margin decimal.Decimal
}

// fillStrategy applies a filled market order to the account's positions.
// Realized P&L is credited to acc; aggregates are left to ledger.Settle.
type fillStrategy func(ctx context.Context, tx ledger.Tx, acc *model.Account, in fillInput) (fillOutcome, error)

func strategyFor(p types.NettingPolicy) fillStrategy {
	if p == types.NettingAgainstExisting {
		return fillNetAgainstExisting
	}
	return fillAlwaysNew
}

func fillAlwaysNew(ctx context.Context, tx ledger.Tx, acc *model.Account, in fillInput) (fillOutcome, error) {
	pos, err := openPosition(ctx, tx, in, in.qty, in.margin)
	if err != nil {
		return fillOutcome{}, err
	}
	return fillOutcome{position: &pos, margin: in.margin}, nil
}

// fillNetAgainstExisting folds the fill into the oldest open position on the
// instrument: same side adds, opposite side reduces or flips.
func fillNetAgainstExisting(ctx context.Context, tx ledger.Tx, acc *model.Account, in fillInput) (fillOutcome, error) {
	existing, ok, err := tx.OldestOpenPosition(ctx, in.instrument.ID)
	if err != nil {
		return fillOutcome{}, fmt.Errorf("load position to net: %w", err)
	}
	if !ok {
		return fillAlwaysNew(ctx, tx, acc, in)
	}
	cs := in.instrument.ContractSize

	if existing.Side == in.side {
		added := existing
		added.Quantity = existing.Quantity.Add(in.qty)
		added.EntryPrice = margin.BlendEntry(existing.Quantity, existing.EntryPrice, in.qty, in.price)
		added.MarginUsed = existing.MarginUsed.Add(in.margin)
		added.CurrentPrice = in.price
		added.UnrealizedPnl = margin.PnL(added.Side, added.Quantity, added.EntryPrice, in.price, cs)
		if err := tx.UpdateOpenPosition(ctx, added); err != nil {
			return fillOutcome{}, fmt.Errorf("add to position: %w", err)
		}
		return fillOutcome{position: &added, margin: in.margin}, nil
	}

	if in.qty.LessThan(existing.Quantity) {
		trade, remaining, err := ledger.ReduceLot(ctx, tx, acc, existing, cs, in.qty, in.price, in.now)
		if err != nil {
			return fillOutcome{}, fmt.Errorf("reduce position: %w", err)
		}
		return fillOutcome{position: &remaining, trades: []model.Trade{trade}}, nil
	}

	trade, err := ledger.CloseLot(ctx, tx, acc, existing, cs, in.price, types.CloseReasonNetted, in.now)
	if err != nil {
		return fillOutcome{}, fmt.Errorf("close netted position: %w", err)
	}
	out := fillOutcome{trades: []model.Trade{trade}}
	rest := in.qty.Sub(existing.Quantity)
	if !rest.IsPositive() {
		closed, err := tx.Position(ctx, existing.ID)
		if err != nil {
			return fillOutcome{}, fmt.Errorf("reload closed position: %w", err)
		}
		out.position = &closed
		return out, nil
	}
	restMargin, err := margin.RequiredMargin(margin.Notional(rest, cs, in.price), in.leverage)
	if err != nil {
		return fillOutcome{}, err
	}
	pos, err := openPosition(ctx, tx, in, rest, restMargin)
	if err != nil {
		return fillOutcome{}, err
	}
	out.position = &pos
	out.margin = restMargin
	return out, nil
}

func openPosition(ctx context.Context, tx ledger.Tx, in fillInput, qty, posMargin decimal.Decimal) (model.Position, error) {
	pos := model.Position{
		InstrumentID: in.instrument.ID,
		Side:         in.side,
		Quantity:     qty,
		EntryPrice:   in.price,
		CurrentPrice: in.price,
		MarginUsed:   posMargin,
		Leverage:     in.leverage,
		StopLoss:     in.stopLoss,
		TakeProfit:   in.takeProfit,
		Status:       types.PositionStatusOpen,
		OpenedAt:     in.now,
	}
	if err := tx.InsertPosition(ctx, &pos); err != nil {
		return model.Position{}, fmt.Errorf("insert position: %w", err)
	}
	return pos, nil
}
