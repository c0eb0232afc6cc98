package positions

import (
	"context"
	"errors"
	"fmt"

	"tradearena/internal/apperr"
	"tradearena/internal/ledger"
	"tradearena/internal/margin"
	"tradearena/internal/model"
	"tradearena/internal/types"

	"github.com/shopspring/decimal"
)

type BracketRequest struct {
	UserID          string
	CompetitionID   string
	PositionID      string
	StopLoss        *decimal.Decimal
	TakeProfit      *decimal.Decimal
	ClearStopLoss   bool
	ClearTakeProfit bool
}

// UpdateBrackets sets or clears the stop-loss and take-profit of an open
// position. Levels must sit on the losing and winning side of the entry.
func (c *Closer) UpdateBrackets(ctx context.Context, req BracketRequest) (model.Position, error) {
	if req.CompetitionID == "" || req.PositionID == "" {
		return model.Position{}, apperr.Validation(apperr.CodeMissingField, "competition_id and position_id are required")
	}
	_, acc, err := ledger.ResolveAccount(ctx, c.store, req.CompetitionID, req.UserID)
	if err != nil {
		return model.Position{}, err
	}
	var out model.Position
	err = c.store.InAccountTx(ctx, acc.ID, func(ctx context.Context, tx ledger.Tx) error {
		if err := ledger.RequireActive(tx.Account()); err != nil {
			return err
		}
		pos, err := tx.Position(ctx, req.PositionID)
		if errors.Is(err, ledger.ErrNotFound) {
			return apperr.NotFound(apperr.CodePositionNotFound, "Position not found")
		}
		if err != nil {
			return fmt.Errorf("load position: %w", err)
		}
		if pos.Status != types.PositionStatusOpen {
			return apperr.State(apperr.CodePositionClosed, "Position is already closed")
		}
		if req.ClearStopLoss {
			pos.StopLoss = nil
		} else if req.StopLoss != nil {
			if err := checkStopLoss(pos, *req.StopLoss); err != nil {
				return err
			}
			sl := *req.StopLoss
			pos.StopLoss = &sl
		}
		if req.ClearTakeProfit {
			pos.TakeProfit = nil
		} else if req.TakeProfit != nil {
			if err := checkTakeProfit(pos, *req.TakeProfit); err != nil {
				return err
			}
			tp := *req.TakeProfit
			pos.TakeProfit = &tp
		}
		if err := tx.UpdateOpenPosition(ctx, pos); err != nil {
			if errors.Is(err, ledger.ErrPositionNotOpen) {
				return apperr.State(apperr.CodePositionClosed, "Position is already closed")
			}
			return fmt.Errorf("update brackets: %w", err)
		}
		out = pos
		return nil
	})
	return out, err
}

func checkStopLoss(pos model.Position, sl decimal.Decimal) error {
	if !sl.IsPositive() {
		return apperr.Validation(apperr.CodeInvalidBracket, "stop_loss must be positive")
	}
	if pos.Side == types.OrderSideBuy && sl.GreaterThanOrEqual(pos.EntryPrice) {
		return apperr.Validation(apperr.CodeInvalidBracket, fmt.Sprintf("Stop loss for BUY position must be below entry price (%s)", pos.EntryPrice))
	}
	if pos.Side == types.OrderSideSell && sl.LessThanOrEqual(pos.EntryPrice) {
		return apperr.Validation(apperr.CodeInvalidBracket, fmt.Sprintf("Stop loss for SELL position must be above entry price (%s)", pos.EntryPrice))
	}
	return nil
}

func checkTakeProfit(pos model.Position, tp decimal.Decimal) error {
	if !tp.IsPositive() {
		return apperr.Validation(apperr.CodeInvalidBracket, "take_profit must be positive")
	}
	if pos.Side == types.OrderSideBuy && tp.LessThanOrEqual(pos.EntryPrice) {
		return apperr.Validation(apperr.CodeInvalidBracket, fmt.Sprintf("Take profit for BUY position must be above entry price (%s)", pos.EntryPrice))
	}
	if pos.Side == types.OrderSideSell && tp.GreaterThanOrEqual(pos.EntryPrice) {
		return apperr.Validation(apperr.CodeInvalidBracket, fmt.Sprintf("Take profit for SELL position must be below entry price (%s)", pos.EntryPrice))
	}
	return nil
}

type AccountView struct {
	Account     model.Account    `json:"account"`
	FreeMargin  decimal.Decimal  `json:"free_margin"`
	DrawdownPct decimal.Decimal  `json:"drawdown_pct"`
	Positions   []model.Position `json:"positions"`
}

// Account returns the caller's ledger in a competition with its open
// positions as last marked.
func (c *Closer) Account(ctx context.Context, userID, competitionID string) (AccountView, error) {
	p, err := c.store.GetParticipant(ctx, competitionID, userID)
	if errors.Is(err, ledger.ErrNotFound) {
		return AccountView{}, apperr.NotFound(apperr.CodeParticipantNotFound, "Not a participant of this competition")
	}
	if err != nil {
		return AccountView{}, fmt.Errorf("load participant: %w", err)
	}
	acc, err := c.store.GetAccountByParticipant(ctx, p.ID)
	if errors.Is(err, ledger.ErrNotFound) {
		return AccountView{}, apperr.NotFound(apperr.CodeAccountNotFound, "Account not found")
	}
	if err != nil {
		return AccountView{}, fmt.Errorf("load account: %w", err)
	}
	open, err := c.store.ListOpenPositions(ctx, ledger.PositionQuery{AccountID: acc.ID})
	if err != nil {
		return AccountView{}, fmt.Errorf("list positions: %w", err)
	}
	view := AccountView{
		Account:     acc,
		FreeMargin:  margin.FreeMargin(acc.Equity, acc.UsedMargin),
		DrawdownPct: margin.DrawdownPct(acc.PeakEquity, acc.Equity),
		Positions:   make([]model.Position, 0, len(open)),
	}
	for _, op := range open {
		view.Positions = append(view.Positions, op.Position)
	}
	return view, nil
}
