package pgstore

import (
	"context"
	"errors"

	"tradearena/internal/ledger"
	"tradearena/internal/model"
	"tradearena/internal/types"

	"github.com/jackc/pgx/v5"
)

type pgTx struct {
	tx      pgx.Tx
	account model.Account
}

func (t *pgTx) Account() model.Account {
	return t.account
}

func (t *pgTx) UpdateAccount(ctx context.Context, acc model.Account) error {
	_, err := t.tx.Exec(ctx, "update accounts set balance = $2, equity = $3, used_margin = $4, peak_equity = $5, max_drawdown_pct = $6, status = $7, updated_at = $8 where id = $1",
		acc.ID, acc.Balance, acc.Equity, acc.UsedMargin, acc.PeakEquity, acc.MaxDrawdownPct, string(acc.Status), acc.UpdatedAt)
	if err != nil {
		return err
	}
	t.account = acc
	return nil
}

func (t *pgTx) OpenPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := t.tx.Query(ctx, "select "+positionCols+" from positions p where p.account_id = $1 and p.status = 'open' order by p.opened_at asc, p.seq asc", t.account.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Position, 0)
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) Position(ctx context.Context, id string) (model.Position, error) {
	return scanPosition(t.tx.QueryRow(ctx, "select "+positionCols+" from positions p where p.id = $1 and p.account_id = $2", id, t.account.ID))
}

func (t *pgTx) OldestOpenPosition(ctx context.Context, instrumentID string) (model.Position, bool, error) {
	p, err := scanPosition(t.tx.QueryRow(ctx, "select "+positionCols+" from positions p where p.account_id = $1 and p.instrument_id = $2 and p.status = 'open' order by p.opened_at asc, p.seq asc limit 1", t.account.ID, instrumentID))
	if errors.Is(err, ledger.ErrNotFound) {
		return p, false, nil
	}
	if err != nil {
		return p, false, err
	}
	return p, true, nil
}

func (t *pgTx) InsertPosition(ctx context.Context, p *model.Position) error {
	p.AccountID = t.account.ID
	return t.tx.QueryRow(ctx, "insert into positions (account_id, instrument_id, side, quantity, entry_price, current_price, margin_used, leverage, stop_loss, take_profit, status, realized_pnl, unrealized_pnl, opened_at) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14) returning id",
		p.AccountID, p.InstrumentID, string(p.Side), p.Quantity, p.EntryPrice, p.CurrentPrice, p.MarginUsed, p.Leverage, p.StopLoss, p.TakeProfit, string(p.Status), p.RealizedPnl, p.UnrealizedPnl, p.OpenedAt).Scan(&p.ID)
}

func (t *pgTx) UpdateOpenPosition(ctx context.Context, p model.Position) error {
	tag, err := t.tx.Exec(ctx, "update positions set quantity = $3, entry_price = $4, current_price = $5, margin_used = $6, stop_loss = $7, take_profit = $8, status = $9, realized_pnl = $10, unrealized_pnl = $11, close_reason = $12, closed_at = $13 where id = $1 and account_id = $2 and status = 'open'",
		p.ID, t.account.ID, p.Quantity, p.EntryPrice, p.CurrentPrice, p.MarginUsed, p.StopLoss, p.TakeProfit, string(p.Status), p.RealizedPnl, p.UnrealizedPnl, string(p.CloseReason), p.ClosedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ledger.ErrPositionNotOpen
	}
	return nil
}

func (t *pgTx) ClosePosition(ctx context.Context, p model.Position) error {
	return t.UpdateOpenPosition(ctx, p)
}

func (t *pgTx) InsertOrder(ctx context.Context, o *model.Order) error {
	o.AccountID = t.account.ID
	var positionID *string
	if o.PositionID != "" {
		positionID = &o.PositionID
	}
	return t.tx.QueryRow(ctx, "insert into orders (account_id, instrument_id, side, order_type, quantity, leverage, requested_price, filled_price, margin_used, stop_loss, take_profit, status, position_id, price_source, created_at, filled_at) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16) returning id",
		o.AccountID, o.InstrumentID, string(o.Side), string(o.Type), o.Quantity, o.Leverage, o.RequestedPrice, o.FilledPrice, o.MarginUsed, o.StopLoss, o.TakeProfit, string(o.Status), positionID, o.PriceSource, o.CreatedAt, o.FilledAt).Scan(&o.ID)
}

func (t *pgTx) InsertTrade(ctx context.Context, tr *model.Trade) error {
	return t.tx.QueryRow(ctx, "insert into trades (account_id, position_id, instrument_id, side, quantity, entry_price, exit_price, realized_pnl, close_reason, opened_at, closed_at) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) returning id",
		tr.AccountID, tr.PositionID, tr.InstrumentID, string(tr.Side), tr.Quantity, tr.EntryPrice, tr.ExitPrice, tr.RealizedPnl, string(tr.CloseReason), tr.OpenedAt, tr.ClosedAt).Scan(&tr.ID)
}

func (t *pgTx) InsertEquitySnapshot(ctx context.Context, s model.EquitySnapshot) error {
	_, err := t.tx.Exec(ctx, "insert into equity_snapshots (account_id, balance, equity, unrealized_pnl, max_drawdown_pct, created_at) values ($1,$2,$3,$4,$5,$6)",
		s.AccountID, s.Balance, s.Equity, s.UnrealizedPnl, s.MaxDrawdownPct, s.CreatedAt)
	return err
}

func (t *pgTx) InsertDisqualification(ctx context.Context, d *model.Disqualification) error {
	return t.tx.QueryRow(ctx, "insert into disqualifications (competition_id, participant_id, account_id, reason, drawdown_pct, limit_pct, event, triggered_at) values ($1,$2,$3,$4,$5,$6,$7,$8) returning id",
		d.CompetitionID, d.ParticipantID, d.AccountID, d.Reason, d.DrawdownPct, d.LimitPct, d.Event, d.TriggeredAt).Scan(&d.ID)
}

func (t *pgTx) SetParticipantStatus(ctx context.Context, participantID string, status types.ParticipantStatus) error {
	tag, err := t.tx.Exec(ctx, "update participants set status = $2 where id = $1", participantID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ledger.ErrNotFound
	}
	return nil
}
