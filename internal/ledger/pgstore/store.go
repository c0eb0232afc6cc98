// Package pgstore is the Postgres ledger.Store. An account transaction is a
// read-committed transaction holding the account row lock; position closes
// are conditional updates on status = 'open'.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"tradearena/internal/ledger"
	"tradearena/internal/model"
	"tradearena/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema applies the idempotent schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrNotFound
	}
	return err
}

const accountCols = "id, participant_id, competition_id, user_id, balance, equity, used_margin, peak_equity, max_drawdown_pct, status, updated_at"

func scanAccount(row pgx.Row) (model.Account, error) {
	var a model.Account
	var status string
	err := row.Scan(&a.ID, &a.ParticipantID, &a.CompetitionID, &a.UserID, &a.Balance, &a.Equity, &a.UsedMargin, &a.PeakEquity, &a.MaxDrawdownPct, &status, &a.UpdatedAt)
	if err != nil {
		return a, notFound(err)
	}
	a.Status = types.AccountStatus(status)
	return a, nil
}

const positionCols = "p.id, p.account_id, p.instrument_id, p.side, p.quantity, p.entry_price, p.current_price, p.margin_used, p.leverage, p.stop_loss, p.take_profit, p.status, p.realized_pnl, p.unrealized_pnl, p.close_reason, p.opened_at, p.closed_at"

func positionDest(p *model.Position, side, status, reason *string) []any {
	return []any{&p.ID, &p.AccountID, &p.InstrumentID, side, &p.Quantity, &p.EntryPrice, &p.CurrentPrice, &p.MarginUsed, &p.Leverage, &p.StopLoss, &p.TakeProfit, status, &p.RealizedPnl, &p.UnrealizedPnl, reason, &p.OpenedAt, &p.ClosedAt}
}

func scanPosition(row pgx.Row) (model.Position, error) {
	var p model.Position
	var side, status, reason string
	if err := row.Scan(positionDest(&p, &side, &status, &reason)...); err != nil {
		return p, notFound(err)
	}
	p.Side = types.OrderSide(side)
	p.Status = types.PositionStatus(status)
	p.CloseReason = types.CloseReason(reason)
	return p, nil
}

func (s *Store) GetCompetition(ctx context.Context, id string) (model.Competition, error) {
	var c model.Competition
	var status string
	err := s.pool.QueryRow(ctx, "select id, name, status, starting_balance, max_leverage_global, max_drawdown_pct, max_position_pct, min_trades from competitions where id = $1", id).
		Scan(&c.ID, &c.Name, &status, &c.Rules.StartingBalance, &c.Rules.MaxLeverageGlobal, &c.Rules.MaxDrawdownPct, &c.Rules.MaxPositionPct, &c.Rules.MinTrades)
	if err != nil {
		return c, notFound(err)
	}
	c.Status = types.CompetitionStatus(status)
	return c, nil
}

func (s *Store) GetCompetitionInstrument(ctx context.Context, competitionID, instrumentID string) (model.CompetitionInstrument, error) {
	ci := model.CompetitionInstrument{CompetitionID: competitionID, InstrumentID: instrumentID}
	err := s.pool.QueryRow(ctx, "select leverage_max_override from competition_instruments where competition_id = $1 and instrument_id = $2", competitionID, instrumentID).
		Scan(&ci.LeverageMaxOverride)
	if err != nil {
		return ci, notFound(err)
	}
	return ci, nil
}

func (s *Store) GetInstrument(ctx context.Context, id string) (model.Instrument, error) {
	var in model.Instrument
	err := s.pool.QueryRow(ctx, "select id, symbol, contract_size, tick_size, quantity_type from instruments where id = $1", id).
		Scan(&in.ID, &in.Symbol, &in.ContractSize, &in.TickSize, &in.QuantityType)
	if err != nil {
		return in, notFound(err)
	}
	return in, nil
}

func (s *Store) GetParticipant(ctx context.Context, competitionID, userID string) (model.Participant, error) {
	var p model.Participant
	var status string
	err := s.pool.QueryRow(ctx, "select id, competition_id, user_id, status from participants where competition_id = $1 and user_id = $2", competitionID, userID).
		Scan(&p.ID, &p.CompetitionID, &p.UserID, &status)
	if err != nil {
		return p, notFound(err)
	}
	p.Status = types.ParticipantStatus(status)
	return p, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (model.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, "select "+accountCols+" from accounts where id = $1", id))
}

func (s *Store) GetAccountByParticipant(ctx context.Context, participantID string) (model.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, "select "+accountCols+" from accounts where participant_id = $1", participantID))
}

func (s *Store) ListOpenPositions(ctx context.Context, q ledger.PositionQuery) ([]ledger.OpenPosition, error) {
	sql := "select " + positionCols + ", i.id, i.symbol, i.contract_size, i.tick_size, i.quantity_type, a.status" +
		" from positions p join instruments i on i.id = p.instrument_id join accounts a on a.id = p.account_id" +
		" where p.status = 'open'"
	args := []any{}
	if q.AccountID != "" {
		args = append(args, q.AccountID)
		sql += fmt.Sprintf(" and p.account_id = $%d", len(args))
	}
	if q.BracketsOnly {
		sql += " and (p.stop_loss is not null or p.take_profit is not null)"
	}
	sql += " order by p.opened_at asc, p.seq asc"
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.OpenPosition, 0)
	for rows.Next() {
		var op ledger.OpenPosition
		var side, status, reason, accStatus string
		dest := positionDest(&op.Position, &side, &status, &reason)
		dest = append(dest, &op.Instrument.ID, &op.Instrument.Symbol, &op.Instrument.ContractSize, &op.Instrument.TickSize, &op.Instrument.QuantityType, &accStatus)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		op.Position.Side = types.OrderSide(side)
		op.Position.Status = types.PositionStatus(status)
		op.Position.CloseReason = types.CloseReason(reason)
		op.AccountStatus = types.AccountStatus(accStatus)
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *Store) InAccountTx(ctx context.Context, accountID string, fn func(ctx context.Context, tx ledger.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	acc, err := scanAccount(tx.QueryRow(ctx, "select "+accountCols+" from accounts where id = $1 for update", accountID))
	if err != nil {
		return err
	}
	if err := fn(ctx, &pgTx{tx: tx, account: acc}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
