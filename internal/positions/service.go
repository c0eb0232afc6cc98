// Package positions closes positions and edits their brackets. Manual and
// sweep-triggered closes share one settle path.
package positions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tradearena/internal/apperr"
	"tradearena/internal/ledger"
	"tradearena/internal/margin"
	"tradearena/internal/marketdata"
	"tradearena/internal/metrics"
	"tradearena/internal/model"
	"tradearena/internal/risk"
	"tradearena/internal/types"

	"github.com/shopspring/decimal"
)

// ErrTriggerWithdrawn is returned by CloseTriggered when the locked position
// no longer satisfies the trigger it was selected for.
var ErrTriggerWithdrawn = errors.New("trigger no longer applies")

// Policy decides where a close gets its price when the price source has
// none, and whether sweeps may unwind frozen accounts.
type Policy struct {
	UseClientHint     bool
	UseEntryPrice     bool
	AllowFrozenUnwind bool
}

type Closer struct {
	store  ledger.Store
	prices marketdata.Prices
	risk   risk.Checker
	bus    *marketdata.Bus
	policy Policy
	log    *slog.Logger
	now    func() time.Time
}

func NewCloser(store ledger.Store, prices marketdata.Prices, checker risk.Checker, bus *marketdata.Bus, policy Policy, logger *slog.Logger) *Closer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Closer{
		store:  store,
		prices: prices,
		risk:   checker,
		bus:    bus,
		policy: policy,
		log:    logger.With("component", "position-closer"),
		now:    time.Now,
	}
}

type CloseRequest struct {
	UserID          string
	CompetitionID   string
	PositionID      string
	ClientPriceHint *decimal.Decimal
}

// TriggeredClose is a close selected by a sweep at a price it already
// fetched. Confirm, when set, re-evaluates the trigger on the locked row.
type TriggeredClose struct {
	Candidate ledger.OpenPosition
	Reason    types.CloseReason
	Exit      decimal.Decimal
	Source    string
	Confirm   func(model.Position) bool
}

type CloseResult struct {
	Position     model.Position  `json:"position"`
	Trade        model.Trade     `json:"trade"`
	Account      model.Account   `json:"account"`
	ExitPrice    decimal.Decimal `json:"exit_price"`
	PriceSource  string          `json:"price_source"`
	Disqualified bool            `json:"disqualified"`
	Reason       string          `json:"reason,omitempty"`
}

type settleRequest struct {
	accountID   string
	positionID  string
	instrument  model.Instrument
	exit        *decimal.Decimal // nil closes at the locked entry price
	source      string
	reason      types.CloseReason
	allowFrozen bool
	confirm     func(model.Position) bool
}

// Close is the manual close of one of the caller's positions.
func (c *Closer) Close(ctx context.Context, req CloseRequest) (CloseResult, error) {
	res, err := c.close(ctx, req)
	metrics.RecordClose(string(types.CloseReasonManual), outcome(err))
	return res, err
}

func (c *Closer) close(ctx context.Context, req CloseRequest) (CloseResult, error) {
	if req.CompetitionID == "" || req.PositionID == "" {
		return CloseResult{}, apperr.Validation(apperr.CodeMissingField, "competition_id and position_id are required")
	}
	_, acc, err := ledger.ResolveAccount(ctx, c.store, req.CompetitionID, req.UserID)
	if err != nil {
		return CloseResult{}, err
	}
	if err := ledger.RequireActive(acc); err != nil {
		return CloseResult{}, err
	}
	open, err := c.store.ListOpenPositions(ctx, ledger.PositionQuery{AccountID: acc.ID})
	if err != nil {
		return CloseResult{}, fmt.Errorf("list positions: %w", err)
	}
	var cand *ledger.OpenPosition
	for i := range open {
		if open[i].Position.ID == req.PositionID {
			cand = &open[i]
			break
		}
	}
	if cand == nil {
		return CloseResult{}, c.missing(ctx, acc.ID, req.PositionID)
	}

	sr := settleRequest{
		accountID:  acc.ID,
		positionID: cand.Position.ID,
		instrument: cand.Instrument,
		reason:     types.CloseReasonManual,
	}
	symbol := cand.Instrument.Symbol
	q, ok := c.prices.GetPrices(ctx, []string{symbol})[symbol]
	switch {
	case ok && q.Bid.IsPositive() && q.Ask.IsPositive():
		exit := margin.ExitPrice(cand.Position.Side, q.Bid, q.Ask)
		sr.exit, sr.source = &exit, q.Source
	case c.policy.UseClientHint && req.ClientPriceHint != nil && req.ClientPriceHint.IsPositive():
		hq := marketdata.ClientHintQuote(symbol, *req.ClientPriceHint, c.now())
		exit := margin.ExitPrice(cand.Position.Side, hq.Bid, hq.Ask)
		sr.exit, sr.source = &exit, hq.Source
		c.log.Warn("closing at client price", "position", cand.Position.ID, "symbol", symbol)
	case c.policy.UseEntryPrice:
		sr.source = marketdata.SourceEntry
		c.log.Warn("closing at entry price", "position", cand.Position.ID, "symbol", symbol)
	default:
		return CloseResult{}, apperr.Upstream(apperr.CodePriceUnavailable, fmt.Sprintf("Price unavailable for %s", symbol))
	}
	return c.settle(ctx, sr)
}

// CloseTriggered closes a position a sweep found past its stop-loss or
// take-profit, through the same settle path as a manual close.
func (c *Closer) CloseTriggered(ctx context.Context, tc TriggeredClose) (CloseResult, error) {
	exit := tc.Exit
	res, err := c.settle(ctx, settleRequest{
		accountID:   tc.Candidate.Position.AccountID,
		positionID:  tc.Candidate.Position.ID,
		instrument:  tc.Candidate.Instrument,
		exit:        &exit,
		source:      tc.Source,
		reason:      tc.Reason,
		allowFrozen: c.policy.AllowFrozenUnwind,
		confirm:     tc.Confirm,
	})
	metrics.RecordClose(string(tc.Reason), outcome(err))
	return res, err
}

func (c *Closer) settle(ctx context.Context, sr settleRequest) (CloseResult, error) {
	var res CloseResult
	err := c.store.InAccountTx(ctx, sr.accountID, func(ctx context.Context, tx ledger.Tx) error {
		acc := tx.Account()
		if !(sr.allowFrozen && acc.Status == types.AccountStatusFrozen) {
			if err := ledger.RequireActive(acc); err != nil {
				return err
			}
		}
		pos, err := tx.Position(ctx, sr.positionID)
		if errors.Is(err, ledger.ErrNotFound) {
			return apperr.NotFound(apperr.CodePositionNotFound, "Position not found")
		}
		if err != nil {
			return fmt.Errorf("load position: %w", err)
		}
		if pos.Status != types.PositionStatusOpen {
			return apperr.State(apperr.CodePositionClosed, "Position is already closed")
		}
		if sr.confirm != nil && !sr.confirm(pos) {
			return ErrTriggerWithdrawn
		}
		exit := pos.EntryPrice
		if sr.exit != nil {
			exit = *sr.exit
		}
		now := c.now()
		trade, err := ledger.CloseLot(ctx, tx, &acc, pos, sr.instrument.ContractSize, exit, sr.reason, now)
		if errors.Is(err, ledger.ErrPositionNotOpen) {
			return apperr.State(apperr.CodePositionClosed, "Position is already closed")
		}
		if err != nil {
			return fmt.Errorf("close position: %w", err)
		}
		acc, err = ledger.Settle(ctx, tx, acc, now)
		if err != nil {
			return err
		}
		closed, err := tx.Position(ctx, pos.ID)
		if err != nil {
			return fmt.Errorf("reload position: %w", err)
		}
		res = CloseResult{Position: closed, Trade: trade, Account: acc, ExitPrice: exit, PriceSource: sr.source}
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}

	c.log.Info("position closed", "position", res.Position.ID, "account", res.Account.ID, "reason", sr.reason, "exit", res.ExitPrice.String(), "pnl", res.Trade.RealizedPnl.String(), "source", res.PriceSource)
	c.bus.Publish(marketdata.Event{Type: marketdata.EventPositionClosed, UserID: res.Account.UserID, Data: res})
	if c.risk != nil {
		v, err := c.risk.Check(ctx, res.Account.ID, "close:"+res.Position.ID)
		if err != nil {
			c.log.Error("risk check failed", "account", res.Account.ID, "position", res.Position.ID, "error", err)
		} else if v.Disqualified {
			res.Disqualified = true
			res.Reason = v.Reason
			res.Account.Status = types.AccountStatusFrozen
		}
	}
	return res, nil
}

// missing classifies a position that is not open on the account.
func (c *Closer) missing(ctx context.Context, accountID, positionID string) error {
	var out error = apperr.NotFound(apperr.CodePositionNotFound, "Position not found")
	err := c.store.InAccountTx(ctx, accountID, func(ctx context.Context, tx ledger.Tx) error {
		pos, err := tx.Position(ctx, positionID)
		if err == nil && pos.Status != types.PositionStatusOpen {
			out = apperr.State(apperr.CodePositionClosed, "Position is already closed")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load position: %w", err)
	}
	return out
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "closed"
	case errors.Is(err, ErrTriggerWithdrawn):
		return "withdrawn"
	default:
		return apperr.CodeOf(err)
	}
}
