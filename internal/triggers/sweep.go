package triggers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tradearena/internal/apperr"
	"tradearena/internal/ledger"
	"tradearena/internal/margin"
	"tradearena/internal/marketdata"
	"tradearena/internal/metrics"
	"tradearena/internal/model"
	"tradearena/internal/positions"
	"tradearena/internal/types"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Closer is the part of positions.Closer a sweep needs.
type Closer interface {
	CloseTriggered(ctx context.Context, tc positions.TriggeredClose) (positions.CloseResult, error)
}

type Policy struct {
	AllowFrozenUnwind bool
	Concurrency       int
}

type Sweeper struct {
	store  ledger.Store
	prices marketdata.Prices
	closer Closer
	bus    *marketdata.Bus
	policy Policy
	log    *slog.Logger
}

func NewSweeper(store ledger.Store, prices marketdata.Prices, closer Closer, bus *marketdata.Bus, policy Policy, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.Concurrency <= 0 {
		policy.Concurrency = 8
	}
	return &Sweeper{
		store:  store,
		prices: prices,
		closer: closer,
		bus:    bus,
		policy: policy,
		log:    logger.With("component", "sltp-sweep"),
	}
}

type Detail struct {
	PositionID  string            `json:"position_id"`
	AccountID   string            `json:"account_id"`
	Symbol      string            `json:"symbol"`
	Trigger     types.CloseReason `json:"trigger"`
	ExitPrice   decimal.Decimal   `json:"exit_price"`
	RealizedPnl decimal.Decimal   `json:"realized_pnl"`
	Error       string            `json:"error,omitempty"`
}

type Summary struct {
	Checked             int      `json:"checked"`
	TriggeredStopLoss   int      `json:"triggered_stop_loss"`
	TriggeredTakeProfit int      `json:"triggered_take_profit"`
	Skipped             int      `json:"skipped"`
	Errors              int      `json:"errors"`
	Details             []Detail `json:"details"`
	DurationMS          int64    `json:"duration_ms"`
}

// tally collects per-position outcomes from concurrent account workers.
type tally struct {
	mu sync.Mutex
	s  Summary
}

func (t *tally) add(fn func(s *Summary)) {
	t.mu.Lock()
	fn(&t.s)
	t.mu.Unlock()
}

// Run checks every open position carrying a stop-loss or take-profit against
// one batch of quotes and closes the ones that fired. A failing position is
// logged and counted; the rest of the batch continues.
func (s *Sweeper) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	candidates, err := s.store.ListOpenPositions(ctx, ledger.PositionQuery{BracketsOnly: true})
	if err != nil {
		metrics.RecordSweep("sltp", time.Since(start), 1)
		return Summary{}, err
	}

	t := &tally{s: Summary{Details: []Detail{}}}
	if len(candidates) > 0 {
		quotes := s.prices.GetPrices(ctx, distinctSymbols(candidates))
		byAccount := make(map[string][]ledger.OpenPosition)
		order := make([]string, 0)
		for _, c := range candidates {
			id := c.Position.AccountID
			if _, ok := byAccount[id]; !ok {
				order = append(order, id)
			}
			byAccount[id] = append(byAccount[id], c)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.policy.Concurrency)
		for _, accountID := range order {
			batch := byAccount[accountID]
			g.Go(func() error {
				for _, c := range batch {
					if gctx.Err() != nil {
						return nil
					}
					s.check(gctx, c, quotes, t)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	sum := t.s
	sum.DurationMS = time.Since(start).Milliseconds()
	metrics.RecordSweep("sltp", time.Since(start), sum.Errors)
	if sum.TriggeredStopLoss+sum.TriggeredTakeProfit > 0 || sum.Errors > 0 {
		s.log.Info("sweep finished", "checked", sum.Checked, "stop_loss", sum.TriggeredStopLoss, "take_profit", sum.TriggeredTakeProfit, "skipped", sum.Skipped, "errors", sum.Errors, "duration_ms", sum.DurationMS)
	}
	s.bus.Publish(marketdata.Event{Type: marketdata.EventSweepCompleted, Data: map[string]any{
		"sweep":                 "sltp",
		"checked":               sum.Checked,
		"triggered_stop_loss":   sum.TriggeredStopLoss,
		"triggered_take_profit": sum.TriggeredTakeProfit,
		"errors":                sum.Errors,
	}})
	return sum, nil
}

func (s *Sweeper) check(ctx context.Context, c ledger.OpenPosition, quotes map[string]marketdata.Quote, t *tally) {
	t.add(func(sum *Summary) { sum.Checked++ })
	if c.AccountStatus != types.AccountStatusActive &&
		!(s.policy.AllowFrozenUnwind && c.AccountStatus == types.AccountStatusFrozen) {
		t.add(func(sum *Summary) { sum.Skipped++ })
		return
	}
	pos := c.Position
	q, ok := quotes[c.Instrument.Symbol]
	if !ok || !q.Bid.IsPositive() || !q.Ask.IsPositive() {
		t.add(func(sum *Summary) { sum.Skipped++ })
		return
	}
	exit := margin.ExitPrice(pos.Side, q.Bid, q.Ask)
	reason, fired := Evaluate(pos.Side, exit, pos.StopLoss, pos.TakeProfit)
	if !fired {
		return
	}

	res, err := s.closer.CloseTriggered(ctx, positions.TriggeredClose{
		Candidate: c,
		Reason:    reason,
		Exit:      exit,
		Source:    q.Source,
		Confirm: func(locked model.Position) bool {
			r, ok := Evaluate(locked.Side, exit, locked.StopLoss, locked.TakeProfit)
			return ok && r == reason
		},
	})
	d := Detail{PositionID: pos.ID, AccountID: pos.AccountID, Symbol: c.Instrument.Symbol, Trigger: reason, ExitPrice: exit}
	switch {
	case errors.Is(err, positions.ErrTriggerWithdrawn):
		t.add(func(sum *Summary) { sum.Skipped++ })
		return
	case apperr.CodeOf(err) == apperr.CodePositionClosed:
		// a manual close got there first
		s.log.Debug("position already closed", "position", pos.ID, "trigger", reason)
		t.add(func(sum *Summary) { sum.Skipped++ })
		return
	case err != nil:
		s.log.Error("triggered close failed", "position", pos.ID, "account", pos.AccountID, "trigger", reason, "error", err)
		d.Error = err.Error()
		t.add(func(sum *Summary) {
			sum.Errors++
			sum.Details = append(sum.Details, d)
		})
		return
	}
	d.RealizedPnl = res.Trade.RealizedPnl
	metrics.RecordTrigger(string(reason))
	t.add(func(sum *Summary) {
		if reason == types.CloseReasonStopLoss {
			sum.TriggeredStopLoss++
		} else {
			sum.TriggeredTakeProfit++
		}
		sum.Details = append(sum.Details, d)
	})
}

func distinctSymbols(open []ledger.OpenPosition) []string {
	seen := make(map[string]struct{}, len(open))
	out := make([]string, 0, len(open))
	for _, c := range open {
		if _, ok := seen[c.Instrument.Symbol]; ok {
			continue
		}
		seen[c.Instrument.Symbol] = struct{}{}
		out = append(out, c.Instrument.Symbol)
	}
	return out
}
