package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"tradearena/internal/ledger"
	"tradearena/internal/margin"
	"tradearena/internal/marketdata"
	"tradearena/internal/metrics"
	"tradearena/internal/model"
	"tradearena/internal/risk"
	"tradearena/internal/types"

	"golang.org/x/sync/errgroup"
)

// Marker revalues open positions at mid and runs the risk monitor on every
// account it touched, so drawdown breaches between trades are caught.
type Marker struct {
	store       ledger.Store
	prices      marketdata.Prices
	risk        risk.Checker
	bus         *marketdata.Bus
	concurrency int
	log         *slog.Logger
	now         func() time.Time
}

func NewMarker(store ledger.Store, prices marketdata.Prices, checker risk.Checker, bus *marketdata.Bus, concurrency int, logger *slog.Logger) *Marker {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Marker{
		store:       store,
		prices:      prices,
		risk:        checker,
		bus:         bus,
		concurrency: concurrency,
		log:         logger.With("component", "mark-sweep"),
		now:         time.Now,
	}
}

type MarkSummary struct {
	Accounts     int   `json:"accounts"`
	Positions    int   `json:"positions"`
	Unpriced     int   `json:"unpriced"`
	Disqualified int   `json:"disqualified"`
	Errors       int   `json:"errors"`
	DurationMS   int64 `json:"duration_ms"`
}

func (m *Marker) Run(ctx context.Context) (MarkSummary, error) {
	start := time.Now()
	open, err := m.store.ListOpenPositions(ctx, ledger.PositionQuery{})
	if err != nil {
		metrics.RecordSweep("mark", time.Since(start), 1)
		return MarkSummary{}, err
	}

	instruments := make(map[string]model.Instrument)
	byAccount := make(map[string]bool)
	accounts := make([]string, 0)
	for _, c := range open {
		instruments[c.Instrument.ID] = c.Instrument
		if c.AccountStatus != types.AccountStatusActive {
			continue
		}
		if !byAccount[c.Position.AccountID] {
			byAccount[c.Position.AccountID] = true
			accounts = append(accounts, c.Position.AccountID)
		}
	}
	quotes := m.prices.GetPrices(ctx, distinctSymbols(open))
	event := "mark:" + strconv.FormatInt(m.now().Unix(), 10)

	var mu sync.Mutex
	var sum MarkSummary
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, accountID := range accounts {
		accountID := accountID
		g.Go(func() error {
			marked, unpriced, err := m.markAccount(gctx, accountID, instruments, quotes)
			var disq bool
			if err == nil && m.risk != nil {
				v, rerr := m.risk.Check(gctx, accountID, event)
				if rerr != nil {
					m.log.Error("risk check failed", "account", accountID, "error", rerr)
				}
				disq = v.Disqualified
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				m.log.Error("mark failed", "account", accountID, "error", err)
				sum.Errors++
				return nil
			}
			sum.Accounts++
			sum.Positions += marked
			sum.Unpriced += unpriced
			if disq {
				sum.Disqualified++
			}
			return nil
		})
	}
	_ = g.Wait()

	sum.DurationMS = time.Since(start).Milliseconds()
	metrics.RecordSweep("mark", time.Since(start), sum.Errors)
	if sum.Disqualified > 0 || sum.Errors > 0 {
		m.log.Info("mark finished", "accounts", sum.Accounts, "positions", sum.Positions, "disqualified", sum.Disqualified, "errors", sum.Errors)
	}
	m.bus.Publish(marketdata.Event{Type: marketdata.EventSweepCompleted, Data: map[string]any{
		"sweep":        "mark",
		"accounts":     sum.Accounts,
		"disqualified": sum.Disqualified,
		"errors":       sum.Errors,
	}})
	return sum, nil
}

func (m *Marker) markAccount(ctx context.Context, accountID string, instruments map[string]model.Instrument, quotes map[string]marketdata.Quote) (int, int, error) {
	var marked, unpriced int
	err := m.store.InAccountTx(ctx, accountID, func(ctx context.Context, tx ledger.Tx) error {
		acc := tx.Account()
		if acc.Status != types.AccountStatusActive {
			return nil
		}
		open, err := tx.OpenPositions(ctx)
		if err != nil {
			return fmt.Errorf("load open positions: %w", err)
		}
		for _, p := range open {
			inst, ok := instruments[p.InstrumentID]
			if !ok {
				unpriced++
				continue
			}
			q, ok := quotes[inst.Symbol]
			if !ok || !q.Mid.IsPositive() {
				unpriced++
				continue
			}
			p.CurrentPrice = q.Mid
			p.UnrealizedPnl = margin.PnL(p.Side, p.Quantity, p.EntryPrice, q.Mid, inst.ContractSize)
			if err := tx.UpdateOpenPosition(ctx, p); err != nil {
				return fmt.Errorf("mark position %s: %w", p.ID, err)
			}
			marked++
		}
		_, err = ledger.Settle(ctx, tx, acc, m.now())
		return err
	})
	return marked, unpriced, err
}
