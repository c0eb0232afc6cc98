// Package risk enforces the competition drawdown limit.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tradearena/internal/ledger"
	"tradearena/internal/margin"
	"tradearena/internal/marketdata"
	"tradearena/internal/metrics"
	"tradearena/internal/model"
	"tradearena/internal/types"

	"github.com/shopspring/decimal"
)

// Verdict is the outcome of one drawdown check.
type Verdict struct {
	Disqualified bool            `json:"disqualified"`
	Reason       string          `json:"reason,omitempty"`
	DrawdownPct  decimal.Decimal `json:"drawdown_pct"`
}

// Checker is what the order engine, closer and sweeps call after commit.
type Checker interface {
	Check(ctx context.Context, accountID, event string) (Verdict, error)
}

type Monitor struct {
	store ledger.Store
	bus   *marketdata.Bus
	log   *slog.Logger
	now   func() time.Time
}

func NewMonitor(store ledger.Store, bus *marketdata.Bus, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{store: store, bus: bus, log: logger.With("component", "risk-monitor"), now: time.Now}
}

// Check evaluates the committed equity of accountID against its
// competition's drawdown limit. A breach freezes the account, disqualifies
// the participant and records why; an account that is no longer active is
// left alone, so the transition happens once.
func (m *Monitor) Check(ctx context.Context, accountID, event string) (Verdict, error) {
	acc, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return Verdict{}, fmt.Errorf("load account %s: %w", accountID, err)
	}
	comp, err := m.store.GetCompetition(ctx, acc.CompetitionID)
	if err != nil {
		return Verdict{}, fmt.Errorf("load competition %s: %w", acc.CompetitionID, err)
	}
	limit := comp.Rules.MaxDrawdownPct

	var verdict Verdict
	var disq model.Disqualification
	err = m.store.InAccountTx(ctx, accountID, func(ctx context.Context, tx ledger.Tx) error {
		acc := tx.Account()
		verdict.DrawdownPct = margin.DrawdownPct(acc.PeakEquity, acc.Equity)
		if acc.Status != types.AccountStatusActive || !limit.IsPositive() {
			return nil
		}
		if verdict.DrawdownPct.LessThan(limit) {
			return nil
		}
		now := m.now()
		acc.Status = types.AccountStatusFrozen
		acc.UpdatedAt = now
		if err := tx.UpdateAccount(ctx, acc); err != nil {
			return fmt.Errorf("freeze account: %w", err)
		}
		if err := tx.SetParticipantStatus(ctx, acc.ParticipantID, types.ParticipantStatusDisqualified); err != nil {
			return fmt.Errorf("disqualify participant: %w", err)
		}
		disq = model.Disqualification{
			CompetitionID: acc.CompetitionID,
			ParticipantID: acc.ParticipantID,
			AccountID:     acc.ID,
			Reason:        Reason(verdict.DrawdownPct, limit),
			DrawdownPct:   verdict.DrawdownPct,
			LimitPct:      limit,
			Event:         event,
			TriggeredAt:   now,
		}
		if err := tx.InsertDisqualification(ctx, &disq); err != nil {
			return fmt.Errorf("insert disqualification: %w", err)
		}
		verdict.Disqualified = true
		verdict.Reason = disq.Reason
		return nil
	})
	if err != nil {
		return Verdict{}, err
	}
	if verdict.Disqualified {
		metrics.RecordDisqualification()
		m.log.Warn("participant disqualified", "account", accountID, "drawdown_pct", verdict.DrawdownPct.StringFixed(2), "limit_pct", limit.String(), "event", event)
		m.bus.Publish(marketdata.Event{Type: marketdata.EventDisqualified, UserID: acc.UserID, Data: disq})
	}
	return verdict, nil
}

// Reason is the human-readable breach message stored on the record.
func Reason(drawdown, limit decimal.Decimal) string {
	return fmt.Sprintf("Maximum drawdown exceeded: %s%% (limit: %s%%)", drawdown.StringFixed(2), limit.String())
}
