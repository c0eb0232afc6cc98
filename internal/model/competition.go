package model

import (
	"time"

	"tradearena/internal/types"

	"github.com/shopspring/decimal"
)

type Instrument struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	ContractSize decimal.Decimal `json:"contract_size"`
	TickSize     decimal.Decimal `json:"tick_size"`
	QuantityType string          `json:"quantity_type"`
}

// CompetitionRules are fixed once the competition is live.
type CompetitionRules struct {
	StartingBalance   decimal.Decimal `json:"starting_balance"`
	MaxLeverageGlobal decimal.Decimal `json:"max_leverage_global"`
	MaxDrawdownPct    decimal.Decimal `json:"max_drawdown_pct"`
	MaxPositionPct    decimal.Decimal `json:"max_position_pct"`
	MinTrades         int             `json:"min_trades"`
}

type Competition struct {
	ID     string                  `json:"id"`
	Name   string                  `json:"name"`
	Status types.CompetitionStatus `json:"status"`
	Rules  CompetitionRules        `json:"rules"`
}

// CompetitionInstrument enables an instrument for a competition.
type CompetitionInstrument struct {
	CompetitionID       string           `json:"competition_id"`
	InstrumentID        string           `json:"instrument_id"`
	LeverageMaxOverride *decimal.Decimal `json:"leverage_max_override,omitempty"`
}

// MaxLeverage returns the override when set, otherwise the global limit.
func (ci CompetitionInstrument) MaxLeverage(rules CompetitionRules) decimal.Decimal {
	if ci.LeverageMaxOverride != nil && ci.LeverageMaxOverride.IsPositive() {
		return *ci.LeverageMaxOverride
	}
	return rules.MaxLeverageGlobal
}

type Participant struct {
	ID            string                  `json:"id"`
	CompetitionID string                  `json:"competition_id"`
	UserID        string                  `json:"user_id"`
	Status        types.ParticipantStatus `json:"status"`
}

type Disqualification struct {
	ID            string          `json:"id"`
	CompetitionID string          `json:"competition_id"`
	ParticipantID string          `json:"participant_id"`
	AccountID     string          `json:"account_id"`
	Reason        string          `json:"reason"`
	DrawdownPct   decimal.Decimal `json:"drawdown_pct"`
	LimitPct      decimal.Decimal `json:"limit_pct"`
	Event         string          `json:"event"`
	TriggeredAt   time.Time       `json:"triggered_at"`
}
