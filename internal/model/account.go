package model

import (
	"time"

	"tradearena/internal/types"

	"github.com/shopspring/decimal"
)

type Account struct {
	ID             string              `json:"id"`
	ParticipantID  string              `json:"participant_id"`
	CompetitionID  string              `json:"competition_id"`
	UserID         string              `json:"user_id"`
	Balance        decimal.Decimal     `json:"balance"`
	Equity         decimal.Decimal     `json:"equity"`
	UsedMargin     decimal.Decimal     `json:"used_margin"`
	PeakEquity     decimal.Decimal     `json:"peak_equity"`
	MaxDrawdownPct decimal.Decimal     `json:"max_drawdown_pct"`
	Status         types.AccountStatus `json:"status"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

type Position struct {
	ID            string               `json:"id"`
	AccountID     string               `json:"account_id"`
	InstrumentID  string               `json:"instrument_id"`
	Side          types.OrderSide      `json:"side"`
	Quantity      decimal.Decimal      `json:"quantity"`
	EntryPrice    decimal.Decimal      `json:"entry_price"`
	CurrentPrice  decimal.Decimal      `json:"current_price"`
	MarginUsed    decimal.Decimal      `json:"margin_used"`
	Leverage      decimal.Decimal      `json:"leverage"`
	StopLoss      *decimal.Decimal     `json:"stop_loss,omitempty"`
	TakeProfit    *decimal.Decimal     `json:"take_profit,omitempty"`
	Status        types.PositionStatus `json:"status"`
	RealizedPnl   decimal.Decimal      `json:"realized_pnl"`
	UnrealizedPnl decimal.Decimal      `json:"unrealized_pnl"`
	CloseReason   types.CloseReason    `json:"close_reason,omitempty"`
	OpenedAt      time.Time            `json:"opened_at"`
	ClosedAt      *time.Time           `json:"closed_at,omitempty"`
}

type EquitySnapshot struct {
	AccountID      string          `json:"account_id"`
	Balance        decimal.Decimal `json:"balance"`
	Equity         decimal.Decimal `json:"equity"`
	UnrealizedPnl  decimal.Decimal `json:"unrealized_pnl"`
	MaxDrawdownPct decimal.Decimal `json:"max_drawdown_pct"`
	CreatedAt      time.Time       `json:"created_at"`
}
