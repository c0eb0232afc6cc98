package model

import (
	"time"

	"tradearena/internal/types"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID             string            `json:"id"`
	AccountID      string            `json:"account_id"`
	InstrumentID   string            `json:"instrument_id"`
	Side           types.OrderSide   `json:"side"`
	Type           types.OrderType   `json:"order_type"`
	Quantity       decimal.Decimal   `json:"quantity"`
	Leverage       decimal.Decimal   `json:"leverage"`
	RequestedPrice *decimal.Decimal  `json:"requested_price,omitempty"`
	FilledPrice    *decimal.Decimal  `json:"filled_price,omitempty"`
	MarginUsed     decimal.Decimal   `json:"margin_used"`
	StopLoss       *decimal.Decimal  `json:"stop_loss,omitempty"`
	TakeProfit     *decimal.Decimal  `json:"take_profit,omitempty"`
	Status         types.OrderStatus `json:"status"`
	PositionID     string            `json:"position_id,omitempty"`
	PriceSource    string            `json:"price_source,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	FilledAt       *time.Time        `json:"filled_at,omitempty"`
}

// Trade is the immutable record of one full or partial position close.
type Trade struct {
	ID           string            `json:"id"`
	AccountID    string            `json:"account_id"`
	PositionID   string            `json:"position_id"`
	InstrumentID string            `json:"instrument_id"`
	Side         types.OrderSide   `json:"side"`
	Quantity     decimal.Decimal   `json:"quantity"`
	EntryPrice   decimal.Decimal   `json:"entry_price"`
	ExitPrice    decimal.Decimal   `json:"exit_price"`
	RealizedPnl  decimal.Decimal   `json:"realized_pnl"`
	CloseReason  types.CloseReason `json:"close_reason"`
	OpenedAt     time.Time         `json:"opened_at"`
	ClosedAt     time.Time         `json:"closed_at"`
}
