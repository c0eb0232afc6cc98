package types

type OrderSide string

type OrderType string

type OrderStatus string

type PositionStatus string

type AccountStatus string

type ParticipantStatus string

type CompetitionStatus string

type NettingPolicy string

type CloseReason string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

const (
	PositionStatusOpen       PositionStatus = "open"
	PositionStatusClosed     PositionStatus = "closed"
	PositionStatusLiquidated PositionStatus = "liquidated"
)

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
	AccountStatusClosed AccountStatus = "closed"
)

const (
	ParticipantStatusActive       ParticipantStatus = "active"
	ParticipantStatusDisqualified ParticipantStatus = "disqualified"
	ParticipantStatusWithdrawn    ParticipantStatus = "withdrawn"
)

const (
	CompetitionStatusUpcoming  CompetitionStatus = "upcoming"
	CompetitionStatusLive      CompetitionStatus = "live"
	CompetitionStatusFinished  CompetitionStatus = "finished"
	CompetitionStatusCancelled CompetitionStatus = "cancelled"
)

// NettingAlwaysNew opens a fresh position for every fill.
// NettingAgainstExisting folds a fill into the oldest open position on the
// same instrument.
const (
	NettingAlwaysNew       NettingPolicy = "always_new"
	NettingAgainstExisting NettingPolicy = "net_against_existing"
)

const (
	CloseReasonManual     CloseReason = "manual"
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonNetted     CloseReason = "netted"
)

func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t == OrderTypeLimit || t == OrderTypeStop
}

func (p NettingPolicy) Valid() bool {
	return p == NettingAlwaysNew || p == NettingAgainstExisting
}
