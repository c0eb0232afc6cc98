package ledger

import (
	"context"
	"errors"

	"tradearena/internal/model"
	"tradearena/internal/types"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrPositionNotOpen is returned by the conditional close/update when
	// the position already left the open state.
	ErrPositionNotOpen = errors.New("position not open")
)

// OpenPosition is an open position joined with what a sweep needs to price
// and settle it without another lookup.
type OpenPosition struct {
	Position      model.Position
	Instrument    model.Instrument
	AccountStatus types.AccountStatus
}

type PositionQuery struct {
	AccountID    string
	BracketsOnly bool
}

// Reader serves unlocked reads of reference data and listings.
type Reader interface {
	GetCompetition(ctx context.Context, id string) (model.Competition, error)
	GetCompetitionInstrument(ctx context.Context, competitionID, instrumentID string) (model.CompetitionInstrument, error)
	GetInstrument(ctx context.Context, id string) (model.Instrument, error)
	GetParticipant(ctx context.Context, competitionID, userID string) (model.Participant, error)
	GetAccount(ctx context.Context, id string) (model.Account, error)
	GetAccountByParticipant(ctx context.Context, participantID string) (model.Account, error)
	ListOpenPositions(ctx context.Context, q PositionQuery) ([]OpenPosition, error)
}

// Tx is a unit of work holding the exclusive lock on one account. Position
// methods are scoped to that account.
type Tx interface {
	Account() model.Account
	UpdateAccount(ctx context.Context, acc model.Account) error
	OpenPositions(ctx context.Context) ([]model.Position, error)
	Position(ctx context.Context, id string) (model.Position, error)
	OldestOpenPosition(ctx context.Context, instrumentID string) (model.Position, bool, error)
	InsertPosition(ctx context.Context, p *model.Position) error
	// UpdateOpenPosition and ClosePosition only apply while the stored row
	// is still open; otherwise they return ErrPositionNotOpen.
	UpdateOpenPosition(ctx context.Context, p model.Position) error
	ClosePosition(ctx context.Context, p model.Position) error
	InsertOrder(ctx context.Context, o *model.Order) error
	InsertTrade(ctx context.Context, t *model.Trade) error
	InsertEquitySnapshot(ctx context.Context, s model.EquitySnapshot) error
	InsertDisqualification(ctx context.Context, d *model.Disqualification) error
	SetParticipantStatus(ctx context.Context, participantID string, status types.ParticipantStatus) error
}

type Store interface {
	Reader
	// InAccountTx runs fn with the account locked. Any error from fn rolls
	// back every write made through tx.
	InAccountTx(ctx context.Context, accountID string, fn func(ctx context.Context, tx Tx) error) error
}
