package ledger

import (
	"context"
	"errors"
	"fmt"

	"tradearena/internal/apperr"
	"tradearena/internal/model"
	"tradearena/internal/types"
)

// ResolveAccount finds the caller's participant and account in a
// competition, rejecting participants that are no longer active. The
// account status is left to the caller, which re-checks it under the lock.
func ResolveAccount(ctx context.Context, r Reader, competitionID, userID string) (model.Participant, model.Account, error) {
	p, err := r.GetParticipant(ctx, competitionID, userID)
	if errors.Is(err, ErrNotFound) {
		return model.Participant{}, model.Account{}, apperr.NotFound(apperr.CodeParticipantNotFound, "Not a participant of this competition")
	}
	if err != nil {
		return model.Participant{}, model.Account{}, fmt.Errorf("load participant: %w", err)
	}
	if p.Status != types.ParticipantStatusActive {
		return model.Participant{}, model.Account{}, apperr.State(apperr.CodeParticipantInactive, fmt.Sprintf("Participant is %s", p.Status))
	}
	acc, err := r.GetAccountByParticipant(ctx, p.ID)
	if errors.Is(err, ErrNotFound) {
		return model.Participant{}, model.Account{}, apperr.NotFound(apperr.CodeAccountNotFound, "Account not found")
	}
	if err != nil {
		return model.Participant{}, model.Account{}, fmt.Errorf("load account: %w", err)
	}
	return p, acc, nil
}

// RequireActive rejects orders and closes on an account that is frozen or
// closed.
func RequireActive(acc model.Account) error {
	switch acc.Status {
	case types.AccountStatusActive:
		return nil
	case types.AccountStatusFrozen:
		return apperr.State(apperr.CodeAccountFrozen, "Account is frozen")
	default:
		return apperr.State(apperr.CodeAccountInactive, fmt.Sprintf("Account is %s", acc.Status))
	}
}

// HeldSymbols lists the distinct instrument symbols with at least one open
// position, in first-opened order.
func HeldSymbols(ctx context.Context, r Reader) ([]string, error) {
	open, err := r.ListOpenPositions(ctx, PositionQuery{})
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	seen := make(map[string]bool, len(open))
	out := make([]string, 0, len(open))
	for _, op := range open {
		if sym := op.Instrument.Symbol; sym != "" && !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	return out, nil
}
