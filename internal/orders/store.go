package orders

import (
	"context"
	"errors"
	"fmt"

	"tradearena/internal/apperr"
	"tradearena/internal/ledger"
	"tradearena/internal/model"
	"tradearena/internal/types"
)

// orderContext is the reference data an order is checked against before
// the account lock is taken.
type orderContext struct {
	competition model.Competition
	instrument  model.Instrument
	participant model.Participant
	account     model.Account
}

// resolve runs the preconditions in their fixed order; the first failure
// is returned.
func (s *Service) resolve(ctx context.Context, req PlaceOrderRequest) (orderContext, error) {
	var pc orderContext
	comp, err := s.store.GetCompetition(ctx, req.CompetitionID)
	if errors.Is(err, ledger.ErrNotFound) {
		return pc, apperr.NotFound(apperr.CodeCompetitionNotFound, "Competition not found")
	}
	if err != nil {
		return pc, fmt.Errorf("load competition: %w", err)
	}
	if comp.Status != types.CompetitionStatusLive {
		return pc, apperr.State(apperr.CodeCompetitionNotLive, "Competition is not live")
	}
	pc.competition = comp

	ci, err := s.store.GetCompetitionInstrument(ctx, comp.ID, req.InstrumentID)
	if errors.Is(err, ledger.ErrNotFound) {
		return pc, apperr.Validation(apperr.CodeInstrumentNotAllowed, "Instrument not available in this competition")
	}
	if err != nil {
		return pc, fmt.Errorf("load competition instrument: %w", err)
	}
	inst, err := s.store.GetInstrument(ctx, req.InstrumentID)
	if errors.Is(err, ledger.ErrNotFound) {
		return pc, apperr.NotFound(apperr.CodeInstrumentNotFound, "Instrument not found")
	}
	if err != nil {
		return pc, fmt.Errorf("load instrument: %w", err)
	}
	maxLeverage := ci.MaxLeverage(comp.Rules)
	if req.Leverage.GreaterThan(maxLeverage) {
		return pc, apperr.Validation(apperr.CodeLeverageExceeded, fmt.Sprintf("Leverage exceeds maximum allowed (%s)", maxLeverage.String()))
	}
	pc.instrument = inst

	pc.participant, pc.account, err = ledger.ResolveAccount(ctx, s.store, comp.ID, req.UserID)
	if err != nil {
		return pc, err
	}
	if err := ledger.RequireActive(pc.account); err != nil {
		return pc, err
	}
	return pc, nil
}
