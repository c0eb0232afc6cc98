package memstore

import (
	"context"
	"fmt"
	"os"
	"time"

	"tradearena/internal/ledger"
	"tradearena/internal/model"
	"tradearena/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

func (s *Store) AddInstrument(inst model.Instrument) model.Instrument {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	s.mu.Lock()
	s.instruments[inst.ID] = inst
	s.mu.Unlock()
	return inst
}

func (s *Store) AddCompetition(c model.Competition) model.Competition {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.mu.Lock()
	s.competitions[c.ID] = c
	s.mu.Unlock()
	return c
}

func (s *Store) SetCompetitionStatus(id string, status types.CompetitionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.competitions[id]
	c.Status = status
	s.competitions[id] = c
}

func (s *Store) EnableInstrument(competitionID, instrumentID string, leverageOverride *decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compInstruments[ciKey(competitionID, instrumentID)] = model.CompetitionInstrument{
		CompetitionID:       competitionID,
		InstrumentID:        instrumentID,
		LeverageMaxOverride: leverageOverride,
	}
}

// Enroll joins userID to a competition: an active participant plus an
// account funded with the starting balance and its first equity snapshot.
func (s *Store) Enroll(competitionID, userID string, now time.Time) (model.Participant, model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.competitions[competitionID]
	if !ok {
		return model.Participant{}, model.Account{}, ledger.ErrNotFound
	}
	for _, p := range s.participants {
		if p.CompetitionID == competitionID && p.UserID == userID {
			return model.Participant{}, model.Account{}, fmt.Errorf("user %s already joined %s", userID, competitionID)
		}
	}
	p := model.Participant{ID: uuid.NewString(), CompetitionID: competitionID, UserID: userID, Status: types.ParticipantStatusActive}
	start := c.Rules.StartingBalance
	acc := model.Account{
		ID:            uuid.NewString(),
		ParticipantID: p.ID,
		CompetitionID: competitionID,
		UserID:        userID,
		Balance:       start,
		Equity:        start,
		PeakEquity:    start,
		Status:        types.AccountStatusActive,
		UpdatedAt:     now,
	}
	s.participants[p.ID] = p
	s.accounts[acc.ID] = acc
	s.snapshots = append(s.snapshots, model.EquitySnapshot{
		AccountID: acc.ID, Balance: start, Equity: start, CreatedAt: now,
	})
	return p, acc, nil
}

// SetAccountStatus bypasses the engine; only seeding and tests use it.
func (s *Store) SetAccountStatus(accountID string, status types.AccountStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.accounts[accountID]
	acc.Status = status
	s.accounts[accountID] = acc
}

func (s *Store) Participant(id string) (model.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	return p, ok
}

func (s *Store) Position(id string) (model.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	return p, ok
}

func (s *Store) Orders(accountID string) []model.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Order, 0)
	for _, o := range s.orders {
		if o.AccountID == accountID {
			out = append(out, o)
		}
	}
	return out
}

func (s *Store) Trades(accountID string) []model.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Trade, 0)
	for _, t := range s.trades {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out
}

func (s *Store) Snapshots(accountID string) []model.EquitySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.EquitySnapshot, 0)
	for _, snap := range s.snapshots {
		if snap.AccountID == accountID {
			out = append(out, snap)
		}
	}
	return out
}

func (s *Store) Disqualifications(accountID string) []model.Disqualification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Disqualification, 0)
	for _, d := range s.disqualified {
		if d.AccountID == accountID {
			out = append(out, d)
		}
	}
	return out
}

// Fixtures describe reference data for the memory driver.
type Fixtures struct {
	Instruments []struct {
		ID           string `yaml:"id"`
		Symbol       string `yaml:"symbol"`
		ContractSize string `yaml:"contract_size"`
		TickSize     string `yaml:"tick_size"`
		QuantityType string `yaml:"quantity_type"`
	} `yaml:"instruments"`
	Competitions []struct {
		ID                string   `yaml:"id"`
		Name              string   `yaml:"name"`
		Status            string   `yaml:"status"`
		StartingBalance   string   `yaml:"starting_balance"`
		MaxLeverageGlobal string   `yaml:"max_leverage_global"`
		MaxDrawdownPct    string   `yaml:"max_drawdown_pct"`
		MaxPositionPct    string   `yaml:"max_position_pct"`
		MinTrades         int      `yaml:"min_trades"`
		Instruments       []string `yaml:"instruments"`
		Users             []string `yaml:"users"`
	} `yaml:"competitions"`
}

func LoadFixtures(path string) (Fixtures, error) {
	var f Fixtures
	raw, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	return f, nil
}

// Apply loads f into the store and enrolls the listed users.
func (s *Store) Apply(ctx context.Context, f Fixtures, now time.Time) error {
	for _, in := range f.Instruments {
		contract, err := decimal.NewFromString(in.ContractSize)
		if err != nil {
			return fmt.Errorf("instrument %s contract_size: %w", in.Symbol, err)
		}
		tick, _ := decimal.NewFromString(in.TickSize)
		s.AddInstrument(model.Instrument{ID: in.ID, Symbol: in.Symbol, ContractSize: contract, TickSize: tick, QuantityType: in.QuantityType})
	}
	for _, c := range f.Competitions {
		rules, err := parseRules(c.StartingBalance, c.MaxLeverageGlobal, c.MaxDrawdownPct, c.MaxPositionPct)
		if err != nil {
			return fmt.Errorf("competition %s: %w", c.ID, err)
		}
		rules.MinTrades = c.MinTrades
		status := types.CompetitionStatus(c.Status)
		if status == "" {
			status = types.CompetitionStatusLive
		}
		comp := s.AddCompetition(model.Competition{ID: c.ID, Name: c.Name, Status: status, Rules: rules})
		for _, instID := range c.Instruments {
			s.EnableInstrument(comp.ID, instID, nil)
		}
		for _, user := range c.Users {
			if _, _, err := s.Enroll(comp.ID, user, now); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

func parseRules(start, lev, dd, pos string) (model.CompetitionRules, error) {
	var r model.CompetitionRules
	var err error
	if r.StartingBalance, err = decimal.NewFromString(start); err != nil {
		return r, fmt.Errorf("starting_balance: %w", err)
	}
	if r.MaxLeverageGlobal, err = decimal.NewFromString(lev); err != nil {
		return r, fmt.Errorf("max_leverage_global: %w", err)
	}
	if r.MaxDrawdownPct, err = decimal.NewFromString(dd); err != nil {
		return r, fmt.Errorf("max_drawdown_pct: %w", err)
	}
	if r.MaxPositionPct, err = decimal.NewFromString(pos); err != nil {
		return r, fmt.Errorf("max_position_pct: %w", err)
	}
	return r, nil
}
