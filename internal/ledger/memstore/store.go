// Package memstore is an in-process ledger.Store used by the memory driver
// and by engine tests. Each account has its own mutex; a transaction stages
// its writes and publishes them only when fn returns nil.
package memstore

import (
	"context"
	"sort"
	"sync"

	"tradearena/internal/ledger"
	"tradearena/internal/model"
	"tradearena/internal/types"

	"github.com/google/uuid"
)

type Store struct {
	mu              sync.RWMutex
	competitions    map[string]model.Competition
	compInstruments map[string]model.CompetitionInstrument
	instruments     map[string]model.Instrument
	participants    map[string]model.Participant
	accounts        map[string]model.Account
	positions       map[string]model.Position
	orders          []model.Order
	trades          []model.Trade
	snapshots       []model.EquitySnapshot
	disqualified    []model.Disqualification
	posSeq          map[string]int64
	seq             int64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New() *Store {
	return &Store{
		competitions:    make(map[string]model.Competition),
		compInstruments: make(map[string]model.CompetitionInstrument),
		instruments:     make(map[string]model.Instrument),
		participants:    make(map[string]model.Participant),
		accounts:        make(map[string]model.Account),
		positions:       make(map[string]model.Position),
		posSeq:          make(map[string]int64),
		locks:           make(map[string]*sync.Mutex),
	}
}

func ciKey(competitionID, instrumentID string) string {
	return competitionID + "/" + instrumentID
}

func (s *Store) accountLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) GetCompetition(ctx context.Context, id string) (model.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.competitions[id]
	if !ok {
		return model.Competition{}, ledger.ErrNotFound
	}
	return c, nil
}

func (s *Store) GetCompetitionInstrument(ctx context.Context, competitionID, instrumentID string) (model.CompetitionInstrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ci, ok := s.compInstruments[ciKey(competitionID, instrumentID)]
	if !ok {
		return model.CompetitionInstrument{}, ledger.ErrNotFound
	}
	return ci, nil
}

func (s *Store) GetInstrument(ctx context.Context, id string) (model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instruments[id]
	if !ok {
		return model.Instrument{}, ledger.ErrNotFound
	}
	return inst, nil
}

func (s *Store) GetParticipant(ctx context.Context, competitionID, userID string) (model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.participants {
		if p.CompetitionID == competitionID && p.UserID == userID {
			return p, nil
		}
	}
	return model.Participant{}, ledger.ErrNotFound
}

func (s *Store) GetAccount(ctx context.Context, id string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return model.Account{}, ledger.ErrNotFound
	}
	return acc, nil
}

func (s *Store) GetAccountByParticipant(ctx context.Context, participantID string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, acc := range s.accounts {
		if acc.ParticipantID == participantID {
			return acc, nil
		}
	}
	return model.Account{}, ledger.ErrNotFound
}

func (s *Store) ListOpenPositions(ctx context.Context, q ledger.PositionQuery) ([]ledger.OpenPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.OpenPosition, 0)
	for _, p := range s.positions {
		if p.Status != types.PositionStatusOpen {
			continue
		}
		if q.AccountID != "" && p.AccountID != q.AccountID {
			continue
		}
		if q.BracketsOnly && p.StopLoss == nil && p.TakeProfit == nil {
			continue
		}
		out = append(out, ledger.OpenPosition{
			Position:      p,
			Instrument:    s.instruments[p.InstrumentID],
			AccountStatus: s.accounts[p.AccountID].Status,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return s.before(out[i].Position, out[j].Position)
	})
	return out, nil
}

func (s *Store) InAccountTx(ctx context.Context, accountID string, fn func(ctx context.Context, tx ledger.Tx) error) error {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	acc, ok := s.accounts[accountID]
	if !ok {
		s.mu.RUnlock()
		return ledger.ErrNotFound
	}
	staged := make(map[string]model.Position)
	for id, p := range s.positions {
		if p.AccountID == accountID {
			staged[id] = p
		}
	}
	s.mu.RUnlock()

	tx := &memTx{store: s, account: acc, positions: staged, participants: make(map[string]types.ParticipantStatus)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[accountID] = tx.account
	for id, p := range tx.positions {
		s.positions[id] = p
	}
	for id, status := range tx.participants {
		p := s.participants[id]
		p.Status = status
		s.participants[id] = p
	}
	s.orders = append(s.orders, tx.orders...)
	s.trades = append(s.trades, tx.trades...)
	s.snapshots = append(s.snapshots, tx.snapshots...)
	s.disqualified = append(s.disqualified, tx.disqualified...)
	return nil
}

type memTx struct {
	store        *Store
	account      model.Account
	positions    map[string]model.Position
	participants map[string]types.ParticipantStatus
	orders       []model.Order
	trades       []model.Trade
	snapshots    []model.EquitySnapshot
	disqualified []model.Disqualification
}

func (t *memTx) Account() model.Account {
	return t.account
}

func (t *memTx) UpdateAccount(ctx context.Context, acc model.Account) error {
	if acc.ID != t.account.ID {
		return ledger.ErrNotFound
	}
	t.account = acc
	return nil
}

func (t *memTx) OpenPositions(ctx context.Context) ([]model.Position, error) {
	out := make([]model.Position, 0, len(t.positions))
	for _, p := range t.positions {
		if p.Status == types.PositionStatusOpen {
			out = append(out, p)
		}
	}
	t.store.mu.RLock()
	sort.Slice(out, func(i, j int) bool { return t.store.before(out[i], out[j]) })
	t.store.mu.RUnlock()
	return out, nil
}

func (t *memTx) Position(ctx context.Context, id string) (model.Position, error) {
	p, ok := t.positions[id]
	if !ok {
		return model.Position{}, ledger.ErrNotFound
	}
	return p, nil
}

func (t *memTx) OldestOpenPosition(ctx context.Context, instrumentID string) (model.Position, bool, error) {
	open, _ := t.OpenPositions(ctx)
	for _, p := range open {
		if p.InstrumentID == instrumentID {
			return p, true, nil
		}
	}
	return model.Position{}, false, nil
}

func (t *memTx) InsertPosition(ctx context.Context, p *model.Position) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.AccountID = t.account.ID
	t.positions[p.ID] = *p
	t.store.mu.Lock()
	t.store.seq++
	t.store.posSeq[p.ID] = t.store.seq
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) UpdateOpenPosition(ctx context.Context, p model.Position) error {
	cur, ok := t.positions[p.ID]
	if !ok || cur.Status != types.PositionStatusOpen {
		return ledger.ErrPositionNotOpen
	}
	t.positions[p.ID] = p
	return nil
}

func (t *memTx) ClosePosition(ctx context.Context, p model.Position) error {
	return t.UpdateOpenPosition(ctx, p)
}

func (t *memTx) InsertOrder(ctx context.Context, o *model.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.AccountID = t.account.ID
	t.orders = append(t.orders, *o)
	return nil
}

func (t *memTx) InsertTrade(ctx context.Context, tr *model.Trade) error {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	t.trades = append(t.trades, *tr)
	return nil
}

func (t *memTx) InsertEquitySnapshot(ctx context.Context, snap model.EquitySnapshot) error {
	t.snapshots = append(t.snapshots, snap)
	return nil
}

func (t *memTx) InsertDisqualification(ctx context.Context, d *model.Disqualification) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	t.disqualified = append(t.disqualified, *d)
	return nil
}

func (t *memTx) SetParticipantStatus(ctx context.Context, participantID string, status types.ParticipantStatus) error {
	t.store.mu.RLock()
	_, ok := t.store.participants[participantID]
	t.store.mu.RUnlock()
	if !ok {
		return ledger.ErrNotFound
	}
	t.participants[participantID] = status
	return nil
}

// before orders positions oldest first; positions opened in the same
// instant keep insertion order. Caller holds s.mu.
func (s *Store) before(a, b model.Position) bool {
	if !a.OpenedAt.Equal(b.OpenedAt) {
		return a.OpenedAt.Before(b.OpenedAt)
	}
	return s.posSeq[a.ID] < s.posSeq[b.ID]
}
