package pgstore

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"tradearena/internal/db"
	"tradearena/internal/ledger"
	"tradearena/internal/model"
	"tradearena/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// openTestStore connects to TEST_DB_DSN and seeds one competition with a
// BTC instrument and a funded account.
func openTestStore(t *testing.T) (*Store, model.Account, model.Instrument) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)
	s := NewStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	suffix := uuid.NewString()[:8]
	inst := model.Instrument{Symbol: "BTC" + suffix, ContractSize: d("1")}
	if err := pool.QueryRow(ctx, "insert into instruments (symbol, contract_size) values ($1, $2) returning id", inst.Symbol, inst.ContractSize).Scan(&inst.ID); err != nil {
		t.Fatal(err)
	}
	var compID, partID string
	if err := pool.QueryRow(ctx, "insert into competitions (name, status, starting_balance) values ($1, 'live', 10000) returning id", "test "+suffix).Scan(&compID); err != nil {
		t.Fatal(err)
	}
	userID := "user-" + suffix
	if err := pool.QueryRow(ctx, "insert into participants (competition_id, user_id) values ($1, $2) returning id", compID, userID).Scan(&partID); err != nil {
		t.Fatal(err)
	}
	var accID string
	if err := pool.QueryRow(ctx, "insert into accounts (participant_id, competition_id, user_id, balance, equity, peak_equity) values ($1, $2, $3, 10000, 10000, 10000) returning id",
		partID, compID, userID).Scan(&accID); err != nil {
		t.Fatal(err)
	}
	acc, err := s.GetAccount(ctx, accID)
	if err != nil {
		t.Fatal(err)
	}
	return s, acc, inst
}

func openLong(t *testing.T, s *Store, acc model.Account, inst model.Instrument) model.Position {
	t.Helper()
	var pos model.Position
	err := s.InAccountTx(context.Background(), acc.ID, func(ctx context.Context, tx ledger.Tx) error {
		pos = model.Position{
			InstrumentID: inst.ID,
			Side:         types.OrderSideBuy,
			Quantity:     d("1"),
			EntryPrice:   d("100"),
			CurrentPrice: d("100"),
			MarginUsed:   d("10"),
			Leverage:     d("10"),
			Status:       types.PositionStatusOpen,
			OpenedAt:     time.Now().UTC(),
		}
		if err := tx.InsertPosition(ctx, &pos); err != nil {
			return err
		}
		_, err := ledger.Settle(ctx, tx, tx.Account(), time.Now().UTC())
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return pos
}

func TestPGConcurrentClosesSettleOnce(t *testing.T) {
	s, acc, inst := openTestStore(t)
	pos := openLong(t, s, acc, inst)

	closeAt := func(exit string) error {
		return s.InAccountTx(context.Background(), acc.ID, func(ctx context.Context, tx ledger.Tx) error {
			p, err := tx.Position(ctx, pos.ID)
			if err != nil {
				return err
			}
			a := tx.Account()
			if _, err := ledger.CloseLot(ctx, tx, &a, p, inst.ContractSize, d(exit), types.CloseReasonManual, time.Now().UTC()); err != nil {
				return err
			}
			_, err = ledger.Settle(ctx, tx, a, time.Now().UTC())
			return err
		})
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, exit := range []string{"130", "70"} {
		wg.Add(1)
		go func(i int, exit string) {
			defer wg.Done()
			errs[i] = closeAt(exit)
		}(i, exit)
	}
	wg.Wait()

	var ok, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrPositionNotOpen):
			lost++
		default:
			t.Fatalf("close: %v", err)
		}
	}
	if ok != 1 || lost != 1 {
		t.Fatalf("successes=%d lost=%d", ok, lost)
	}

	var trades int
	if err := s.pool.QueryRow(context.Background(), "select count(*) from trades where position_id = $1", pos.ID).Scan(&trades); err != nil {
		t.Fatal(err)
	}
	if trades != 1 {
		t.Fatalf("trades = %d", trades)
	}
	got, err := s.GetAccount(context.Background(), acc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Balance.Equal(d("10030")) && !got.Balance.Equal(d("9970")) {
		t.Fatalf("balance = %s", got.Balance)
	}
	if !got.UsedMargin.IsZero() {
		t.Fatalf("used margin = %s", got.UsedMargin)
	}
}

func TestPGTxRollsBackOnError(t *testing.T) {
	s, acc, inst := openTestStore(t)
	boom := errors.New("boom")
	err := s.InAccountTx(context.Background(), acc.ID, func(ctx context.Context, tx ledger.Tx) error {
		a := tx.Account()
		a.Balance = d("1")
		if err := tx.UpdateAccount(ctx, a); err != nil {
			return err
		}
		p := model.Position{InstrumentID: inst.ID, Side: types.OrderSideSell, Quantity: d("1"), EntryPrice: d("1"), CurrentPrice: d("1"),
			MarginUsed: d("1"), Leverage: d("1"), Status: types.PositionStatusOpen, OpenedAt: time.Now().UTC()}
		if err := tx.InsertPosition(ctx, &p); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	got, err := s.GetAccount(context.Background(), acc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Balance.Equal(d("10000")) {
		t.Fatalf("balance = %s", got.Balance)
	}
	open, err := s.ListOpenPositions(context.Background(), ledger.PositionQuery{AccountID: acc.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Fatalf("open positions = %d", len(open))
	}
}

func TestPGUpdateOpenPositionRejectsClosedRow(t *testing.T) {
	s, acc, inst := openTestStore(t)
	pos := openLong(t, s, acc, inst)
	ctx := context.Background()
	err := s.InAccountTx(ctx, acc.ID, func(ctx context.Context, tx ledger.Tx) error {
		p, err := tx.Position(ctx, pos.ID)
		if err != nil {
			return err
		}
		p.Status = types.PositionStatusClosed
		return tx.ClosePosition(ctx, p)
	})
	if err != nil {
		t.Fatal(err)
	}
	err = s.InAccountTx(ctx, acc.ID, func(ctx context.Context, tx ledger.Tx) error {
		sl := d("90")
		pos.StopLoss = &sl
		return tx.UpdateOpenPosition(ctx, pos)
	})
	if !errors.Is(err, ledger.ErrPositionNotOpen) {
		t.Fatalf("err = %v", err)
	}
}
