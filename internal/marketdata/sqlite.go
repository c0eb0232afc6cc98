package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLiteLastKnown is the single-node last-known price store used with the
// memory ledger driver.
type SQLiteLastKnown struct {
	db *sql.DB
}

func OpenSQLiteLastKnown(ctx context.Context, path string) (*SQLiteLastKnown, error) {
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	const ddl = `create table if not exists market_prices_latest (
		symbol text primary key,
		mid text not null,
		source text not null,
		updated_at integer not null
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create price table: %w", err)
	}
	return &SQLiteLastKnown{db: db}, nil
}

func (s *SQLiteLastKnown) Close() error {
	return s.db.Close()
}

func (s *SQLiteLastKnown) Load(ctx context.Context, symbols []string) (map[string]LastPrice, error) {
	out := make(map[string]LastPrice, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	args := make([]any, len(symbols))
	for i, sym := range symbols {
		args[i] = sym
	}
	q := "select symbol, mid, source, updated_at from market_prices_latest where symbol in (?" + strings.Repeat(",?", len(symbols)-1) + ")"
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var lp LastPrice
		var mid string
		var at int64
		if err := rows.Scan(&lp.Symbol, &mid, &lp.Source, &at); err != nil {
			return nil, err
		}
		if lp.Mid, err = decimal.NewFromString(mid); err != nil {
			continue
		}
		lp.At = time.UnixMilli(at).UTC()
		out[lp.Symbol] = lp
	}
	return out, rows.Err()
}

func (s *SQLiteLastKnown) Save(ctx context.Context, prices []LastPrice) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, p := range prices {
		_, err := tx.ExecContext(ctx, "insert into market_prices_latest (symbol, mid, source, updated_at) values (?, ?, ?, ?) on conflict(symbol) do update set mid = excluded.mid, source = excluded.source, updated_at = excluded.updated_at",
			p.Symbol, p.Mid.String(), p.Source, p.At.UnixMilli())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
