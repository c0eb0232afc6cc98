package marketdata

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGLastKnown keeps last good prices in market_prices_latest.
type PGLastKnown struct {
	pool *pgxpool.Pool
}

func NewPGLastKnown(pool *pgxpool.Pool) *PGLastKnown {
	return &PGLastKnown{pool: pool}
}

func (s *PGLastKnown) Load(ctx context.Context, symbols []string) (map[string]LastPrice, error) {
	rows, err := s.pool.Query(ctx, "select symbol, mid, source, updated_at from market_prices_latest where symbol = any($1)", symbols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]LastPrice, len(symbols))
	for rows.Next() {
		var lp LastPrice
		if err := rows.Scan(&lp.Symbol, &lp.Mid, &lp.Source, &lp.At); err != nil {
			return nil, err
		}
		out[lp.Symbol] = lp
	}
	return out, rows.Err()
}

func (s *PGLastKnown) Save(ctx context.Context, prices []LastPrice) error {
	batch := &pgx.Batch{}
	for _, p := range prices {
		batch.Queue("insert into market_prices_latest (symbol, mid, source, updated_at) values ($1, $2, $3, $4) on conflict (symbol) do update set mid = excluded.mid, source = excluded.source, updated_at = excluded.updated_at",
			p.Symbol, p.Mid, p.Source, p.At)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}
