package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SourceLive       = "live"
	SourceCache      = "cache"
	SourceStaleCache = "stale_cache"
	SourceLastKnown  = "last_known"
	SourceClientHint = "client_hint"
	SourceEntry      = "entry_fallback"
)

type Quote struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Mid    decimal.Decimal `json:"mid"`
	Source string          `json:"source"`
	At     time.Time       `json:"at"`
}

// Prices is what the engine needs from the price layer. A symbol missing
// from the result has no usable price.
type Prices interface {
	GetPrices(ctx context.Context, symbols []string) map[string]Quote
}

// Feed fetches mid prices for venue symbols from one upstream.
type Feed interface {
	Name() string
	Fetch(ctx context.Context, venues []string) (map[string]decimal.Decimal, error)
}

// Budgeted is implemented by feeds that can only price a limited number of
// venue symbols right now.
type Budgeted interface {
	Affordable(now time.Time) int
}

var ErrRateLimited = errors.New("upstream credits exhausted")

type LastPrice struct {
	Symbol string
	Mid    decimal.Decimal
	Source string
	At     time.Time
}

// LastKnownStore persists the last good mid per product symbol so a cold
// process or a dead upstream still has a price.
type LastKnownStore interface {
	Load(ctx context.Context, symbols []string) (map[string]LastPrice, error)
	Save(ctx context.Context, prices []LastPrice) error
}

// ClientHintQuote synthesizes a quote from a client-supplied price with a
// 0.01% spread on each side.
func ClientHintQuote(symbol string, price decimal.Decimal, now time.Time) Quote {
	spread := price.Mul(decimal.RequireFromString("0.0001"))
	return Quote{
		Symbol: symbol,
		Bid:    price.Sub(spread),
		Ask:    price.Add(spread),
		Mid:    price,
		Source: SourceClientHint,
		At:     now,
	}
}
