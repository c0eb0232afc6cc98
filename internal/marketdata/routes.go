package marketdata

import (
	"strings"

	"github.com/shopspring/decimal"
)

type AssetClass string

const (
	ClassForex  AssetClass = "forex"
	ClassMetal  AssetClass = "metal"
	ClassCrypto AssetClass = "crypto"
	ClassIndex  AssetClass = "index"
)

// Route maps a product symbol to the upstream feed and venue symbol that
// price it. The venue mid is multiplied by Multiplier (SPX is priced off SPY).
type Route struct {
	Feed       string
	Venue      string
	Multiplier decimal.Decimal
	Class      AssetClass
}

const (
	FeedTwelveData = "twelve_data"
	FeedBinance    = "binance"
)

func route(feed, venue string, class AssetClass) Route {
	return Route{Feed: feed, Venue: venue, Multiplier: decimal.NewFromInt(1), Class: class}
}

// DefaultRoutes covers the product symbols offered to competitions.
func DefaultRoutes() map[string]Route {
	r := map[string]Route{
		"EURUSD": route(FeedTwelveData, "EUR/USD", ClassForex),
		"GBPUSD": route(FeedTwelveData, "GBP/USD", ClassForex),
		"USDJPY": route(FeedTwelveData, "USD/JPY", ClassForex),
		"USDCHF": route(FeedTwelveData, "USD/CHF", ClassForex),
		"AUDUSD": route(FeedTwelveData, "AUD/USD", ClassForex),
		"USDCAD": route(FeedTwelveData, "USD/CAD", ClassForex),
		"NZDUSD": route(FeedTwelveData, "NZD/USD", ClassForex),
		"XAUUSD": route(FeedTwelveData, "XAU/USD", ClassMetal),
		"XAGUSD": route(FeedTwelveData, "XAG/USD", ClassMetal),
		"BTCUSD": route(FeedTwelveData, "BTC/USD", ClassCrypto),
		"ETHUSD": route(FeedTwelveData, "ETH/USD", ClassCrypto),
		"SOLUSD": route(FeedTwelveData, "SOL/USD", ClassCrypto),
		"BNBUSD": route(FeedTwelveData, "BNB/USD", ClassCrypto),
		"XRPUSD": route(FeedTwelveData, "XRP/USD", ClassCrypto),
		"US500":  route(FeedTwelveData, "SPY", ClassIndex),
		"US30":   route(FeedTwelveData, "DIA", ClassIndex),
		"US100":  route(FeedTwelveData, "QQQ", ClassIndex),
		"NAS100": route(FeedTwelveData, "QQQ", ClassIndex),
	}
	spx := route(FeedTwelveData, "SPY", ClassIndex)
	spx.Multiplier = decimal.NewFromInt(10)
	r["SPX"] = spx
	return r
}

// BinanceRoutes reroutes the crypto products to Binance USDT-M book tickers.
func BinanceRoutes(routes map[string]Route) {
	for sym, rt := range routes {
		if rt.Class != ClassCrypto {
			continue
		}
		base := strings.TrimSuffix(sym, "USD")
		routes[sym] = Route{Feed: FeedBinance, Venue: base + "USDT", Multiplier: rt.Multiplier, Class: ClassCrypto}
	}
}

// SpreadTable is the synthesized execution spread as a fraction of mid.
type SpreadTable struct {
	Forex   decimal.Decimal
	Metal   decimal.Decimal
	Crypto  decimal.Decimal
	Index   decimal.Decimal
	Symbols map[string]decimal.Decimal
}

func DefaultSpreads() SpreadTable {
	return SpreadTable{
		Forex:  decimal.RequireFromString("0.00015"),
		Metal:  decimal.RequireFromString("0.0003"),
		Crypto: decimal.RequireFromString("0.001"),
		Index:  decimal.RequireFromString("0.0002"),
	}
}

func (t SpreadTable) Pct(symbol string, class AssetClass) decimal.Decimal {
	if v, ok := t.Symbols[symbol]; ok {
		return v
	}
	switch class {
	case ClassMetal:
		return t.Metal
	case ClassCrypto:
		return t.Crypto
	case ClassIndex:
		return t.Index
	default:
		return t.Forex
	}
}

// Apply returns bid and ask straddling mid by half the spread each way.
func (t SpreadTable) Apply(symbol string, class AssetClass, mid decimal.Decimal) (bid, ask decimal.Decimal) {
	half := mid.Mul(t.Pct(symbol, class)).Div(decimal.NewFromInt(2))
	return mid.Sub(half), mid.Add(half)
}
