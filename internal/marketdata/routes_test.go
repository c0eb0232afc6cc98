package marketdata

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSpreadTiers(t *testing.T) {
	tbl := DefaultSpreads()
	routes := DefaultRoutes()
	cases := map[string]string{
		"EURUSD": "0.00015",
		"XAUUSD": "0.0003",
		"BTCUSD": "0.001",
		"US30":   "0.0002",
	}
	for sym, want := range cases {
		if got := tbl.Pct(sym, routes[sym].Class); !got.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("%s spread = %s, want %s", sym, got, want)
		}
	}
	tbl.Symbols = map[string]decimal.Decimal{"EURUSD": decimal.Zero}
	bid, ask := tbl.Apply("EURUSD", ClassForex, decimal.RequireFromString("1.1"))
	if !bid.Equal(ask) {
		t.Fatalf("override ignored: bid=%s ask=%s", bid, ask)
	}
}

func TestBinanceRoutesOnlyTouchCrypto(t *testing.T) {
	routes := DefaultRoutes()
	BinanceRoutes(routes)
	if rt := routes["ETHUSD"]; rt.Feed != FeedBinance || rt.Venue != "ETHUSDT" {
		t.Fatalf("ETHUSD = %+v", rt)
	}
	if rt := routes["EURUSD"]; rt.Feed != FeedTwelveData {
		t.Fatalf("EURUSD = %+v", rt)
	}
	if !routes["SPX"].Multiplier.Equal(decimal.NewFromInt(10)) {
		t.Fatal("SPX multiplier lost")
	}
}
