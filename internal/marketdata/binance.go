package marketdata

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

// BinanceFeed prices crypto venues from Binance USDT-M book tickers. Public
// market data needs no credentials.
type BinanceFeed struct {
	client *futures.Client
}

func NewBinanceFeed() *BinanceFeed {
	return &BinanceFeed{client: futures.NewClient("", "")}
}

func (f *BinanceFeed) Name() string { return FeedBinance }

func (f *BinanceFeed) Fetch(ctx context.Context, venues []string) (map[string]decimal.Decimal, error) {
	want := make(map[string]bool, len(venues))
	for _, v := range venues {
		want[v] = true
	}
	svc := f.client.NewListBookTickersService()
	if len(venues) == 1 {
		svc = svc.Symbol(venues[0])
	}
	tickers, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance book tickers: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(venues))
	for _, t := range tickers {
		if !want[t.Symbol] {
			continue
		}
		bid, errBid := decimal.NewFromString(t.BidPrice)
		ask, errAsk := decimal.NewFromString(t.AskPrice)
		if errBid != nil || errAsk != nil || !bid.IsPositive() || !ask.IsPositive() {
			continue
		}
		out[t.Symbol] = bid.Add(ask).Div(decimal.NewFromInt(2))
	}
	return out, nil
}
