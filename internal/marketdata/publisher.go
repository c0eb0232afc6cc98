package marketdata

import (
	"context"
	"log/slog"
	"time"
)

// Publisher keeps quotes flowing to the bus for the symbols someone holds,
// so event-stream clients see prices move between trades. Live quotes are
// published by the Source itself; the publisher only asks for them.
type Publisher struct {
	prices   Prices
	symbols  func(ctx context.Context) ([]string, error)
	interval time.Duration
	log      *slog.Logger
}

func NewPublisher(prices Prices, symbols func(ctx context.Context) ([]string, error), interval time.Duration, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		prices:   prices,
		symbols:  symbols,
		interval: interval,
		log:      logger.With("component", "quote-publisher"),
	}
}

// Run blocks until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	if p.interval <= 0 {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick returns how many symbols were priced.
func (p *Publisher) Tick(ctx context.Context) int {
	syms, err := p.symbols(ctx)
	if err != nil {
		p.log.Warn("load symbols failed", "error", err)
		return 0
	}
	if len(syms) == 0 {
		return 0
	}
	return len(p.prices.GetPrices(ctx, syms))
}
