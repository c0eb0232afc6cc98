package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"tradearena/internal/marketdata"
	"tradearena/internal/types"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Engine holds the trading policy knobs read from ENGINE_CONFIG. Keys absent
// from the file keep their defaults.
type Engine struct {
	NettingDefault     types.NettingPolicy `yaml:"netting_default"`
	AllowFrozenUnwind  bool                `yaml:"allow_frozen_unwind"`
	OpenWithClientHint bool                `yaml:"open_with_client_hint"`
	CloseFallback      CloseFallback       `yaml:"close_fallback"`
	Price              Price               `yaml:"price"`
	Sweep              Sweep               `yaml:"sweep"`
}

type CloseFallback struct {
	ClientHint bool `yaml:"client_hint"`
	EntryPrice bool `yaml:"entry_price"`
}

type Price struct {
	TTL                      time.Duration          `yaml:"ttl"`
	MinFetchInterval         time.Duration          `yaml:"min_fetch_interval"`
	UpstreamCreditsPerMinute int                    `yaml:"upstream_credits_per_minute"`
	Spreads                  Spreads                `yaml:"spreads"`
	Routes                   map[string]RouteConfig `yaml:"routes"`
}

// Spreads are fractions of mid, e.g. "0.00015".
type Spreads struct {
	Forex   string            `yaml:"forex"`
	Metal   string            `yaml:"metal"`
	Crypto  string            `yaml:"crypto"`
	Index   string            `yaml:"index"`
	Symbols map[string]string `yaml:"symbols"`
}

type RouteConfig struct {
	Feed       string `yaml:"feed"`
	Venue      string `yaml:"venue"`
	Multiplier string `yaml:"multiplier"`
	Class      string `yaml:"class"`
}

type Sweep struct {
	Concurrency int `yaml:"concurrency"`
}

func DefaultEngine() Engine {
	return Engine{
		NettingDefault: types.NettingAlwaysNew,
		CloseFallback:  CloseFallback{ClientHint: true, EntryPrice: true},
		Price: Price{
			TTL:                      10 * time.Second,
			MinFetchInterval:         8 * time.Second,
			UpstreamCreditsPerMinute: 8,
		},
		Sweep: Sweep{Concurrency: 8},
	}
}

func LoadEngine(path string) (Engine, error) {
	e := DefaultEngine()
	raw, err := os.ReadFile(path)
	if err != nil {
		return e, fmt.Errorf("read engine config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &e); err != nil {
		return e, fmt.Errorf("parse engine config: %w", err)
	}
	if err := e.Validate(); err != nil {
		return e, err
	}
	return e, nil
}

func (e Engine) Validate() error {
	if !e.NettingDefault.Valid() {
		return fmt.Errorf("invalid netting_default %q", e.NettingDefault)
	}
	if e.Price.TTL <= 0 || e.Price.MinFetchInterval < 0 {
		return fmt.Errorf("invalid price ttl/min_fetch_interval")
	}
	if e.Sweep.Concurrency <= 0 {
		return fmt.Errorf("sweep concurrency must be positive")
	}
	if _, err := e.SpreadTable(); err != nil {
		return err
	}
	if err := e.ApplyRoutes(marketdata.DefaultRoutes()); err != nil {
		return err
	}
	return nil
}

// SpreadTable overlays the configured spreads on the built-in ones.
func (e Engine) SpreadTable() (marketdata.SpreadTable, error) {
	t := marketdata.DefaultSpreads()
	classes := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"forex", e.Price.Spreads.Forex, &t.Forex},
		{"metal", e.Price.Spreads.Metal, &t.Metal},
		{"crypto", e.Price.Spreads.Crypto, &t.Crypto},
		{"index", e.Price.Spreads.Index, &t.Index},
	}
	for _, c := range classes {
		v, set, err := fraction(c.name, c.raw)
		if err != nil {
			return t, err
		}
		if set {
			*c.dst = v
		}
	}
	if len(e.Price.Spreads.Symbols) > 0 {
		t.Symbols = make(map[string]decimal.Decimal, len(e.Price.Spreads.Symbols))
		for sym, raw := range e.Price.Spreads.Symbols {
			v, _, err := fraction(sym, raw)
			if err != nil {
				return t, err
			}
			t.Symbols[strings.ToUpper(sym)] = v
		}
	}
	return t, nil
}

func fraction(name, raw string) (decimal.Decimal, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, false, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil || v.IsNegative() || v.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, false, fmt.Errorf("invalid spread for %s: %q", name, raw)
	}
	return v, true, nil
}

// ApplyRoutes adds or replaces product routes in routes.
func (e Engine) ApplyRoutes(routes map[string]marketdata.Route) error {
	for sym, rc := range e.Price.Routes {
		feed := strings.TrimSpace(rc.Feed)
		if feed != marketdata.FeedTwelveData && feed != marketdata.FeedBinance {
			return fmt.Errorf("route %s: unknown feed %q", sym, rc.Feed)
		}
		if strings.TrimSpace(rc.Venue) == "" {
			return fmt.Errorf("route %s: venue required", sym)
		}
		mult := decimal.NewFromInt(1)
		if rc.Multiplier != "" {
			m, err := decimal.NewFromString(rc.Multiplier)
			if err != nil || !m.IsPositive() {
				return fmt.Errorf("route %s: invalid multiplier %q", sym, rc.Multiplier)
			}
			mult = m
		}
		class := marketdata.AssetClass(strings.ToLower(rc.Class))
		switch class {
		case marketdata.ClassForex, marketdata.ClassMetal, marketdata.ClassCrypto, marketdata.ClassIndex:
		case "":
			class = marketdata.ClassForex
		default:
			return fmt.Errorf("route %s: unknown class %q", sym, rc.Class)
		}
		routes[strings.ToUpper(sym)] = marketdata.Route{Feed: feed, Venue: rc.Venue, Multiplier: mult, Class: class}
	}
	return nil
}
