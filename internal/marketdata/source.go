package marketdata

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"tradearena/internal/metrics"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const fetchTimeout = 15 * time.Second

type SourceConfig struct {
	Feeds []Feed
	// Routes maps product symbols to feeds; symbols without a route go to
	// DefaultFeed under their own name.
	Routes      map[string]Route
	DefaultFeed string
	Spreads     SpreadTable
	Cache       *Cache
	LastKnown   LastKnownStore
	Bus         *Bus
	Logger      *slog.Logger
	Now         func() time.Time
}

// Source is the single price authority of the process. It never fails: a
// symbol it cannot price is simply absent from the result.
type Source struct {
	feeds       map[string]Feed
	routes      map[string]Route
	defaultFeed string
	spreads     SpreadTable
	cache       *Cache
	last        LastKnownStore
	bus         *Bus
	log         *slog.Logger
	now         func() time.Time
	group       singleflight.Group
}

func NewSource(cfg SourceConfig) *Source {
	s := &Source{
		feeds:       make(map[string]Feed, len(cfg.Feeds)),
		routes:      cfg.Routes,
		defaultFeed: cfg.DefaultFeed,
		spreads:     cfg.Spreads,
		cache:       cfg.Cache,
		last:        cfg.LastKnown,
		bus:         cfg.Bus,
		log:         cfg.Logger,
		now:         cfg.Now,
	}
	for _, f := range cfg.Feeds {
		s.feeds[f.Name()] = f
	}
	if s.routes == nil {
		s.routes = map[string]Route{}
	}
	if s.defaultFeed == "" {
		s.defaultFeed = FeedTwelveData
	}
	if s.cache == nil {
		s.cache = NewCache(10*time.Second, 8*time.Second)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "price-source")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Source) routeFor(symbol string) Route {
	if rt, ok := s.routes[symbol]; ok {
		if rt.Multiplier.IsZero() {
			rt.Multiplier = decimal.NewFromInt(1)
		}
		return rt
	}
	return Route{Feed: s.defaultFeed, Venue: symbol, Multiplier: decimal.NewFromInt(1), Class: ClassForex}
}

func (s *Source) quote(symbol string, mid decimal.Decimal, source string, at time.Time) Quote {
	rt := s.routeFor(symbol)
	bid, ask := s.spreads.Apply(symbol, rt.Class, mid)
	return Quote{Symbol: symbol, Bid: bid, Ask: ask, Mid: mid, Source: source, At: at}
}

func (s *Source) GetPrices(ctx context.Context, symbols []string) map[string]Quote {
	now := s.now()
	out := make(map[string]Quote, len(symbols))
	// feed -> venue symbol -> product symbols priced by it
	pending := make(map[string]map[string][]string)
	var fallback []string
	seen := make(map[string]bool, len(symbols))
	// callers' spellings that differ from the normalized symbol
	aliases := make(map[string][]string)
	for _, raw := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(raw))
		if sym != raw && sym != "" {
			aliases[sym] = append(aliases[sym], raw)
		}
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		q, has, state := s.cache.lookup(sym, now)
		switch {
		case state == lookupFresh:
			q.Source = SourceCache
			out[sym] = q
		case state == lookupThrottled && has:
			q.Source = SourceStaleCache
			out[sym] = q
		case state == lookupThrottled:
			fallback = append(fallback, sym)
		default:
			rt := s.routeFor(sym)
			if _, ok := s.feeds[rt.Feed]; !ok {
				if has {
					q.Source = SourceStaleCache
					out[sym] = q
				} else {
					fallback = append(fallback, sym)
				}
				continue
			}
			byVenue, ok := pending[rt.Feed]
			if !ok {
				byVenue = make(map[string][]string)
				pending[rt.Feed] = byVenue
			}
			byVenue[rt.Venue] = append(byVenue[rt.Venue], sym)
		}
	}

	var fresh []LastPrice
	for feedName, byVenue := range pending {
		mids := s.fetch(ctx, feedName, byVenue, now)
		for venue, products := range byVenue {
			venueMid, ok := mids[venue]
			for _, sym := range products {
				if ok && venueMid.IsPositive() {
					mid := venueMid.Mul(s.routeFor(sym).Multiplier)
					q := s.quote(sym, mid, SourceLive, now)
					s.cache.put(q, now)
					out[sym] = q
					fresh = append(fresh, LastPrice{Symbol: sym, Mid: mid, Source: feedName, At: now})
					continue
				}
				if q, has := s.cache.stale(sym); has {
					q.Source = SourceStaleCache
					out[sym] = q
					continue
				}
				fallback = append(fallback, sym)
			}
		}
	}

	if len(fallback) > 0 {
		s.fillFromLastKnown(ctx, fallback, out)
	}
	if len(fresh) > 0 {
		s.persist(ctx, fresh)
	}
	for _, q := range out {
		metrics.RecordPriceLookup(q.Source)
		if q.Source == SourceLive && s.bus != nil {
			s.bus.Publish(Event{Type: EventQuote, Data: q})
		}
	}
	for _, sym := range fallback {
		if _, ok := out[sym]; !ok {
			metrics.RecordPriceLookup("none")
		}
	}
	for sym, raws := range aliases {
		if q, ok := out[sym]; ok {
			for _, raw := range raws {
				out[raw] = q
			}
		}
	}
	return out
}

// fetch asks one feed for the pending venue symbols in one call. A feed with
// a credit budget gets only what it can pay for, least recently priced
// venues first; the rest stay unreserved so the next caller can try them.
// Identical concurrent requests share a single upstream call, detached from
// any one caller's cancellation.
func (s *Source) fetch(ctx context.Context, feedName string, byVenue map[string][]string, now time.Time) map[string]decimal.Decimal {
	feed := s.feeds[feedName]
	venues := make([]string, 0, len(byVenue))
	for v := range byVenue {
		venues = append(venues, v)
	}
	sort.Strings(venues)
	if b, ok := feed.(Budgeted); ok {
		n := b.Affordable(time.Now())
		if n < len(venues) {
			venues = s.byLastPriced(venues, byVenue)[:max(n, 0)]
			sort.Strings(venues)
		}
		if len(venues) == 0 {
			metrics.RecordUpstreamFetch(feedName, "throttled")
			s.log.Debug("upstream budget spent", "feed", feedName, "pending", len(byVenue))
			return nil
		}
	}
	products := make([]string, 0, len(venues))
	for _, v := range venues {
		products = append(products, byVenue[v]...)
	}
	s.cache.reserve(products, now)

	key := feedName + "|" + strings.Join(venues, ",")
	v, err, _ := s.group.Do(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return feed.Fetch(fctx, venues)
	})
	if err != nil {
		metrics.RecordUpstreamFetch(feedName, "error")
		s.log.Warn("upstream fetch failed", "feed", feedName, "venues", len(venues), "error", err)
		return nil
	}
	metrics.RecordUpstreamFetch(feedName, "ok")
	return v.(map[string]decimal.Decimal)
}

// byLastPriced orders venues so that never-priced ones come first, then the
// ones whose cached quotes are oldest.
func (s *Source) byLastPriced(venues []string, byVenue map[string][]string) []string {
	last := make(map[string]time.Time, len(venues))
	for _, v := range venues {
		var oldest time.Time
		for i, sym := range byVenue[v] {
			at, _ := s.cache.fetchedAt(sym)
			if i == 0 || at.Before(oldest) {
				oldest = at
			}
		}
		last[v] = oldest
	}
	out := append([]string(nil), venues...)
	sort.SliceStable(out, func(i, j int) bool { return last[out[i]].Before(last[out[j]]) })
	return out
}

func (s *Source) fillFromLastKnown(ctx context.Context, symbols []string, out map[string]Quote) {
	if s.last == nil {
		return
	}
	loaded, err := s.last.Load(ctx, symbols)
	if err != nil {
		s.log.Warn("last known price lookup failed", "symbols", len(symbols), "error", err)
		return
	}
	for _, sym := range symbols {
		lp, ok := loaded[sym]
		if !ok || !lp.Mid.IsPositive() {
			continue
		}
		out[sym] = s.quote(sym, lp.Mid, SourceLastKnown, lp.At)
	}
}

func (s *Source) persist(ctx context.Context, prices []LastPrice) {
	if s.last == nil {
		return
	}
	if err := s.last.Save(ctx, prices); err != nil {
		s.log.Warn("persist last known prices failed", "count", len(prices), "error", err)
	}
}
