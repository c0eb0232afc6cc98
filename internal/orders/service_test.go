package orders

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"tradearena/internal/apperr"
	"tradearena/internal/ledger"
	"tradearena/internal/ledger/memstore"
	"tradearena/internal/marketdata"
	"tradearena/internal/model"
	"tradearena/internal/risk"
	"tradearena/internal/types"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

type stubPrices struct {
	mu     sync.Mutex
	quotes map[string]marketdata.Quote
}

func (p *stubPrices) set(symbol, bid, ask string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, a := d(bid), d(ask)
	p.quotes[symbol] = marketdata.Quote{Symbol: symbol, Bid: b, Ask: a, Mid: b.Add(a).Div(decimal.NewFromInt(2)), Source: marketdata.SourceLive}
}

func (p *stubPrices) GetPrices(ctx context.Context, symbols []string) map[string]marketdata.Quote {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]marketdata.Quote)
	for _, s := range symbols {
		if q, ok := p.quotes[s]; ok {
			out[s] = q
		}
	}
	return out
}

type env struct {
	store  *memstore.Store
	prices *stubPrices
	svc    *Service
	comp   model.Competition
	eurusd model.Instrument
	btc    model.Instrument
	acc    model.Account
}

func defaultRules() model.CompetitionRules {
	return model.CompetitionRules{
		StartingBalance:   d("10000"),
		MaxLeverageGlobal: d("100"),
		MaxDrawdownPct:    d("50"),
		MaxPositionPct:    d("50"),
	}
}

func newEnv(t *testing.T, rules model.CompetitionRules, policy Policy) *env {
	t.Helper()
	store := memstore.New()
	e := &env{store: store, prices: &stubPrices{quotes: map[string]marketdata.Quote{}}}
	e.comp = store.AddCompetition(model.Competition{Name: "cup", Status: types.CompetitionStatusLive, Rules: rules})
	e.eurusd = store.AddInstrument(model.Instrument{Symbol: "EURUSD", ContractSize: d("100000")})
	e.btc = store.AddInstrument(model.Instrument{Symbol: "BTCUSD", ContractSize: d("1")})
	store.EnableInstrument(e.comp.ID, e.eurusd.ID, nil)
	store.EnableInstrument(e.comp.ID, e.btc.ID, nil)
	var err error
	if _, e.acc, err = store.Enroll(e.comp.ID, "user-1", time.Now()); err != nil {
		t.Fatal(err)
	}
	e.svc = NewService(store, e.prices, risk.NewMonitor(store, nil, nil), nil, policy, nil)
	return e
}

func (e *env) order(side types.OrderSide, inst model.Instrument, qty, leverage string) PlaceOrderRequest {
	return PlaceOrderRequest{
		UserID:        "user-1",
		CompetitionID: e.comp.ID,
		InstrumentID:  inst.ID,
		Side:          side,
		Type:          types.OrderTypeMarket,
		Quantity:      d(qty),
		Leverage:      d(leverage),
	}
}

func (e *env) account(t *testing.T) model.Account {
	t.Helper()
	acc, err := e.store.GetAccount(context.Background(), e.acc.ID)
	if err != nil {
		t.Fatal(err)
	}
	return acc
}

func (e *env) setUsedMargin(t *testing.T, used string) {
	t.Helper()
	err := e.store.InAccountTx(context.Background(), e.acc.ID, func(ctx context.Context, tx ledger.Tx) error {
		acc := tx.Account()
		acc.UsedMargin = d(used)
		return tx.UpdateAccount(ctx, acc)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMarginExample(t *testing.T) {
	e := newEnv(t, defaultRules(), Policy{})
	e.prices.set("EURUSD", "1.0848", "1.0850")
	req := e.order(types.OrderSideBuy, e.eurusd, "0.1", "50")

	e.setUsedMargin(t, "9800")
	_, err := e.svc.PlaceOrder(context.Background(), req)
	if apperr.CodeOf(err) != apperr.CodeInsufficientMargin {
		t.Fatalf("err = %v", err)
	}
	if apperr.KindOf(err) != apperr.KindRiskLimit {
		t.Fatalf("kind = %s", apperr.KindOf(err))
	}
	if want := "Insufficient margin. Required: $217.00, Available: $200.00"; err.Error() != want {
		t.Fatalf("message = %q", err.Error())
	}
	if n := len(e.store.Orders(e.acc.ID)); n != 0 {
		t.Fatalf("rejected order persisted %d rows", n)
	}

	e.setUsedMargin(t, "9700")
	res, err := e.svc.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Order.MarginUsed.Equal(d("217")) || !res.Order.FilledPrice.Equal(d("1.085")) {
		t.Fatalf("order = %+v", res.Order)
	}
	if res.Order.Status != types.OrderStatusFilled || res.Order.PriceSource != marketdata.SourceLive {
		t.Fatalf("order = %+v", res.Order)
	}
	if res.Position == nil || !res.Position.MarginUsed.Equal(d("217")) {
		t.Fatalf("position = %+v", res.Position)
	}
}

func TestSellFillsAtBid(t *testing.T) {
	e := newEnv(t, defaultRules(), Policy{})
	e.prices.set("BTCUSD", "50600", "50610")
	res, err := e.svc.PlaceOrder(context.Background(), e.order(types.OrderSideSell, e.btc, "0.1", "10"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Position.EntryPrice.Equal(d("50600")) {
		t.Fatalf("entry = %s", res.Position.EntryPrice)
	}
}

func TestPreconditionOrder(t *testing.T) {
	e := newEnv(t, defaultRules(), Policy{})
	e.prices.set("EURUSD", "1.0848", "1.0850")
	upcoming := e.store.AddCompetition(model.Competition{Status: types.CompetitionStatusUpcoming, Rules: defaultRules()})
	capped := e.store.AddInstrument(model.Instrument{Symbol: "XAUUSD", ContractSize: d("100")})
	e.store.EnableInstrument(e.comp.ID, capped.ID, dp("10"))
	orphan := e.store.AddInstrument(model.Instrument{Symbol: "GBPUSD", ContractSize: d("100000")})

	cases := []struct {
		name string
		mod  func(r *PlaceOrderRequest)
		code string
	}{
		{"bad side", func(r *PlaceOrderRequest) { r.Side = "hold" }, apperr.CodeInvalidSide},
		{"zero quantity", func(r *PlaceOrderRequest) { r.Quantity = decimal.Zero }, apperr.CodeInvalidQuantity},
		{"leverage below one", func(r *PlaceOrderRequest) { r.Leverage = d("0.5") }, apperr.CodeInvalidLeverage},
		{"bad type", func(r *PlaceOrderRequest) { r.Type = "iceberg" }, apperr.CodeInvalidOrderType},
		{"negative stop", func(r *PlaceOrderRequest) { r.StopLoss = dp("-1") }, apperr.CodeInvalidBracket},
		{"unknown competition", func(r *PlaceOrderRequest) { r.CompetitionID = "nope" }, apperr.CodeCompetitionNotFound},
		{"not live wins over instrument", func(r *PlaceOrderRequest) { r.CompetitionID = upcoming.ID }, apperr.CodeCompetitionNotLive},
		{"instrument not enabled", func(r *PlaceOrderRequest) { r.InstrumentID = orphan.ID }, apperr.CodeInstrumentNotAllowed},
		{"leverage over global", func(r *PlaceOrderRequest) { r.Leverage = d("101") }, apperr.CodeLeverageExceeded},
		{"leverage over override", func(r *PlaceOrderRequest) { r.InstrumentID = capped.ID; r.Leverage = d("20") }, apperr.CodeLeverageExceeded},
		{"not a participant", func(r *PlaceOrderRequest) { r.UserID = "stranger" }, apperr.CodeParticipantNotFound},
		{"limit without price", func(r *PlaceOrderRequest) { r.Type = types.OrderTypeLimit }, apperr.CodePriceRequired},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			req := e.order(types.OrderSideBuy, e.eurusd, "0.1", "50")
			tc.mod(&req)
			_, err := e.svc.PlaceOrder(context.Background(), req)
			if got := apperr.CodeOf(err); got != tc.code {
				t.Fatalf("code = %s (%v), want %s", got, err, tc.code)
			}
		})
	}
	if n := len(e.store.Orders(e.acc.ID)); n != 0 {
		t.Fatalf("rejected orders persisted %d rows", n)
	}
}

func TestRejectsInactiveParticipantAndFrozenAccount(t *testing.T) {
	e := newEnv(t, defaultRules(), Policy{})
	e.prices.set("EURUSD", "1.0848", "1.0850")
	req := e.order(types.OrderSideBuy, e.eurusd, "0.1", "50")

	e.store.SetAccountStatus(e.acc.ID, types.AccountStatusFrozen)
	_, err := e.svc.PlaceOrder(context.Background(), req)
	if apperr.CodeOf(err) != apperr.CodeAccountFrozen || apperr.KindOf(err) != apperr.KindState {
		t.Fatalf("frozen: %v", err)
	}

	err = e.store.InAccountTx(context.Background(), e.acc.ID, func(ctx context.Context, tx ledger.Tx) error {
		return tx.SetParticipantStatus(ctx, e.acc.ParticipantID, types.ParticipantStatusWithdrawn)
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.svc.PlaceOrder(context.Background(), req)
	if apperr.CodeOf(err) != apperr.CodeParticipantInactive {
		t.Fatalf("withdrawn: %v", err)
	}
}

func TestPendingOrderIsNotFilled(t *testing.T) {
	e := newEnv(t, defaultRules(), Policy{})
	req := e.order(types.OrderSideBuy, e.eurusd, "0.1", "50")
	req.Type = types.OrderTypeLimit
	req.RequestedPrice = dp("1.0700")

	res, err := e.svc.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Order.Status != types.OrderStatusPending || res.Order.FilledPrice != nil || res.Position != nil {
		t.Fatalf("result = %+v", res)
	}
	open, _ := e.store.ListOpenPositions(context.Background(), ledger.PositionQuery{AccountID: e.acc.ID})
	if len(open) != 0 {
		t.Fatalf("pending order opened %d positions", len(open))
	}
	if acc := e.account(t); !acc.UsedMargin.IsZero() || !acc.Balance.Equal(d("10000")) {
		t.Fatalf("account changed: %+v", acc)
	}
}

func TestPriceUnavailable(t *testing.T) {
	e := newEnv(t, defaultRules(), Policy{})
	req := e.order(types.OrderSideBuy, e.btc, "0.1", "10")
	req.ClientPriceHint = dp("50000")
	_, err := e.svc.PlaceOrder(context.Background(), req)
	if apperr.CodeOf(err) != apperr.CodePriceUnavailable || apperr.KindOf(err) != apperr.KindUpstream {
		t.Fatalf("err = %v", err)
	}
	if n := len(e.store.Orders(e.acc.ID)); n != 0 {
		t.Fatalf("persisted %d orders", n)
	}

	hinted := newEnv(t, defaultRules(), Policy{OpenWithClientHint: true})
	req = hinted.order(types.OrderSideBuy, hinted.btc, "0.1", "10")
	req.ClientPriceHint = dp("50000")
	res, err := hinted.svc.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Order.PriceSource != marketdata.SourceClientHint || !res.Order.FilledPrice.Equal(d("50005")) {
		t.Fatalf("order = %+v", res.Order)
	}
}

func TestPositionSizeLimit(t *testing.T) {
	rules := defaultRules()
	rules.MaxPositionPct = d("1")
	e := newEnv(t, rules, Policy{})
	e.prices.set("BTCUSD", "49990", "50000")
	_, err := e.svc.PlaceOrder(context.Background(), e.order(types.OrderSideBuy, e.btc, "1", "100"))
	if apperr.CodeOf(err) != apperr.CodePositionSizeLimit {
		t.Fatalf("err = %v", err)
	}
	if want := "Position margin exceeds maximum allowed (1% of starting balance = $100.00)"; err.Error() != want {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestAlwaysNewNeverNets(t *testing.T) {
	e := newEnv(t, defaultRules(), Policy{})
	e.prices.set("BTCUSD", "99", "100")
	for _, side := range []types.OrderSide{types.OrderSideBuy, types.OrderSideSell} {
		if _, err := e.svc.PlaceOrder(context.Background(), e.order(side, e.btc, "1", "10")); err != nil {
			t.Fatal(err)
		}
	}
	open, _ := e.store.ListOpenPositions(context.Background(), ledger.PositionQuery{AccountID: e.acc.ID})
	if len(open) != 2 {
		t.Fatalf("open positions = %d", len(open))
	}
	if n := len(e.store.Trades(e.acc.ID)); n != 0 {
		t.Fatalf("trades = %d", n)
	}
}

func netted(req PlaceOrderRequest) PlaceOrderRequest {
	req.Netting = types.NettingAgainstExisting
	return req
}

func TestNettingSameSideBlendsEntry(t *testing.T) {
	e := newEnv(t, defaultRules(), Policy{})
	e.prices.set("BTCUSD", "99", "100")
	if _, err := e.svc.PlaceOrder(context.Background(), netted(e.order(types.OrderSideBuy, e.btc, "1", "10"))); err != nil {
		t.Fatal(err)
	}
	e.prices.set("BTCUSD", "109", "110")
	res, err := e.svc.PlaceOrder(context.Background(), netted(e.order(types.OrderSideBuy, e.btc, "1", "10")))
	if err != nil {
		t.Fatal(err)
	}
	p := res.Position
	if !p.Quantity.Equal(d("2")) || !p.EntryPrice.Equal(d("105")) || !p.MarginUsed.Equal(d("21")) {
		t.Fatalf("position = %+v", p)
	}
	if !res.Account.UsedMargin.Equal(d("21")) {
		t.Fatalf("used margin = %s", res.Account.UsedMargin)
	}
}

func TestNettingFlipClosesAndOpensRemainder(t *testing.T) {
	e := newEnv(t, defaultRules(), Policy{})
	e.prices.set("BTCUSD", "99", "100")
	first, err := e.svc.PlaceOrder(context.Background(), netted(e.order(types.OrderSideBuy, e.btc, "1", "10")))
	if err != nil {
		t.Fatal(err)
	}
	e.prices.set("BTCUSD", "109", "110")
	res, err := e.svc.PlaceOrder(context.Background(), netted(e.order(types.OrderSideSell, e.btc, "3", "10")))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 1 || !res.Trades[0].RealizedPnl.Equal(d("9")) || res.Trades[0].CloseReason != types.CloseReasonNetted {
		t.Fatalf("trades = %+v", res.Trades)
	}
	if old, _ := e.store.Position(first.Position.ID); old.Status != types.PositionStatusClosed {
		t.Fatalf("old position status = %s", old.Status)
	}
	p := res.Position
	if p.ID == first.Position.ID || p.Side != types.OrderSideSell || !p.Quantity.Equal(d("2")) || !p.MarginUsed.Equal(d("21.8")) {
		t.Fatalf("remainder = %+v", p)
	}
	if !res.Order.MarginUsed.Equal(d("21.8")) {
		t.Fatalf("order margin = %s", res.Order.MarginUsed)
	}
	acc := e.account(t)
	if !acc.Balance.Equal(d("10009")) || !acc.UsedMargin.Equal(d("21.8")) {
		t.Fatalf("account = %+v", acc)
	}
}

func TestNettingExactCloseFlattens(t *testing.T) {
	e := newEnv(t, defaultRules(), Policy{})
	e.prices.set("BTCUSD", "99", "100")
	first, _ := e.svc.PlaceOrder(context.Background(), netted(e.order(types.OrderSideBuy, e.btc, "1", "10")))
	res, err := e.svc.PlaceOrder(context.Background(), netted(e.order(types.OrderSideSell, e.btc, "1", "10")))
	if err != nil {
		t.Fatal(err)
	}
	if res.Position.ID != first.Position.ID || res.Position.Status != types.PositionStatusClosed {
		t.Fatalf("position = %+v", res.Position)
	}
	if !res.Order.MarginUsed.IsZero() {
		t.Fatalf("order margin = %s", res.Order.MarginUsed)
	}
	if acc := e.account(t); !acc.UsedMargin.IsZero() || !acc.Balance.Equal(d("9999")) {
		t.Fatalf("account = %+v", acc)
	}
}

func TestNettingPartialReduce(t *testing.T) {
	e := newEnv(t, defaultRules(), Policy{})
	e.prices.set("BTCUSD", "99", "100")
	first, _ := e.svc.PlaceOrder(context.Background(), netted(e.order(types.OrderSideBuy, e.btc, "2", "10")))
	e.prices.set("BTCUSD", "109", "110")
	res, err := e.svc.PlaceOrder(context.Background(), netted(e.order(types.OrderSideSell, e.btc, "0.5", "10")))
	if err != nil {
		t.Fatal(err)
	}
	p := res.Position
	if p.ID != first.Position.ID || !p.Quantity.Equal(d("1.5")) || !p.MarginUsed.Equal(d("15")) || !p.RealizedPnl.Equal(d("4.5")) {
		t.Fatalf("position = %+v", p)
	}
	if !res.Order.MarginUsed.IsZero() {
		t.Fatalf("reduce committed margin %s", res.Order.MarginUsed)
	}
	open, _ := e.store.ListOpenPositions(context.Background(), ledger.PositionQuery{AccountID: e.acc.ID})
	if len(open) != 1 {
		t.Fatalf("open positions = %d", len(open))
	}
	if acc := e.account(t); !acc.Balance.Equal(d("10004.5")) || !acc.UsedMargin.Equal(d("15")) {
		t.Fatalf("account = %+v", acc)
	}
}

func TestLedgerInvariantsAcrossFills(t *testing.T) {
	e := newEnv(t, defaultRules(), Policy{})
	steps := []struct {
		bid, ask string
		side     types.OrderSide
		qty      string
		policy   types.NettingPolicy
	}{
		{"99", "100", types.OrderSideBuy, "2", types.NettingAlwaysNew},
		{"104", "105", types.OrderSideBuy, "1", types.NettingAgainstExisting},
		{"90", "91", types.OrderSideSell, "1", types.NettingAgainstExisting},
		{"95", "96", types.OrderSideSell, "4", types.NettingAgainstExisting},
		{"120", "121", types.OrderSideBuy, "0.5", types.NettingAlwaysNew},
		{"80", "81", types.OrderSideBuy, "3", types.NettingAgainstExisting},
	}
	prev := e.account(t)
	for i, st := range steps {
		e.prices.set("BTCUSD", st.bid, st.ask)
		req := e.order(st.side, e.btc, st.qty, "10")
		req.Netting = st.policy
		if _, err := e.svc.PlaceOrder(context.Background(), req); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		acc := e.account(t)
		open, _ := e.store.ListOpenPositions(context.Background(), ledger.PositionQuery{AccountID: e.acc.ID})
		used, unrealized := decimal.Zero, decimal.Zero
		for _, op := range open {
			used = used.Add(op.Position.MarginUsed)
			unrealized = unrealized.Add(op.Position.UnrealizedPnl)
		}
		if !acc.UsedMargin.Equal(used) {
			t.Fatalf("step %d: used margin %s != Σ %s", i, acc.UsedMargin, used)
		}
		if !acc.Equity.Equal(acc.Balance.Add(unrealized)) {
			t.Fatalf("step %d: equity %s != balance %s + %s", i, acc.Equity, acc.Balance, unrealized)
		}
		if acc.PeakEquity.LessThan(prev.PeakEquity) || acc.MaxDrawdownPct.LessThan(prev.MaxDrawdownPct) {
			t.Fatalf("step %d: peak/drawdown moved down", i)
		}
		prev = acc
	}
}

func TestFillThatBreachesDrawdownReportsDisqualification(t *testing.T) {
	rules := defaultRules()
	rules.MaxDrawdownPct = d("0.1")
	e := newEnv(t, rules, Policy{})
	e.prices.set("BTCUSD", "99", "100")
	if _, err := e.svc.PlaceOrder(context.Background(), netted(e.order(types.OrderSideBuy, e.btc, "1", "1"))); err != nil {
		t.Fatal(err)
	}
	e.prices.set("BTCUSD", "80", "81")
	res, err := e.svc.PlaceOrder(context.Background(), netted(e.order(types.OrderSideSell, e.btc, "1", "1")))
	if err != nil {
		t.Fatalf("fill must stand: %v", err)
	}
	if !res.Disqualified || res.Order.Status != types.OrderStatusFilled {
		t.Fatalf("result = %+v", res)
	}
	if !strings.HasPrefix(res.Reason, "Maximum drawdown exceeded: 0.20%") {
		t.Fatalf("reason = %q", res.Reason)
	}
	if acc := e.account(t); acc.Status != types.AccountStatusFrozen {
		t.Fatalf("account status = %s", acc.Status)
	}
	if p, _ := e.store.Participant(e.acc.ParticipantID); p.Status != types.ParticipantStatusDisqualified {
		t.Fatalf("participant status = %s", p.Status)
	}

	_, err = e.svc.PlaceOrder(context.Background(), e.order(types.OrderSideBuy, e.btc, "0.1", "1"))
	if apperr.KindOf(err) != apperr.KindState {
		t.Fatalf("order after disqualification: %v", err)
	}
}
