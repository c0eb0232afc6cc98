package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tradearena/internal/apperr"
	"tradearena/internal/ledger"
	"tradearena/internal/margin"
	"tradearena/internal/marketdata"
	"tradearena/internal/metrics"
	"tradearena/internal/model"
	"tradearena/internal/risk"
	"tradearena/internal/types"

	"github.com/shopspring/decimal"
)

// Policy holds the engine switches loaded from ENGINE_CONFIG.
type Policy struct {
	DefaultNetting types.NettingPolicy
	// OpenWithClientHint lets a market order fill at the client's price
	// when the price source has nothing at all for the instrument.
	OpenWithClientHint bool
}

type Service struct {
	store  ledger.Store
	prices marketdata.Prices
	risk   risk.Checker
	bus    *marketdata.Bus
	policy Policy
	log    *slog.Logger
	now    func() time.Time
}

func NewService(store ledger.Store, prices marketdata.Prices, checker risk.Checker, bus *marketdata.Bus, policy Policy, logger *slog.Logger) *Service {
	if !policy.DefaultNetting.Valid() {
		policy.DefaultNetting = types.NettingAlwaysNew
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		prices: prices,
		risk:   checker,
		bus:    bus,
		policy: policy,
		log:    logger.With("component", "orders"),
		now:    time.Now,
	}
}

type PlaceOrderRequest struct {
	UserID          string
	CompetitionID   string
	InstrumentID    string
	Side            types.OrderSide
	Type            types.OrderType
	Quantity        decimal.Decimal
	Leverage        decimal.Decimal
	RequestedPrice  *decimal.Decimal
	StopLoss        *decimal.Decimal
	TakeProfit      *decimal.Decimal
	ClientPriceHint *decimal.Decimal
	// Netting overrides the configured default when set.
	Netting types.NettingPolicy
}

type PlaceOrderResult struct {
	Order        model.Order     `json:"order"`
	Position     *model.Position `json:"position,omitempty"`
	Trades       []model.Trade   `json:"trades,omitempty"`
	Account      model.Account   `json:"account"`
	Disqualified bool            `json:"disqualified"`
	Reason       string          `json:"reason,omitempty"`
}

func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	start := time.Now()
	if req.Type == "" {
		req.Type = types.OrderTypeMarket
	}
	res, err := s.placeOrder(ctx, req)
	outcome := string(res.Order.Status)
	if err != nil {
		outcome = apperr.CodeOf(err)
	}
	metrics.RecordOrder(string(req.Type), outcome, time.Since(start))
	return res, err
}

func (s *Service) placeOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	if err := validateRequest(req); err != nil {
		return PlaceOrderResult{}, err
	}
	pc, err := s.resolve(ctx, req)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	if req.Type != types.OrderTypeMarket {
		return s.placePending(ctx, req, pc)
	}

	quote, err := s.fillQuote(ctx, req, pc.instrument.Symbol)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	fill := margin.FillPrice(req.Side, quote.Bid, quote.Ask)
	notional := margin.Notional(req.Quantity, pc.instrument.ContractSize, fill)
	required, err := margin.RequiredMargin(notional, req.Leverage)
	if err != nil {
		return PlaceOrderResult{}, apperr.Validation(apperr.CodeInvalidLeverage, "Leverage must be at least 1")
	}
	rules := pc.competition.Rules
	if rules.MaxPositionPct.IsPositive() {
		maxMargin := margin.PctOf(rules.MaxPositionPct, rules.StartingBalance)
		if required.GreaterThan(maxMargin) {
			return PlaceOrderResult{}, apperr.Newf(apperr.KindRiskLimit, apperr.CodePositionSizeLimit,
				"Position margin exceeds maximum allowed (%s%% of starting balance = $%s)", rules.MaxPositionPct.String(), maxMargin.StringFixed(2))
		}
	}

	netting := req.Netting
	if !netting.Valid() {
		netting = s.policy.DefaultNetting
	}
	in := fillInput{
		instrument: pc.instrument,
		side:       req.Side,
		qty:        req.Quantity,
		leverage:   req.Leverage,
		price:      fill,
		margin:     required,
		stopLoss:   req.StopLoss,
		takeProfit: req.TakeProfit,
	}

	var res PlaceOrderResult
	err = s.store.InAccountTx(ctx, pc.account.ID, func(ctx context.Context, tx ledger.Tx) error {
		acc := tx.Account()
		if err := ledger.RequireActive(acc); err != nil {
			return err
		}
		free := margin.FreeMargin(acc.Equity, acc.UsedMargin)
		if required.GreaterThan(free) {
			return apperr.Newf(apperr.KindRiskLimit, apperr.CodeInsufficientMargin,
				"Insufficient margin. Required: $%s, Available: $%s", required.StringFixed(2), free.StringFixed(2))
		}
		now := s.now()
		in.now = now
		out, err := strategyFor(netting)(ctx, tx, &acc, in)
		if err != nil {
			return err
		}
		order := model.Order{
			InstrumentID: pc.instrument.ID,
			Side:         req.Side,
			Type:         types.OrderTypeMarket,
			Quantity:     req.Quantity,
			Leverage:     req.Leverage,
			FilledPrice:  &fill,
			MarginUsed:   out.margin,
			StopLoss:     req.StopLoss,
			TakeProfit:   req.TakeProfit,
			Status:       types.OrderStatusFilled,
			PriceSource:  quote.Source,
			CreatedAt:    now,
			FilledAt:     &now,
		}
		if out.position != nil {
			order.PositionID = out.position.ID
		}
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		acc, err = ledger.Settle(ctx, tx, acc, now)
		if err != nil {
			return err
		}
		res = PlaceOrderResult{Order: order, Position: out.position, Trades: out.trades, Account: acc}
		return nil
	})
	if err != nil {
		return PlaceOrderResult{}, err
	}

	s.bus.Publish(marketdata.Event{Type: marketdata.EventOrderFilled, UserID: req.UserID, Data: res})
	s.afterCommit(ctx, &res, "order:"+res.Order.ID)
	return res, nil
}

// afterCommit runs the drawdown check on the committed ledger. A failed
// check is logged; the fill already stands.
func (s *Service) afterCommit(ctx context.Context, res *PlaceOrderResult, event string) {
	if s.risk == nil {
		return
	}
	v, err := s.risk.Check(ctx, res.Account.ID, event)
	if err != nil {
		s.log.Error("risk check failed", "account", res.Account.ID, "event", event, "error", err)
		return
	}
	if v.Disqualified {
		res.Disqualified = true
		res.Reason = v.Reason
		res.Account.Status = types.AccountStatusFrozen
	}
}

// placePending records a limit or stop order. Pending orders are never
// filled by the engine.
func (s *Service) placePending(ctx context.Context, req PlaceOrderRequest, pc orderContext) (PlaceOrderResult, error) {
	if req.RequestedPrice == nil || !req.RequestedPrice.IsPositive() {
		return PlaceOrderResult{}, apperr.Validation(apperr.CodePriceRequired, fmt.Sprintf("requested_price is required for %s orders", req.Type))
	}
	var res PlaceOrderResult
	err := s.store.InAccountTx(ctx, pc.account.ID, func(ctx context.Context, tx ledger.Tx) error {
		acc := tx.Account()
		if err := ledger.RequireActive(acc); err != nil {
			return err
		}
		order := model.Order{
			InstrumentID:   pc.instrument.ID,
			Side:           req.Side,
			Type:           req.Type,
			Quantity:       req.Quantity,
			Leverage:       req.Leverage,
			RequestedPrice: req.RequestedPrice,
			StopLoss:       req.StopLoss,
			TakeProfit:     req.TakeProfit,
			Status:         types.OrderStatusPending,
			CreatedAt:      s.now(),
		}
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		res = PlaceOrderResult{Order: order, Account: acc}
		return nil
	})
	if err != nil {
		return PlaceOrderResult{}, err
	}
	s.bus.Publish(marketdata.Event{Type: marketdata.EventOrderPending, UserID: req.UserID, Data: res.Order})
	return res, nil
}

func (s *Service) fillQuote(ctx context.Context, req PlaceOrderRequest, symbol string) (marketdata.Quote, error) {
	if q, ok := s.prices.GetPrices(ctx, []string{symbol})[symbol]; ok && q.Bid.IsPositive() && q.Ask.IsPositive() {
		return q, nil
	}
	if s.policy.OpenWithClientHint && req.ClientPriceHint != nil && req.ClientPriceHint.IsPositive() {
		s.log.Warn("filling at client price", "symbol", symbol, "price", req.ClientPriceHint.String())
		return marketdata.ClientHintQuote(symbol, *req.ClientPriceHint, s.now()), nil
	}
	return marketdata.Quote{}, apperr.Upstream(apperr.CodePriceUnavailable, fmt.Sprintf("Price unavailable for %s", symbol))
}

func validateRequest(req PlaceOrderRequest) error {
	if req.CompetitionID == "" || req.InstrumentID == "" {
		return apperr.Validation(apperr.CodeMissingField, "competition_id and instrument_id are required")
	}
	if !req.Side.Valid() {
		return apperr.Validation(apperr.CodeInvalidSide, "side must be buy or sell")
	}
	if !req.Type.Valid() {
		return apperr.Validation(apperr.CodeInvalidOrderType, "order_type must be market, limit or stop")
	}
	if !req.Quantity.IsPositive() {
		return apperr.Validation(apperr.CodeInvalidQuantity, "quantity must be positive")
	}
	if req.Leverage.LessThan(decimal.NewFromInt(1)) {
		return apperr.Validation(apperr.CodeInvalidLeverage, "Leverage must be at least 1")
	}
	if req.StopLoss != nil && !req.StopLoss.IsPositive() {
		return apperr.Validation(apperr.CodeInvalidBracket, "stop_loss must be positive")
	}
	if req.TakeProfit != nil && !req.TakeProfit.IsPositive() {
		return apperr.Validation(apperr.CodeInvalidBracket, "take_profit must be positive")
	}
	return nil
}
