package httpserver

import (
	"net/http"

	"tradearena/internal/auth"
	"tradearena/internal/health"
	"tradearena/internal/marketdata"
	"tradearena/internal/orders"
	"tradearena/internal/positions"
	"tradearena/internal/triggers"

	"github.com/go-chi/chi/v5"
)

type RouterDeps struct {
	AuthService       *auth.Service
	AuthHandler       *auth.Handler
	OrderHandler      *orders.Handler
	PositionHandler   *positions.Handler
	MarketHandler     *marketdata.Handler
	TriggerHandler    *triggers.Handler
	HealthHandler     *health.Handler
	WSHandler         http.Handler
	MetricsHandler    http.Handler
	Limiter           *RateLimiter
	InternalTokenHash string
	AllowedOrigin     string
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(cors(d.AllowedOrigin))
	r.Use(SecurityHeaders)
	if d.Limiter != nil {
		r.Use(d.Limiter.Middleware)
	}

	r.Get("/health", d.HealthHandler.Ready)
	r.Get("/health/live", d.HealthHandler.Live)
	if d.MetricsHandler != nil {
		r.Handle("/metrics", d.MetricsHandler)
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/ws", d.WSHandler.ServeHTTP)
		r.Get("/market/prices", d.MarketHandler.Prices)
		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Get("/me", authed(d.AuthHandler.Me))
			r.Post("/orders", authed(d.OrderHandler.Place))
			r.Post("/positions/close", authed(d.PositionHandler.Close))
			r.Post("/positions/brackets", authed(d.PositionHandler.Brackets))
			r.Get("/competitions/{id}/account", authed(d.PositionHandler.Account))
		})
		r.Route("/internal", func(r chi.Router) {
			r.Use(InternalAuth(d.InternalTokenHash))
			r.Post("/sweeps/sltp", d.TriggerHandler.SLTP)
			r.Post("/sweeps/mark", d.TriggerHandler.Mark)
			r.Post("/tokens", d.AuthHandler.Issue)
			r.Get("/health", d.HealthHandler.Full)
		})
	})
	return r
}

func cors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if reqOrigin := r.Header.Get("Origin"); reqOrigin != "" && allowOrigin(r, origin) {
				w.Header().Set("Access-Control-Allow-Origin", reqOrigin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
