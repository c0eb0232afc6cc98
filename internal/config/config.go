package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPAddr          string
	LedgerDriver      string
	DBDSN             string
	JWTIssuer         string
	JWTSecret         string
	JWTTTL            time.Duration
	InternalTokenHash string
	WebSocketOrigin   string
	TwelveDataAPIKey  string
	TwelveDataURL     string
	BinanceEnabled    bool
	PriceStorePath    string
	FixturesPath      string
	RedisAddr         string
	RedisPassword     string
	SLTPSweepInterval time.Duration
	MarkSweepInterval time.Duration
	LogLevel          slog.Level
	EngineConfigPath  string
	Engine            Engine
}

func Load() (Config, error) {
	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.LedgerDriver = strings.ToLower(strings.TrimSpace(os.Getenv("LEDGER_DRIVER")))
	if c.LedgerDriver == "" {
		c.LedgerDriver = DriverPostgres
	}
	if c.LedgerDriver != DriverPostgres && c.LedgerDriver != DriverMemory {
		return c, errors.New("invalid LEDGER_DRIVER: use postgres or memory")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	if c.DBDSN == "" && c.LedgerDriver == DriverPostgres {
		missing = append(missing, "DB_DSN")
	}
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	c.InternalTokenHash = os.Getenv("INTERNAL_TOKEN_HASH")
	if c.InternalTokenHash == "" {
		missing = append(missing, "INTERNAL_TOKEN_HASH")
	}
	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}

	var err error
	if c.JWTTTL, err = duration("JWT_TTL", 24*time.Hour); err != nil {
		return c, err
	}
	if c.SLTPSweepInterval, err = duration("SLTP_SWEEP_INTERVAL", 5*time.Second); err != nil {
		return c, err
	}
	if c.MarkSweepInterval, err = duration("MARK_SWEEP_INTERVAL", 30*time.Second); err != nil {
		return c, err
	}
	c.WebSocketOrigin = os.Getenv("WS_ORIGIN")
	c.TwelveDataAPIKey = os.Getenv("TWELVE_DATA_API_KEY")
	c.TwelveDataURL = os.Getenv("TWELVE_DATA_URL")
	if c.TwelveDataURL == "" {
		c.TwelveDataURL = "https://api.twelvedata.com"
	}
	if raw := os.Getenv("BINANCE_ENABLED"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return c, fmt.Errorf("invalid BINANCE_ENABLED: %w", err)
		}
		c.BinanceEnabled = b
	}
	c.PriceStorePath = os.Getenv("PRICE_STORE_PATH")
	c.FixturesPath = os.Getenv("FIXTURES_PATH")
	c.RedisAddr = os.Getenv("REDIS_ADDR")
	c.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if err := c.LogLevel.UnmarshalText([]byte(raw)); err != nil {
			return c, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
	}

	c.Engine = DefaultEngine()
	c.EngineConfigPath = os.Getenv("ENGINE_CONFIG")
	if c.EngineConfigPath != "" {
		if c.Engine, err = LoadEngine(c.EngineConfigPath); err != nil {
			return c, err
		}
	}
	return c, nil
}

func duration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
