package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const defaultTwelveDataURL = "https://api.twelvedata.com"

// TwelveDataFeed prices venue symbols through the Twelve Data /price
// endpoint. Each symbol costs one API credit. A batch larger than the
// credits on hand is cut down to what they cover; with none left the fetch
// is refused instead of queued.
type TwelveDataFeed struct {
	baseURL string
	apiKey  string
	client  *http.Client
	credits *rate.Limiter
}

func NewTwelveDataFeed(baseURL, apiKey string, creditsPerMinute int) *TwelveDataFeed {
	if baseURL == "" {
		baseURL = defaultTwelveDataURL
	}
	if creditsPerMinute <= 0 {
		creditsPerMinute = 8
	}
	return &TwelveDataFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		credits: rate.NewLimiter(rate.Limit(float64(creditsPerMinute)/60), creditsPerMinute),
	}
}

func (f *TwelveDataFeed) Name() string { return FeedTwelveData }

// Affordable reports how many symbols the credits on hand pay for.
func (f *TwelveDataFeed) Affordable(now time.Time) int {
	n := int(f.credits.TokensAt(now))
	return max(min(n, f.credits.Burst()), 0)
}

type tdPrice struct {
	Price   string `json:"price"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (f *TwelveDataFeed) Fetch(ctx context.Context, venues []string) (map[string]decimal.Decimal, error) {
	if len(venues) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	now := time.Now()
	n := min(len(venues), f.Affordable(now))
	for n > 0 && !f.credits.AllowN(now, n) {
		n--
	}
	if n == 0 {
		return nil, ErrRateLimited
	}
	venues = venues[:n]
	q := url.Values{}
	q.Set("symbol", strings.Join(venues, ","))
	q.Set("apikey", f.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/price?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twelve data request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("twelve data status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return parseTwelveData(venues, body)
}

// parseTwelveData handles both response shapes: a bare {"price": ...} for a
// single symbol and {"EUR/USD": {"price": ...}, ...} for a batch.
func parseTwelveData(venues []string, body []byte) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(venues))
	if len(venues) == 1 {
		var p tdPrice
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode twelve data: %w", err)
		}
		if p.Status == "error" {
			return nil, fmt.Errorf("twelve data: %s", p.Message)
		}
		if v, err := decimal.NewFromString(p.Price); err == nil {
			out[venues[0]] = v
		}
		return out, nil
	}
	var batch map[string]json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("decode twelve data: %w", err)
	}
	if raw, ok := batch["status"]; ok && string(raw) == `"error"` {
		var p tdPrice
		_ = json.Unmarshal(body, &p)
		return nil, fmt.Errorf("twelve data: %s", p.Message)
	}
	for _, v := range venues {
		raw, ok := batch[v]
		if !ok {
			continue
		}
		var p tdPrice
		if err := json.Unmarshal(raw, &p); err != nil || p.Status == "error" {
			continue
		}
		if price, err := decimal.NewFromString(p.Price); err == nil {
			out[v] = price
		}
	}
	return out, nil
}
