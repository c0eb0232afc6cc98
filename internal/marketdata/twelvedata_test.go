package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTwelveDataBatchResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/price" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "EUR/USD,BTC/USD" {
			t.Errorf("symbol = %q", got)
		}
		if r.URL.Query().Get("apikey") != "k" {
			t.Errorf("missing api key")
		}
		w.Write([]byte(`{"EUR/USD":{"price":"1.08500"},"BTC/USD":{"code":400,"message":"bad","status":"error"}}`))
	}))
	defer srv.Close()

	feed := NewTwelveDataFeed(srv.URL, "k", 60)
	got, err := feed.Fetch(context.Background(), []string{"EUR/USD", "BTC/USD"})
	if err != nil {
		t.Fatal(err)
	}
	if !got["EUR/USD"].Equal(decimal.RequireFromString("1.085")) {
		t.Fatalf("EUR/USD = %s", got["EUR/USD"])
	}
	if _, ok := got["BTC/USD"]; ok {
		t.Fatal("errored symbol must be absent")
	}
}

func TestTwelveDataSingleResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price":"2350.10"}`))
	}))
	defer srv.Close()
	got, err := NewTwelveDataFeed(srv.URL, "k", 60).Fetch(context.Background(), []string{"XAU/USD"})
	if err != nil {
		t.Fatal(err)
	}
	if !got["XAU/USD"].Equal(decimal.RequireFromString("2350.1")) {
		t.Fatalf("XAU/USD = %s", got["XAU/USD"])
	}
}

func TestTwelveDataErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":429,"message":"out of credits","status":"error"}`))
	}))
	defer srv.Close()
	if _, err := NewTwelveDataFeed(srv.URL, "k", 60).Fetch(context.Background(), []string{"A", "B"}); err == nil {
		t.Fatal("expected upstream error")
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusBadGateway)
	}))
	defer down.Close()
	if _, err := NewTwelveDataFeed(down.URL, "k", 60).Fetch(context.Background(), []string{"A"}); err == nil {
		t.Fatal("expected status error")
	}
}

func TestTwelveDataRefusesWithoutCredits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price":"1"}`))
	}))
	defer srv.Close()
	feed := NewTwelveDataFeed(srv.URL, "k", 2)
	if _, err := feed.Fetch(context.Background(), []string{"A", "B"}); err != nil {
		t.Fatal(err)
	}
	if _, err := feed.Fetch(context.Background(), []string{"A"}); err != ErrRateLimited {
		t.Fatalf("err = %v", err)
	}
}

func TestTwelveDataBatchLargerThanCredits(t *testing.T) {
	var sent []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sent = strings.Split(r.URL.Query().Get("symbol"), ",")
		body := map[string]tdPrice{}
		for _, s := range sent {
			body[s] = tdPrice{Price: "1.5"}
		}
		json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	venues := []string{"EUR/USD", "GBP/USD", "USD/JPY", "AUD/USD", "USD/CAD", "USD/CHF", "NZD/USD", "EUR/GBP", "XAU/USD"}
	feed := NewTwelveDataFeed(srv.URL, "k", 8)
	if n := feed.Affordable(time.Now()); n != 8 {
		t.Fatalf("affordable = %d", n)
	}
	got, err := feed.Fetch(context.Background(), venues)
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 8 || len(got) != 8 {
		t.Fatalf("sent %d, priced %d", len(sent), len(got))
	}
	if _, ok := got["XAU/USD"]; ok {
		t.Fatal("priced a venue beyond the credits")
	}
	if _, err := feed.Fetch(context.Background(), venues[8:]); err != ErrRateLimited {
		t.Fatalf("err = %v", err)
	}
}
