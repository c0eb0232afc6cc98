package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tradearena/internal/auth"
	"tradearena/internal/marketdata"

	"github.com/gorilla/websocket"
)

func TestWSDeliversOnlyOwnEvents(t *testing.T) {
	bus := marketdata.NewBus()
	authSvc := auth.NewService("arena", []byte("secret"), time.Hour)
	srv := httptest.NewServer(NewWSHandler(bus, authSvc, "*"))
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	if _, resp, err := websocket.DefaultDialer.Dial(base+"?token=bad", nil); err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatal("dialed with a bad token")
	}

	token, _ := authSvc.SignToken("user-1")
	conn, _, err := websocket.DefaultDialer.Dial(base+"?token="+token, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// The subscription races the dial, so keep publishing until one lands.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bus.Publish(marketdata.Event{Type: marketdata.EventPositionClosed, UserID: "user-2", Data: "someone else"})
				bus.Publish(marketdata.Event{Type: marketdata.EventPositionClosed, UserID: "user-1", Data: "mine"})
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatal(err)
	}
	if evt.Type != marketdata.EventPositionClosed || evt.Data != "mine" {
		t.Fatalf("event = %+v", evt)
	}
}

func TestAllowOrigin(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/v1/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	cases := []struct {
		allowed, origin string
		want            bool
	}{
		{"*", "https://evil.example", true},
		{"https://arena.example", "https://arena.example", true},
		{"https://arena.example", "https://evil.example", false},
		{"http://localhost:3000", "http://127.0.0.1:5173", true},
		{"", "https://arena.example", false},
		{"https://arena.example", "", true},
	}
	for _, tc := range cases {
		if got := allowOrigin(req(tc.origin), tc.allowed); got != tc.want {
			t.Errorf("allowOrigin(%q, %q) = %v", tc.origin, tc.allowed, got)
		}
	}
}
