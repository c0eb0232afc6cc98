package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPublisherPushesHeldSymbols(t *testing.T) {
	feed := &fakeFeed{mids: map[string]decimal.Decimal{}}
	feed.set("EURUSD", "1.1")
	bus := NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	src := NewSource(SourceConfig{Feeds: []Feed{feed}, DefaultFeed: "fake", Bus: bus, Now: (&clock{t: time.Unix(0, 0)}).now})

	held := []string{"EURUSD", "NOPE"}
	pub := NewPublisher(src, func(context.Context) ([]string, error) { return held, nil }, time.Second, nil)
	if n := pub.Tick(context.Background()); n != 1 {
		t.Fatalf("priced = %d", n)
	}
	select {
	case evt := <-sub:
		if q, ok := evt.Data.(Quote); evt.Type != EventQuote || !ok || q.Symbol != "EURUSD" {
			t.Fatalf("event = %+v", evt)
		}
	default:
		t.Fatal("no quote published")
	}

	held = nil
	if n := pub.Tick(context.Background()); n != 0 || feed.calls != 1 {
		t.Fatalf("idle tick priced %d, feed calls %d", n, feed.calls)
	}
	failing := NewPublisher(src, func(context.Context) ([]string, error) { return nil, errors.New("db down") }, time.Second, nil)
	if n := failing.Tick(context.Background()); n != 0 {
		t.Fatalf("priced = %d", n)
	}
}
