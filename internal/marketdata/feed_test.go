package marketdata

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agentmarket/internal/models"
	"agentmarket/internal/store"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestSeedWritesPricesAndHistory(t *testing.T) {
	s := store.New(models.NewState())
	f := NewFeed(s, zap.NewNop(), Config{
		SeedPricesUSD: map[string]decimal.Decimal{"sol": dec(100), "BTC": dec(65000), "bad": decimal.Zero},
	})
	if err := f.Seed(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	snap := s.Snapshot()
	if !snap.MarketPricesUSD["SOL"].Equal(dec(100)) {
		t.Fatalf("sol=%s", snap.MarketPricesUSD["SOL"])
	}
	if !snap.MarketPricesUSD["BTC"].Equal(dec(65000)) {
		t.Fatalf("btc=%s", snap.MarketPricesUSD["BTC"])
	}
	if _, ok := snap.MarketPricesUSD["BAD"]; ok {
		t.Fatalf("non-positive seed applied")
	}
	if len(snap.PriceHistoryUSD["SOL"]) != 1 {
		t.Fatalf("history=%d want=1", len(snap.PriceHistoryUSD["SOL"]))
	}
}

func TestApplyPriceBoundsHistory(t *testing.T) {
	s := store.New(models.NewState())
	f := NewFeed(s, zap.NewNop(), Config{HistoryDepth: 3})

	for i := 1; i <= 5; i++ {
		if err := f.ApplyPrice("SOL", dec(float64(100+i))); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
	snap := s.Snapshot()
	hist := snap.PriceHistoryUSD["SOL"]
	if len(hist) != 3 {
		t.Fatalf("history=%d want=3", len(hist))
	}
	if !hist[0].Equal(dec(103)) || !hist[2].Equal(dec(105)) {
		t.Fatalf("history=%v", hist)
	}
	if !snap.MarketPricesUSD["SOL"].Equal(dec(105)) {
		t.Fatalf("mark=%s want=105", snap.MarketPricesUSD["SOL"])
	}
}

func TestApplyPriceRejectsBadInput(t *testing.T) {
	s := store.New(models.NewState())
	f := NewFeed(s, zap.NewNop(), Config{})
	if err := f.ApplyPrice("", dec(1)); err == nil {
		t.Fatalf("empty symbol accepted")
	}
	if err := f.ApplyPrice("SOL", decimal.Zero); err == nil {
		t.Fatalf("zero price accepted")
	}
}

func TestParseTick(t *testing.T) {
	sym, price, err := parseTick([]byte(`{"symbol":"sol","price_usd":"101.25"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sym != "SOL" || price.String() != "101.25" {
		t.Fatalf("sym=%s price=%s", sym, price)
	}

	if _, _, err := parseTick([]byte(`{"symbol":"sol"}`)); err == nil {
		t.Fatalf("missing price accepted")
	}
	if _, _, err := parseTick([]byte(`not json`)); err == nil {
		t.Fatalf("garbage accepted")
	}
}
