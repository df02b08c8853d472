// Package marketdata keeps the store's price table current. Prices come
// from a websocket feed when configured, with static seeds for paper
// setups and tests.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"agentmarket/internal/models"
	"agentmarket/internal/store"
)

type Config struct {
	WSURL          string
	Symbols        []string
	SeedPricesUSD  map[string]decimal.Decimal
	HistoryDepth   int
	ReconnectDelay time.Duration
}

func (c *Config) withDefaults() {
	if c.HistoryDepth <= 0 {
		c.HistoryDepth = 500
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
}

type Feed struct {
	Store  *store.Store
	Logger *zap.Logger
	Config Config
}

func NewFeed(st *store.Store, logger *zap.Logger, cfg Config) *Feed {
	cfg.withDefaults()
	return &Feed{Store: st, Logger: logger, Config: cfg}
}

// tick is the upstream wire format. Price is a decimal string.
type tick struct {
	Symbol   string `json:"symbol"`
	PriceUSD string `json:"price_usd"`
}

// Seed writes the configured starting prices, history included, so the
// strategies have something to chew on before the feed connects.
func (f *Feed) Seed() error {
	if len(f.Config.SeedPricesUSD) == 0 {
		return nil
	}
	return f.Store.Update(func(st *models.State) error {
		for sym, price := range f.Config.SeedPricesUSD {
			sym = strings.ToUpper(sym)
			if !price.IsPositive() {
				continue
			}
			st.MarketPricesUSD[sym] = price
			st.PriceHistoryUSD[sym] = append(st.PriceHistoryUSD[sym], price)
		}
		return nil
	})
}

// ApplyPrice records a mark and appends it to the bounded history.
func (f *Feed) ApplyPrice(symbol string, priceUSD decimal.Decimal) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || !priceUSD.IsPositive() {
		return fmt.Errorf("bad price update %q %s", symbol, priceUSD)
	}
	depth := f.Config.HistoryDepth
	return f.Store.Update(func(st *models.State) error {
		st.MarketPricesUSD[symbol] = priceUSD
		hist := append(st.PriceHistoryUSD[symbol], priceUSD)
		if len(hist) > depth {
			hist = hist[len(hist)-depth:]
		}
		st.PriceHistoryUSD[symbol] = hist
		return nil
	})
}

// Run consumes the websocket feed until the context is cancelled,
// redialing after transient drops. A feed with no URL is a no-op.
func (f *Feed) Run(ctx context.Context) error {
	if strings.TrimSpace(f.Config.WSURL) == "" {
		return nil
	}
	wanted := map[string]bool{}
	for _, s := range f.Config.Symbols {
		wanted[strings.ToUpper(s)] = true
	}

	for {
		if err := f.consume(ctx, wanted); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if f.Logger != nil {
				f.Logger.Warn("market feed dropped", zap.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.Config.ReconnectDelay):
		}
	}
}

func (f *Feed) consume(ctx context.Context, wanted map[string]bool) error {
	conn, _, err := websocket.Dial(ctx, f.Config.WSURL, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
	}()
	if f.Logger != nil {
		f.Logger.Info("market feed connected", zap.String("url", f.Config.WSURL))
	}

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		sym, price, perr := parseTick(msg)
		if perr != nil {
			if f.Logger != nil {
				f.Logger.Debug("unparseable tick", zap.Error(perr))
			}
			continue
		}
		if len(wanted) > 0 && !wanted[sym] {
			continue
		}
		if err := f.ApplyPrice(sym, price); err != nil && f.Logger != nil {
			f.Logger.Warn("price update dropped", zap.String("symbol", sym), zap.Error(err))
		}
	}
}

func parseTick(msg []byte) (string, decimal.Decimal, error) {
	var t tick
	if err := json.Unmarshal(msg, &t); err != nil {
		return "", decimal.Zero, err
	}
	price, err := decimal.NewFromString(t.PriceUSD)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("price %q: %w", t.PriceUSD, err)
	}
	sym := strings.ToUpper(strings.TrimSpace(t.Symbol))
	if sym == "" {
		return "", decimal.Zero, fmt.Errorf("tick missing symbol")
	}
	return sym, price, nil
}
