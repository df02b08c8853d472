package autonomous

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agentmarket/internal/events"
	"agentmarket/internal/intent"
	"agentmarket/internal/models"
	"agentmarket/internal/risk"
	"agentmarket/internal/store"
	"agentmarket/internal/strategy"
)

// IntentCreator is the slice of the intent service the loop needs.
type IntentCreator interface {
	Create(ctx context.Context, req intent.CreateRequest) (*intent.CreateResult, error)
}

type Config struct {
	Enabled  bool
	Interval time.Duration
	// MinConfidence filters strategy signals; below it the agent skips
	// the tick.
	MinConfidence float64
	// OrderNotionalUSD sizes autonomous buys. The risk engine still caps
	// the final notional.
	OrderNotionalUSD decimal.Decimal
	Guard            GuardConfig
}

func (c *Config) withDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.5
	}
	if !c.OrderNotionalUSD.IsPositive() {
		c.OrderNotionalUSD = decimal.NewFromInt(100)
	}
}

type Service struct {
	Store      *store.Store
	Intents    IntentCreator
	Strategies *strategy.Registry
	Events     events.Sink
	Logger     *zap.Logger
	Config     Config

	guard    Guard
	enabled  atomic.Bool
	inFlight atomic.Bool
	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	now      func() time.Time
}

func NewService(st *store.Store, creator IntentCreator, reg *strategy.Registry,
	sink events.Sink, logger *zap.Logger, cfg Config) *Service {
	cfg.withDefaults()
	s := &Service{
		Store:      st,
		Intents:    creator,
		Strategies: reg,
		Events:     sink,
		Logger:     logger,
		Config:     cfg,
		guard:      Guard{Config: cfg.Guard},
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		now:        time.Now,
	}
	s.enabled.Store(cfg.Enabled)
	return s
}

func (s *Service) Enabled() bool { return s.enabled.Load() }

// SetEnabled toggles the loop without stopping the ticker; a disabled
// loop keeps ticking but every tick is a no-op.
func (s *Service) SetEnabled(v bool) { s.enabled.Store(v) }

// Start runs the loop until Stop or context cancellation.
func (s *Service) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.Config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop blocks until any in-flight tick has drained.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.started.Load() {
		<-s.doneCh
	}
	for s.inFlight.Load() {
		time.Sleep(time.Millisecond)
	}
}

// Tick evaluates every agent once. Overlapping calls collapse: a tick
// that arrives while another is running returns immediately.
func (s *Service) Tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer s.inFlight.Store(false)
	if !s.enabled.Load() {
		return
	}

	now := s.now().UTC()
	snap := s.Store.Snapshot()
	agentIDs := make([]string, 0, len(snap.Agents))
	for id := range snap.Agents {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)

	// One intent per agent per tick: the idempotency key is derived from
	// the tick window, so a re-entered tick replays instead of duplicating.
	tickKey := fmt.Sprintf("auto-%d", now.Truncate(s.Config.Interval).UnixMilli())

	created := 0
	for _, id := range agentIDs {
		if s.evaluateAgent(ctx, snap, id, now, tickKey) {
			created++
		}
	}

	if s.Events != nil {
		go s.Events.Publish(ctx, models.Event{
			Type:    models.EventAutonomousTick,
			Payload: map[string]any{"agents": len(agentIDs), "intents_created": created},
			At:      now,
		})
	}
}

func (s *Service) evaluateAgent(ctx context.Context, snap *models.State, agentID string, now time.Time, tickKey string) bool {
	agent := snap.Agents[agentID]
	equity := risk.ComputeEquityUSD(agent, snap.MarketPricesUSD)
	drawdown := DrawdownPct(agent.PeakEquityUSD, equity)
	decision := s.guard.Evaluate(now, drawdown, snap.Autonomous[agentID])

	if !decision.AllowTrading {
		s.recordEvaluation(agentID, now, decision.Reason, false, false)
		return false
	}

	sig, symbol, ok := s.bestSignal(agent, snap)
	if !ok {
		s.recordEvaluation(agentID, now, "no_actionable_signal", decision.ClearCooldown, false)
		return false
	}

	req := intent.CreateRequest{
		AgentID:        agentID,
		Symbol:         symbol,
		Side:           models.Side(sig.Action),
		IdempotencyKey: tickKey,
		Source:         "autonomous",
	}
	if sig.Action == strategy.ActionSell {
		req.Quantity = agent.Positions[symbol].Quantity
	} else {
		req.NotionalUSD = s.Config.OrderNotionalUSD
	}

	res, err := s.Intents.Create(ctx, req)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("autonomous intent create failed",
				zap.String("agent_id", agentID),
				zap.String("symbol", symbol),
				zap.Error(err),
			)
		}
		s.recordEvaluation(agentID, now, "intent_create_failed", decision.ClearCooldown, false)
		return false
	}
	if res.Replayed {
		s.recordEvaluation(agentID, now, "tick_replayed", decision.ClearCooldown, false)
		return false
	}
	s.recordEvaluation(agentID, now, "", decision.ClearCooldown, true)
	return true
}

// bestSignal returns the highest-confidence actionable signal across the
// priced universe. Sells without inventory and sub-threshold confidence
// are not actionable.
func (s *Service) bestSignal(agent *models.Agent, snap *models.State) (strategy.Signal, string, bool) {
	if agent.StrategyID == "" || s.Strategies == nil {
		return strategy.Signal{}, "", false
	}
	symbols := make([]string, 0, len(snap.MarketPricesUSD))
	for sym := range snap.MarketPricesUSD {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var best strategy.Signal
	bestSymbol := ""
	for _, sym := range symbols {
		price := snap.MarketPricesUSD[sym]
		if !price.IsPositive() {
			continue
		}
		sig, err := s.Strategies.Evaluate(agent.StrategyID, strategy.MarketContext{
			Symbol:          sym,
			CurrentPriceUSD: price,
			PriceHistoryUSD: snap.PriceHistoryUSD[sym],
		})
		if err != nil || sig.Action == strategy.ActionHold {
			continue
		}
		if sig.Confidence < s.Config.MinConfidence {
			continue
		}
		if sig.Action == strategy.ActionSell {
			pos := agent.Positions[sym]
			if pos == nil || !pos.Quantity.IsPositive() {
				continue
			}
		}
		if bestSymbol == "" || sig.Confidence > best.Confidence {
			best = sig
			bestSymbol = sym
		}
	}
	return best, bestSymbol, bestSymbol != ""
}

func (s *Service) recordEvaluation(agentID string, now time.Time, skipReason string, clearCooldown, createdIntent bool) {
	err := s.Store.Update(func(st *models.State) error {
		as := st.Autonomous[agentID]
		if as == nil {
			as = &models.AutonomousAgentState{AgentID: agentID}
			st.Autonomous[agentID] = as
		}
		as.TotalEvaluations++
		as.LastEvaluatedAt = now
		as.LastSkipReason = skipReason
		if skipReason != "" {
			as.TotalSkipped++
		}
		if createdIntent {
			as.TotalIntentsCreated++
		}
		if clearCooldown {
			as.CooldownUntil = time.Time{}
		}
		as.UpdatedAt = now
		return nil
	})
	if err != nil && s.Logger != nil {
		s.Logger.Error("autonomous state update failed", zap.String("agent_id", agentID), zap.Error(err))
	}
}

// RecordOutcome feeds an execution settlement back into the failure
// counter. Enough consecutive failures opens a cooldown window.
func (s *Service) RecordOutcome(agentID string, success bool) {
	now := s.now().UTC()
	err := s.Store.Update(func(st *models.State) error {
		as := st.Autonomous[agentID]
		if as == nil {
			as = &models.AutonomousAgentState{AgentID: agentID}
			st.Autonomous[agentID] = as
		}
		if success {
			as.ConsecutiveFailures = 0
		} else {
			as.ConsecutiveFailures++
			threshold := s.Config.Guard.CooldownAfterFailures
			if threshold > 0 && as.ConsecutiveFailures >= threshold {
				as.CooldownUntil = now.Add(s.Config.Guard.CooldownWindow)
				as.ConsecutiveFailures = 0
			}
		}
		as.UpdatedAt = now
		return nil
	})
	if err != nil && s.Logger != nil {
		s.Logger.Error("autonomous outcome update failed", zap.String("agent_id", agentID), zap.Error(err))
	}
}

// OutcomeSink adapts execution events into RecordOutcome calls so the
// loop reacts to how its own intents settle.
type OutcomeSink struct {
	Service *Service
}

func (s *OutcomeSink) Publish(_ context.Context, ev models.Event) {
	if s == nil || s.Service == nil || ev.AgentID == "" {
		return
	}
	switch ev.Type {
	case models.EventIntentExecuted:
		s.Service.RecordOutcome(ev.AgentID, true)
	case models.EventIntentFailed:
		s.Service.RecordOutcome(ev.AgentID, false)
	}
}
