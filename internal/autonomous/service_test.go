package autonomous

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agentmarket/internal/intent"
	"agentmarket/internal/models"
	"agentmarket/internal/store"
	"agentmarket/internal/strategy"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

var tickNow = time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)

func TestGuard_DrawdownStopNotSticky(t *testing.T) {
	g := &Guard{Config: GuardConfig{MaxDrawdownStopPct: dec(0.2)}}

	// $10,000 peak down to $7,900 is a 21% drawdown.
	dd := DrawdownPct(dec(10000), dec(7900))
	if d := g.Evaluate(tickNow, dd, nil); d.AllowTrading || d.Reason != ReasonDrawdownStop {
		t.Fatalf("decision=%+v want drawdown_stop", d)
	}

	// Recovery clears the halt with no state change needed.
	dd = DrawdownPct(dec(10000), dec(9500))
	if d := g.Evaluate(tickNow, dd, nil); !d.AllowTrading {
		t.Fatalf("recovered agent still halted: %+v", d)
	}
}

func TestGuard_CooldownWindow(t *testing.T) {
	g := &Guard{Config: GuardConfig{CooldownAfterFailures: 3, CooldownWindow: time.Minute}}
	state := &models.AutonomousAgentState{AgentID: "a1", CooldownUntil: tickNow.Add(30 * time.Second)}

	if d := g.Evaluate(tickNow, decimal.Zero, state); d.AllowTrading || d.Reason != ReasonCooldown {
		t.Fatalf("decision=%+v want cooldown", d)
	}

	later := tickNow.Add(31 * time.Second)
	d := g.Evaluate(later, decimal.Zero, state)
	if !d.AllowTrading || !d.ClearCooldown {
		t.Fatalf("elapsed window not cleared: %+v", d)
	}
	if state.CooldownUntil.IsZero() {
		t.Fatalf("Evaluate mutated state")
	}
}

func TestDrawdownPct(t *testing.T) {
	if got := DrawdownPct(decimal.Zero, dec(100)); !got.IsZero() {
		t.Fatalf("no peak should mean zero drawdown, got %s", got)
	}
	if got := DrawdownPct(dec(100), dec(120)); !got.IsZero() {
		t.Fatalf("above peak should clamp to zero, got %s", got)
	}
	if got, want := DrawdownPct(dec(10000), dec(7900)).String(), "0.21"; got != want {
		t.Fatalf("drawdown=%s want=%s", got, want)
	}
}

type stubStrategy struct {
	id         string
	action     strategy.Action
	confidence float64
}

func (s stubStrategy) ID() string { return s.id }
func (s stubStrategy) Evaluate(strategy.MarketContext) strategy.Signal {
	return strategy.Signal{Action: s.action, Confidence: s.confidence}
}

type fakeCreator struct {
	mu   sync.Mutex
	reqs []intent.CreateRequest
	seen map[string]bool
	err  error
}

func (f *fakeCreator) Create(_ context.Context, req intent.CreateRequest) (*intent.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	key := req.AgentID + "|" + req.IdempotencyKey
	if f.seen[key] {
		return &intent.CreateResult{Intent: &models.TradeIntent{ID: "replayed"}, Replayed: true}, nil
	}
	f.seen[key] = true
	f.reqs = append(f.reqs, req)
	return &intent.CreateResult{Intent: &models.TradeIntent{ID: fmt.Sprintf("i-%d", len(f.reqs))}}, nil
}

func (f *fakeCreator) requests() []intent.CreateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]intent.CreateRequest(nil), f.reqs...)
}

func seedTickState() *models.State {
	st := models.NewState()
	st.Agents["a1"] = &models.Agent{
		ID:                     "a1",
		StrategyID:             "stub",
		CashUSD:                dec(10000),
		PeakEquityUSD:          dec(10000),
		Positions:              map[string]*models.Position{},
		DailyRealizedPnlUSD:    map[string]decimal.Decimal{},
		RiskRejectionsByReason: map[string]int64{},
	}
	st.MarketPricesUSD["SOL"] = dec(100)
	return st
}

func newTickService(st *models.State, creator IntentCreator, strategies ...strategy.Strategy) (*Service, *store.Store) {
	s := store.New(st)
	svc := NewService(s, creator, strategy.NewRegistry(strategies...), nil, zap.NewNop(), Config{
		Enabled:          true,
		Interval:         time.Second,
		MinConfidence:    0.5,
		OrderNotionalUSD: dec(250),
		Guard:            GuardConfig{MaxDrawdownStopPct: dec(0.2), CooldownAfterFailures: 3, CooldownWindow: time.Minute},
	})
	svc.now = func() time.Time { return tickNow }
	return svc, s
}

func TestTick_CreatesOneIntentPerAgent(t *testing.T) {
	creator := &fakeCreator{}
	svc, s := newTickService(seedTickState(), creator,
		stubStrategy{id: "stub", action: strategy.ActionBuy, confidence: 0.9})

	svc.Tick(context.Background())

	reqs := creator.requests()
	if len(reqs) != 1 {
		t.Fatalf("intents=%d want=1", len(reqs))
	}
	req := reqs[0]
	if req.AgentID != "a1" || req.Symbol != "SOL" || req.Side != models.SideBuy {
		t.Fatalf("req=%+v", req)
	}
	if !req.NotionalUSD.Equal(dec(250)) {
		t.Fatalf("notional=%s want=250", req.NotionalUSD)
	}
	if req.Source != "autonomous" || req.IdempotencyKey == "" {
		t.Fatalf("req=%+v", req)
	}

	as := s.Snapshot().Autonomous["a1"]
	if as == nil || as.TotalEvaluations != 1 || as.TotalIntentsCreated != 1 || as.TotalSkipped != 0 {
		t.Fatalf("state=%+v", as)
	}
}

func TestTick_SameWindowReplaysInsteadOfDuplicating(t *testing.T) {
	creator := &fakeCreator{}
	svc, s := newTickService(seedTickState(), creator,
		stubStrategy{id: "stub", action: strategy.ActionBuy, confidence: 0.9})
	ctx := context.Background()

	svc.Tick(ctx)
	svc.Tick(ctx)

	if got := len(creator.requests()); got != 1 {
		t.Fatalf("intents=%d want=1", got)
	}
	as := s.Snapshot().Autonomous["a1"]
	if as.TotalIntentsCreated != 1 || as.TotalEvaluations != 2 {
		t.Fatalf("state=%+v", as)
	}
}

func TestTick_DrawdownHaltSkipsAgent(t *testing.T) {
	st := seedTickState()
	st.Agents["a1"].CashUSD = dec(7900)
	creator := &fakeCreator{}
	svc, s := newTickService(st, creator,
		stubStrategy{id: "stub", action: strategy.ActionBuy, confidence: 0.9})

	svc.Tick(context.Background())

	if len(creator.requests()) != 0 {
		t.Fatalf("halted agent still traded")
	}
	as := s.Snapshot().Autonomous["a1"]
	if as.TotalSkipped != 1 || as.LastSkipReason != ReasonDrawdownStop {
		t.Fatalf("state=%+v", as)
	}
}

func TestTick_SellRequiresPosition(t *testing.T) {
	creator := &fakeCreator{}
	svc, _ := newTickService(seedTickState(), creator,
		stubStrategy{id: "stub", action: strategy.ActionSell, confidence: 0.9})

	svc.Tick(context.Background())
	if len(creator.requests()) != 0 {
		t.Fatalf("sold without inventory")
	}
}

func TestTick_SellSubmitsFullPosition(t *testing.T) {
	st := seedTickState()
	st.Agents["a1"].Positions["SOL"] = &models.Position{Symbol: "SOL", Quantity: dec(4), AvgEntryPriceUSD: dec(90)}
	creator := &fakeCreator{}
	svc, _ := newTickService(st, creator,
		stubStrategy{id: "stub", action: strategy.ActionSell, confidence: 0.9})

	svc.Tick(context.Background())
	reqs := creator.requests()
	if len(reqs) != 1 || reqs[0].Side != models.SideSell || !reqs[0].Quantity.Equal(dec(4)) {
		t.Fatalf("reqs=%+v", reqs)
	}
}

func TestTick_LowConfidenceSkips(t *testing.T) {
	creator := &fakeCreator{}
	svc, _ := newTickService(seedTickState(), creator,
		stubStrategy{id: "stub", action: strategy.ActionBuy, confidence: 0.3})

	svc.Tick(context.Background())
	if len(creator.requests()) != 0 {
		t.Fatalf("traded below confidence threshold")
	}
}

func TestTick_InFlightGuardCollapsesOverlap(t *testing.T) {
	creator := &fakeCreator{}
	svc, s := newTickService(seedTickState(), creator,
		stubStrategy{id: "stub", action: strategy.ActionBuy, confidence: 0.9})

	svc.inFlight.Store(true)
	svc.Tick(context.Background())
	if as := s.Snapshot().Autonomous["a1"]; as != nil {
		t.Fatalf("overlapping tick evaluated agents: %+v", as)
	}
}

func TestTick_DisabledIsNoop(t *testing.T) {
	creator := &fakeCreator{}
	svc, s := newTickService(seedTickState(), creator,
		stubStrategy{id: "stub", action: strategy.ActionBuy, confidence: 0.9})
	svc.SetEnabled(false)

	svc.Tick(context.Background())
	if len(creator.requests()) != 0 || s.Snapshot().Autonomous["a1"] != nil {
		t.Fatalf("disabled loop still acted")
	}
}

func TestRecordOutcome_FailureStreakOpensCooldown(t *testing.T) {
	creator := &fakeCreator{}
	svc, s := newTickService(seedTickState(), creator)

	svc.RecordOutcome("a1", false)
	svc.RecordOutcome("a1", false)
	as := s.Snapshot().Autonomous["a1"]
	if as.ConsecutiveFailures != 2 || !as.CooldownUntil.IsZero() {
		t.Fatalf("state=%+v", as)
	}

	svc.RecordOutcome("a1", false)
	as = s.Snapshot().Autonomous["a1"]
	if as.CooldownUntil.IsZero() || as.ConsecutiveFailures != 0 {
		t.Fatalf("third failure did not open cooldown: %+v", as)
	}
	if want := tickNow.Add(time.Minute); !as.CooldownUntil.Equal(want) {
		t.Fatalf("cooldownUntil=%v want=%v", as.CooldownUntil, want)
	}
}

func TestRecordOutcome_SuccessResetsStreak(t *testing.T) {
	creator := &fakeCreator{}
	svc, s := newTickService(seedTickState(), creator)

	svc.RecordOutcome("a1", false)
	svc.RecordOutcome("a1", true)
	if as := s.Snapshot().Autonomous["a1"]; as.ConsecutiveFailures != 0 {
		t.Fatalf("state=%+v", as)
	}
}

func TestTick_ElapsedCooldownClears(t *testing.T) {
	st := seedTickState()
	st.Autonomous["a1"] = &models.AutonomousAgentState{
		AgentID:       "a1",
		CooldownUntil: tickNow.Add(-time.Second),
	}
	creator := &fakeCreator{}
	svc, s := newTickService(st, creator,
		stubStrategy{id: "stub", action: strategy.ActionBuy, confidence: 0.9})

	svc.Tick(context.Background())
	if len(creator.requests()) != 1 {
		t.Fatalf("recovered agent did not trade")
	}
	if as := s.Snapshot().Autonomous["a1"]; !as.CooldownUntil.IsZero() {
		t.Fatalf("elapsed cooldown not cleared: %+v", as)
	}
}

func TestStopDrainsInFlightTick(t *testing.T) {
	creator := &fakeCreator{}
	svc, _ := newTickService(seedTickState(), creator,
		stubStrategy{id: "stub", action: strategy.ActionBuy, confidence: 0.9})
	svc.Config.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	svc.Stop()

	if svc.inFlight.Load() {
		t.Fatalf("tick still in flight after Stop")
	}
}
