package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"agentmarket/internal/models"
	"agentmarket/internal/ratelimit"
	"agentmarket/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st := models.NewState()
	st.Agents["a1"] = &models.Agent{
		ID:                     "a1",
		CashUSD:                decimal.NewFromInt(10000),
		Positions:              map[string]*models.Position{},
		DailyRealizedPnlUSD:    map[string]decimal.Decimal{},
		RiskRejectionsByReason: map[string]int64{},
	}
	s := store.New(st)
	svc := NewService(s, nil, nil, nil, []string{"SOL", "ETH"})
	return svc, s
}

func req() CreateRequest {
	return CreateRequest{
		AgentID:     "a1",
		Symbol:      "SOL",
		Side:        models.SideBuy,
		NotionalUSD: decimal.NewFromInt(500),
	}
}

func TestCreate_Pending(t *testing.T) {
	svc, s := newTestService(t)
	res, err := svc.Create(context.Background(), req())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Replayed {
		t.Fatalf("fresh create marked replayed")
	}
	if res.Intent.Status != models.IntentPending {
		t.Fatalf("status=%s want=pending", res.Intent.Status)
	}
	snap := s.Snapshot()
	if snap.Intents[res.Intent.ID] == nil {
		t.Fatalf("intent not persisted")
	}
	if snap.Metrics.IntentsCreated != 1 {
		t.Fatalf("intents_created=%d want=1", snap.Metrics.IntentsCreated)
	}
}

func TestCreate_ValidationErrors(t *testing.T) {
	svc, _ := newTestService(t)
	cases := []struct {
		name string
		mut  func(*CreateRequest)
	}{
		{"missing agent", func(r *CreateRequest) { r.AgentID = "" }},
		{"missing symbol", func(r *CreateRequest) { r.Symbol = "" }},
		{"unsupported symbol", func(r *CreateRequest) { r.Symbol = "DOGE" }},
		{"bad side", func(r *CreateRequest) { r.Side = "short" }},
		{"no size", func(r *CreateRequest) { r.NotionalUSD = decimal.Zero }},
		{"negative size", func(r *CreateRequest) { r.NotionalUSD = decimal.NewFromInt(-5) }},
		{"bad mode", func(r *CreateRequest) { r.RequestedMode = "turbo" }},
		{"long key", func(r *CreateRequest) {
			for i := 0; i < 129; i++ {
				r.IdempotencyKey += "k"
			}
		}},
	}
	for _, tc := range cases {
		r := req()
		tc.mut(&r)
		_, err := svc.Create(context.Background(), r)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: err=%v want ValidationError", tc.name, err)
		}
	}
}

func TestCreate_UnknownAgent(t *testing.T) {
	svc, s := newTestService(t)
	r := req()
	r.AgentID = "ghost"
	if _, err := svc.Create(context.Background(), r); err == nil {
		t.Fatalf("unknown agent accepted")
	}
	if n := len(s.Snapshot().Intents); n != 0 {
		t.Fatalf("intents=%d want=0", n)
	}
}

func TestCreate_IdempotentReplay(t *testing.T) {
	svc, s := newTestService(t)
	r := req()
	r.IdempotencyKey = "abc"

	first, err := svc.Create(context.Background(), r)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := svc.Create(context.Background(), r)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if !second.Replayed {
		t.Fatalf("second submission not marked replayed")
	}
	if second.Intent.ID != first.Intent.ID {
		t.Fatalf("replayed id=%s want=%s", second.Intent.ID, first.Intent.ID)
	}
	if n := len(s.Snapshot().Intents); n != 1 {
		t.Fatalf("intents=%d want=1", n)
	}
}

func TestCreate_IdempotencyConflict(t *testing.T) {
	svc, s := newTestService(t)
	r := req()
	r.IdempotencyKey = "abc"
	if _, err := svc.Create(context.Background(), r); err != nil {
		t.Fatalf("first create: %v", err)
	}
	changed := r
	changed.Symbol = "ETH"
	_, err := svc.Create(context.Background(), changed)
	if !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("err=%v want ErrIdempotencyConflict", err)
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		t.Fatalf("conflict surfaced as validation error")
	}
	if n := len(s.Snapshot().Intents); n != 1 {
		t.Fatalf("intents=%d want=1 (no new intent on conflict)", n)
	}
}

func TestCreate_RateLimited(t *testing.T) {
	svc, s := newTestService(t)
	svc.Limiter = ratelimit.New(ratelimit.Config{RequestsPerWindow: 1, Window: time.Minute})

	if _, err := svc.Create(context.Background(), req()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := svc.Create(context.Background(), req())
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err=%v want RateLimitError", err)
	}
	if rle.RetryAfterSeconds <= 0 {
		t.Fatalf("retry_after=%d want >0", rle.RetryAfterSeconds)
	}
	if n := len(s.Snapshot().Intents); n != 1 {
		t.Fatalf("intents=%d want=1 (denied submission touched state)", n)
	}
}

func TestCreate_KeysScopedPerAgent(t *testing.T) {
	svc, s := newTestService(t)
	_ = s.Update(func(st *models.State) error {
		st.Agents["a2"] = &models.Agent{
			ID:                     "a2",
			CashUSD:                decimal.NewFromInt(100),
			Positions:              map[string]*models.Position{},
			DailyRealizedPnlUSD:    map[string]decimal.Decimal{},
			RiskRejectionsByReason: map[string]int64{},
		}
		return nil
	})
	r1 := req()
	r1.IdempotencyKey = "abc"
	r2 := req()
	r2.AgentID = "a2"
	r2.IdempotencyKey = "abc"
	a, err := svc.Create(context.Background(), r1)
	if err != nil {
		t.Fatalf("a1 create: %v", err)
	}
	b, err := svc.Create(context.Background(), r2)
	if err != nil {
		t.Fatalf("a2 create: %v", err)
	}
	if a.Intent.ID == b.Intent.ID || b.Replayed {
		t.Fatalf("idempotency keys not scoped per agent")
	}
}
