package store

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"agentmarket/internal/models"
)

func seedState() *models.State {
	st := models.NewState()
	st.Agents["a1"] = &models.Agent{
		ID:                     "a1",
		CashUSD:                decimal.NewFromInt(1000),
		Positions:              map[string]*models.Position{},
		DailyRealizedPnlUSD:    map[string]decimal.Decimal{},
		RiskRejectionsByReason: map[string]int64{},
	}
	st.Intents["i1"] = &models.TradeIntent{ID: "i1", AgentID: "a1", Status: models.IntentPending}
	return st
}

func TestUpdate_AbortLeavesNoPartialEffects(t *testing.T) {
	s := New(seedState())
	err := s.Update(func(st *models.State) error {
		st.Agents["a1"].CashUSD = decimal.Zero
		st.Intents["i1"].Status = models.IntentProcessing
		return errors.New("boom")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	snap := s.Snapshot()
	if got := snap.Agents["a1"].CashUSD; got.Cmp(decimal.NewFromInt(1000)) != 0 {
		t.Fatalf("cash=%s want=1000", got.String())
	}
	if got := snap.Intents["i1"].Status; got != models.IntentPending {
		t.Fatalf("status=%s want=pending", got)
	}
}

func TestSnapshot_IsIsolatedFromStore(t *testing.T) {
	s := New(seedState())
	snap := s.Snapshot()
	snap.Agents["a1"].CashUSD = decimal.Zero
	snap.Intents["i1"].Status = models.IntentFailed

	fresh := s.Snapshot()
	if got := fresh.Agents["a1"].CashUSD; got.Cmp(decimal.NewFromInt(1000)) != 0 {
		t.Fatalf("snapshot mutation leaked into store: cash=%s", got.String())
	}
	if got := fresh.Intents["i1"].Status; got != models.IntentPending {
		t.Fatalf("snapshot mutation leaked into store: status=%s", got)
	}
}

// Concurrent claim attempts over the same pending intent must result in
// exactly one transition out of pending.
func TestUpdate_ConcurrentClaimExactlyOnce(t *testing.T) {
	s := New(seedState())
	const workers = 32
	var wg sync.WaitGroup
	claims := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(func(st *models.State) error {
				it := st.Intents["i1"]
				if it.Status != models.IntentPending {
					return errors.New("already claimed")
				}
				it.Status = models.IntentProcessing
				return nil
			})
			if err == nil {
				claims <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(claims)
	n := 0
	for range claims {
		n++
	}
	if n != 1 {
		t.Fatalf("claims=%d want=1", n)
	}
	if got := s.Snapshot().Intents["i1"].Status; got != models.IntentProcessing {
		t.Fatalf("status=%s want=processing", got)
	}
}

func TestUpdate_SerializedCounters(t *testing.T) {
	s := New(seedState())
	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(func(st *models.State) error {
				st.Metrics.IntentsCreated++
				return nil
			})
		}()
	}
	wg.Wait()
	if got := s.Snapshot().Metrics.IntentsCreated; got != n {
		t.Fatalf("counter=%d want=%d", got, n)
	}
}
