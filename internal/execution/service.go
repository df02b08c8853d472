// Package execution drives claimed intents through the pipeline: price
// lookup, strategy check, risk check, mode resolution, accounting, and
// receipt persistence. External venue calls run outside any store
// transaction; only their results are applied inside one.
package execution

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentmarket/internal/events"
	"agentmarket/internal/fees"
	"agentmarket/internal/models"
	"agentmarket/internal/pipeline"
	"agentmarket/internal/receipt"
	"agentmarket/internal/risk"
	"agentmarket/internal/store"
	"agentmarket/internal/strategy"
	"agentmarket/internal/venue"
)

// Rejection and failure reasons owned by the pipeline itself. Risk and
// accounting reasons are defined next to their checks.
const (
	FailUnknownAgent         = "unknown_agent"
	RejectMarketPriceMissing = "market_price_missing"
	RejectLiveNotConfigured  = "live_mode_not_configured"
	FailSwapQuoteExhausted   = "swap_quote_failed"
	FailSwapSendExhausted    = "swap_send_failed"
)

type Config struct {
	// DefaultMode applies when the intent carries no requested mode.
	DefaultMode models.ExecutionMode
	// LiveEnabled gates the live path regardless of what intents request.
	LiveEnabled bool

	// Venue retry policy: capped exponential backoff, bounded attempts.
	MaxVenueAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// PollInterval paces the worker loop scanning for pending intents.
	PollInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.DefaultMode == "" {
		c.DefaultMode = models.ModePaper
	}
	if c.MaxVenueAttempts <= 0 {
		c.MaxVenueAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 250 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
}

type Service struct {
	Store      *store.Store
	Strategies *strategy.Registry
	Fees       *fees.Engine
	Venue      venue.Client
	Tracker    *pipeline.Tracker
	Events     events.Sink
	Logger     *zap.Logger
	Config     Config

	now   func() time.Time
	newID func() string
	sleep func(ctx context.Context, d time.Duration) error
}

func NewService(st *store.Store, reg *strategy.Registry, fee *fees.Engine, vc venue.Client,
	tracker *pipeline.Tracker, sink events.Sink, logger *zap.Logger, cfg Config) *Service {
	cfg.withDefaults()
	if tracker == nil {
		tracker = pipeline.NewTracker(0)
	}
	return &Service{
		Store:      st,
		Strategies: reg,
		Fees:       fee,
		Venue:      vc,
		Tracker:    tracker,
		Events:     sink,
		Logger:     logger,
		Config:     cfg,
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run polls for pending intents until the context is cancelled. Claiming
// is transactional, so overlapping runners never double-process.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, id := range s.pendingIDs() {
				if err := s.ProcessIntent(ctx, id); err != nil && s.Logger != nil {
					s.Logger.Error("process intent", zap.String("intent_id", id), zap.Error(err))
				}
			}
		}
	}
}

func (s *Service) pendingIDs() []string {
	snap := s.Store.Snapshot()
	type candidate struct {
		id string
		at time.Time
	}
	var pending []candidate
	for id, in := range snap.Intents {
		if in.Status == models.IntentPending {
			pending = append(pending, candidate{id: id, at: in.CreatedAt})
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].at.Equal(pending[j].at) {
			return pending[i].id < pending[j].id
		}
		return pending[i].at.Before(pending[j].at)
	})
	ids := make([]string, len(pending))
	for i, c := range pending {
		ids[i] = c.id
	}
	return ids
}

// ProcessIntent claims the intent and drives it to a terminal status. A
// second call for the same intent is a no-op: the claim fails.
func (s *Service) ProcessIntent(ctx context.Context, intentID string) error {
	claimed, err := s.claim(intentID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	run := s.Tracker.Begin(intentID)
	defer run.Finish()

	snap := s.Store.Snapshot()
	in := snap.Intents[intentID]
	if in == nil {
		return fmt.Errorf("claimed intent %s vanished", intentID)
	}

	done := run.StageStart(pipeline.StageValidate)
	agent := snap.Agents[in.AgentID]
	if agent == nil {
		done(pipeline.StageFailed, FailUnknownAgent)
		return s.finalizeFailed(ctx, in, FailUnknownAgent)
	}
	done(pipeline.StageOK, "")

	done = run.StageStart(pipeline.StagePrice)
	price, ok := snap.MarketPricesUSD[in.Symbol]
	if !ok || !price.IsPositive() {
		done(pipeline.StageRejected, RejectMarketPriceMissing)
		return s.finalizeRejected(ctx, in, RejectMarketPriceMissing)
	}
	done(pipeline.StageOK, "")

	done = run.StageStart(pipeline.StageStrategy)
	if agent.StrategyID != "" && s.Strategies != nil {
		sig, serr := s.Strategies.Evaluate(agent.StrategyID, strategy.MarketContext{
			Symbol:          in.Symbol,
			CurrentPriceUSD: price,
			PriceHistoryUSD: snap.PriceHistoryUSD[in.Symbol],
		})
		switch {
		case serr != nil:
			reason := "strategy_unknown:" + agent.StrategyID
			done(pipeline.StageRejected, reason)
			return s.finalizeRejected(ctx, in, reason)
		case sig.Action == strategy.ActionHold:
			reason := "strategy_hold:" + agent.StrategyID
			done(pipeline.StageRejected, reason)
			return s.finalizeRejected(ctx, in, reason)
		case string(sig.Action) != string(in.Side):
			reason := fmt.Sprintf("strategy_side_mismatch:%s:%s", agent.StrategyID, sig.Action)
			done(pipeline.StageRejected, reason)
			return s.finalizeRejected(ctx, in, reason)
		}
	}
	done(pipeline.StageOK, "")

	done = run.StageStart(pipeline.StageRisk)
	decision := risk.Evaluate(risk.Input{
		Agent:           agent,
		Intent:          in,
		PriceUSD:        price,
		MarketPricesUSD: snap.MarketPricesUSD,
		Now:             s.now().UTC(),
	})
	if !decision.Approved {
		done(pipeline.StageRejected, decision.Reason)
		return s.finalizeRejected(ctx, in, decision.Reason)
	}
	done(pipeline.StageOK, "")

	done = run.StageStart(pipeline.StageMode)
	mode := in.RequestedMode
	if mode == "" {
		mode = s.Config.DefaultMode
	}
	if mode == models.ModeLive && (!s.Config.LiveEnabled || s.Venue == nil || !s.Venue.IsReadyForLive()) {
		done(pipeline.StageRejected, RejectLiveNotConfigured)
		return s.finalizeRejected(ctx, in, RejectLiveNotConfigured)
	}
	done(pipeline.StageOK, "")

	fee := s.Fees.CalculateExecutionFeeUSD(decision.ComputedNotionalUSD)
	exec := &models.ExecutionRecord{
		ID:               s.newID(),
		IntentID:         in.ID,
		AgentID:          in.AgentID,
		Symbol:           in.Symbol,
		Side:             in.Side,
		Quantity:         decision.ComputedQuantity,
		PriceUSD:         price,
		GrossNotionalUSD: decision.ComputedNotionalUSD,
		FeeUSD:           fee,
		Mode:             mode,
	}
	run.SetExecutionID(exec.ID)

	var attempts venueAttempts
	done = run.StageStart(pipeline.StageExecute)
	if mode == models.ModeLive {
		txSig, att, verr := s.executeLive(ctx, exec)
		attempts = att
		if verr != nil {
			reason := verr.reason
			done(pipeline.StageFailed, reason)
			if s.Logger != nil {
				s.Logger.Warn("live execution failed",
					zap.String("intent_id", in.ID),
					zap.String("reason", reason),
					zap.Error(verr.err),
				)
			}
			return s.commitFailedExecution(ctx, in, exec, reason, attempts, run)
		}
		exec.TxSignature = txSig
	}
	done(pipeline.StageOK, "")

	return s.commitFill(ctx, in, exec, attempts, run)
}

// claim flips pending -> processing. Returns false when the intent is
// missing or not pending, which simply means another pass owns it.
func (s *Service) claim(intentID string) (bool, error) {
	claimed := false
	err := s.Store.Update(func(st *models.State) error {
		in, ok := st.Intents[intentID]
		if !ok || in.Status != models.IntentPending {
			return nil
		}
		in.Status = models.IntentProcessing
		in.UpdatedAt = s.now().UTC()
		claimed = true
		return nil
	})
	return claimed, err
}

type venueAttempts struct {
	quote int64
	send  int64
}

type liveError struct {
	reason string
	err    error
}

// executeLive requests a quote then the swap, retrying transient venue
// failures with capped exponential backoff. Runs outside any transaction.
func (s *Service) executeLive(ctx context.Context, exec *models.ExecutionRecord) (string, venueAttempts, *liveError) {
	var att venueAttempts
	feeParams := s.Fees.BuildSwapFeeParams()

	var quote *venue.Quote
	err := s.withRetry(ctx, &att.quote, func() error {
		q, qerr := s.Venue.Quote(ctx, venue.QuoteRequest{
			Symbol:      exec.Symbol,
			Side:        string(exec.Side),
			NotionalUSD: exec.GrossNotionalUSD,
			Quantity:    exec.Quantity,
			FeeBps:      feeParams.FeeBps,
		})
		if qerr != nil {
			return qerr
		}
		quote = q
		return nil
	})
	if err != nil {
		return "", att, &liveError{reason: FailSwapQuoteExhausted, err: err}
	}

	var result *venue.SwapResult
	err = s.withRetry(ctx, &att.send, func() error {
		r, serr := s.Venue.SwapFromQuote(ctx, quote, feeParams.FeeAccount)
		if serr != nil {
			return serr
		}
		result = r
		return nil
	})
	if err != nil {
		return "", att, &liveError{reason: FailSwapSendExhausted, err: err}
	}
	return result.TxSignature, att, nil
}

func (s *Service) withRetry(ctx context.Context, counter *int64, call func() error) error {
	delay := s.Config.RetryBaseDelay
	var last error
	for attempt := 1; attempt <= s.Config.MaxVenueAttempts; attempt++ {
		*counter++
		last = call()
		if last == nil {
			return nil
		}
		if !venue.IsTransient(last) || attempt == s.Config.MaxVenueAttempts {
			return last
		}
		if err := s.sleep(ctx, delay); err != nil {
			return last
		}
		delay *= 2
		if delay > s.Config.RetryMaxDelay {
			delay = s.Config.RetryMaxDelay
		}
	}
	return last
}

// commitFill applies accounting, persists the execution and its receipt,
// and flips the intent terminal, all in one transaction. An accounting
// error downgrades the fill to a failed execution, still receipted.
func (s *Service) commitFill(ctx context.Context, in *models.TradeIntent, exec *models.ExecutionRecord,
	att venueAttempts, run *pipeline.Run) error {

	now := s.now().UTC()
	done := run.StageStart(pipeline.StagePersist)

	var failReason string
	err := s.Store.Update(func(st *models.State) error {
		live, ok := st.Intents[in.ID]
		if !ok {
			return fmt.Errorf("intent %s vanished before persist", in.ID)
		}
		agent, ok := st.Agents[in.AgentID]
		if !ok {
			return fmt.Errorf("agent %s vanished before persist", in.AgentID)
		}

		res, accErr := applyAccountingTrade(st, agent, exec.Side, exec.Symbol,
			exec.Quantity, exec.PriceUSD, exec.GrossNotionalUSD, exec.FeeUSD, now)
		if accErr != nil {
			failReason = accErr.Error()
			exec.Status = models.ExecutionFailed
			exec.FailReason = failReason
			live.Status = models.IntentFailed
			live.StatusReason = failReason
			st.Metrics.IntentsFailed++
		} else {
			exec.Status = models.ExecutionFilled
			exec.RealizedPnlUSD = res.RealizedPnlUSD
			exec.PnlSnapshotUSD = res.PnlSnapshotUSD
			exec.NetUSD = models.Round8(res.NetUSD)
			live.Status = models.IntentExecuted
			st.Metrics.IntentsExecuted++
		}

		exec.ExecutedAt = now
		appendReceipt(st, exec, now)
		st.Executions[exec.ID] = exec
		live.ExecutionID = exec.ID
		live.UpdatedAt = now
		st.Metrics.SwapQuoteAttempts += att.quote
		st.Metrics.SwapSendAttempts += att.send
		return nil
	})
	if err != nil {
		done(pipeline.StageFailed, err.Error())
		return err
	}

	if failReason != "" {
		done(pipeline.StageFailed, failReason)
		s.emit(ctx, models.EventIntentFailed, in, exec.ID, failReason)
		return nil
	}
	done(pipeline.StageOK, "")
	s.emit(ctx, models.EventIntentExecuted, in, exec.ID, "")
	return nil
}

// commitFailedExecution persists a failed execution and receipt for an
// intent that never reached accounting (external call exhaustion).
func (s *Service) commitFailedExecution(ctx context.Context, in *models.TradeIntent, exec *models.ExecutionRecord,
	reason string, att venueAttempts, run *pipeline.Run) error {

	now := s.now().UTC()
	done := run.StageStart(pipeline.StagePersist)
	err := s.Store.Update(func(st *models.State) error {
		live, ok := st.Intents[in.ID]
		if !ok {
			return fmt.Errorf("intent %s vanished before persist", in.ID)
		}
		exec.Status = models.ExecutionFailed
		exec.FailReason = reason
		exec.ExecutedAt = now
		appendReceipt(st, exec, now)
		st.Executions[exec.ID] = exec
		live.Status = models.IntentFailed
		live.StatusReason = reason
		live.ExecutionID = exec.ID
		live.UpdatedAt = now
		st.Metrics.IntentsFailed++
		st.Metrics.SwapQuoteAttempts += att.quote
		st.Metrics.SwapSendAttempts += att.send
		return nil
	})
	if err != nil {
		done(pipeline.StageFailed, err.Error())
		return err
	}
	done(pipeline.StageOK, "")
	s.emit(ctx, models.EventIntentFailed, in, exec.ID, reason)
	return nil
}

// appendReceipt chains a receipt for exec onto the global head. The head
// update and the execution it describes commit together.
func appendReceipt(st *models.State, exec *models.ExecutionRecord, now time.Time) {
	rec := receipt.Create(exec, st.LatestReceiptHash, now)
	exec.ReceiptHash = rec.ReceiptHash
	st.Receipts[exec.ID] = rec
	st.ReceiptOrder = append(st.ReceiptOrder, exec.ID)
	st.LatestReceiptHash = rec.ReceiptHash
}

func (s *Service) finalizeRejected(ctx context.Context, in *models.TradeIntent, reason string) error {
	now := s.now().UTC()
	err := s.Store.Update(func(st *models.State) error {
		live, ok := st.Intents[in.ID]
		if !ok {
			return fmt.Errorf("intent %s vanished", in.ID)
		}
		live.Status = models.IntentRejected
		live.StatusReason = reason
		live.UpdatedAt = now
		st.Metrics.IntentsRejected++
		st.Metrics.RejectionsByReason[reason]++
		if agent, ok := st.Agents[in.AgentID]; ok {
			if agent.RiskRejectionsByReason == nil {
				agent.RiskRejectionsByReason = map[string]int64{}
			}
			agent.RiskRejectionsByReason[reason]++
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(ctx, models.EventIntentRejected, in, "", reason)
	return nil
}

// finalizeFailed handles failures with no execution attempt to record
// (the agent itself is unknown).
func (s *Service) finalizeFailed(ctx context.Context, in *models.TradeIntent, reason string) error {
	now := s.now().UTC()
	err := s.Store.Update(func(st *models.State) error {
		live, ok := st.Intents[in.ID]
		if !ok {
			return fmt.Errorf("intent %s vanished", in.ID)
		}
		live.Status = models.IntentFailed
		live.StatusReason = reason
		live.UpdatedAt = now
		st.Metrics.IntentsFailed++
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(ctx, models.EventIntentFailed, in, "", reason)
	return nil
}

func (s *Service) emit(ctx context.Context, typ string, in *models.TradeIntent, execID, reason string) {
	if s.Events == nil {
		return
	}
	ev := models.Event{
		Type:        typ,
		AgentID:     in.AgentID,
		IntentID:    in.ID,
		ExecutionID: execID,
		At:          s.now().UTC(),
	}
	if reason != "" {
		ev.Payload = map[string]any{"reason": reason}
	}
	go s.Events.Publish(ctx, ev)
}
