package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agentmarket/internal/archive"
	"agentmarket/internal/auth"
	"agentmarket/internal/autonomous"
	"agentmarket/internal/config"
	cronrunner "agentmarket/internal/cron"
	"agentmarket/internal/db"
	"agentmarket/internal/events"
	"agentmarket/internal/execution"
	"agentmarket/internal/fees"
	"agentmarket/internal/handler"
	"agentmarket/internal/intent"
	"agentmarket/internal/logger"
	"agentmarket/internal/marketdata"
	"agentmarket/internal/models"
	"agentmarket/internal/pipeline"
	"agentmarket/internal/ratelimit"
	"agentmarket/internal/receipt"
	"agentmarket/internal/store"
	"agentmarket/internal/strategy"
	"agentmarket/internal/venue"
)

func main() {
	cfgPath := os.Getenv("AM_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("AM_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	st := store.New(models.NewState())
	if err := seedAgents(st, cfg.Agents); err != nil {
		logger.Fatal("agent seed failed", zap.Error(err))
	}

	feed := marketdata.NewFeed(st, logger, marketdata.Config{
		WSURL:          cfg.MarketData.WSURL,
		Symbols:        cfg.MarketData.Symbols,
		SeedPricesUSD:  parseSeedPrices(cfg.MarketData.SeedPricesUSD, logger),
		HistoryDepth:   cfg.MarketData.HistoryDepth,
		ReconnectDelay: cfg.MarketData.ReconnectDelay,
	})
	if err := feed.Seed(); err != nil {
		logger.Fatal("price seed failed", zap.Error(err))
	}

	feePct, err := decimal.NewFromString(cfg.Fees.ExecutionFeePct)
	if err != nil {
		logger.Fatal("bad fees.execution_fee_pct", zap.Error(err))
	}
	feeEngine := fees.New(feePct, cfg.Fees.FeeAccount)

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerWindow: cfg.RateLimit.IntentsPerWindow,
		Window:            cfg.RateLimit.Window,
	})

	registry := strategy.NewRegistry(strategy.NewMomentum(), strategy.NewMeanReversion())

	var venueClient venue.Client
	if cfg.Venue.BaseURL != "" {
		venueHTTP := &http.Client{Timeout: cfg.Venue.Timeout}
		venueClient = venue.NewHTTPClient(venueHTTP, cfg.Venue.BaseURL, cfg.Venue.APIKey)
	}

	var redisClient *redis.Client
	sinks := events.Fanout{&events.LogSink{Logger: logger}}
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		sinks = append(sinks, &events.RedisSink{
			Client:  redisClient,
			Channel: cfg.Redis.EventChannel,
			Logger:  logger,
		})
	}

	tracker := pipeline.NewTracker(cfg.Execution.StageRuns)
	intentSvc := intent.NewService(st, limiter, sinks, logger, cfg.MarketData.Symbols)

	autoSvc := autonomous.NewService(st, intentSvc, registry, sinks, logger, autonomous.Config{
		Enabled:          cfg.Autonomous.Enabled,
		Interval:         cfg.Autonomous.Interval,
		MinConfidence:    cfg.Autonomous.MinConfidence,
		OrderNotionalUSD: mustDecimal(cfg.Autonomous.OrderNotionalUSD, logger, "autonomous.order_notional_usd"),
		Guard: autonomous.GuardConfig{
			MaxDrawdownStopPct:    mustDecimal(cfg.Autonomous.MaxDrawdownStopPct, logger, "autonomous.max_drawdown_stop_pct"),
			CooldownAfterFailures: cfg.Autonomous.CooldownAfterFailures,
			CooldownWindow:        cfg.Autonomous.CooldownWindow,
		},
	})
	// Settlement outcomes feed the loop's failure streaks and cooldowns.
	sinks = append(sinks, &autonomous.OutcomeSink{Service: autoSvc})

	execSvc := execution.NewService(st, registry, feeEngine, venueClient, tracker, sinks, logger, execution.Config{
		DefaultMode:      models.ExecutionMode(cfg.Execution.DefaultMode),
		LiveEnabled:      cfg.Venue.LiveEnabled,
		MaxVenueAttempts: cfg.Venue.MaxAttempts,
		RetryBaseDelay:   cfg.Venue.RetryBaseDelay,
		RetryMaxDelay:    cfg.Venue.RetryMaxDelay,
		PollInterval:     cfg.Execution.PollInterval,
	})

	var dbConn *db.DB
	var archiveSvc *archive.Service
	if cfg.Archive.Enabled {
		dbConn, err = db.Open(cfg.DB)
		if err != nil {
			logger.Fatal("db open failed", zap.Error(err))
		}
		defer db.Close(dbConn)
		if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
			logger.Warn("failed to set timezone", zap.Error(err))
		}
		if err := db.AutoMigrate(dbConn, archive.Tables()...); err != nil {
			logger.Fatal("auto-migrate failed", zap.Error(err))
		}
		archiveSvc = &archive.Service{DB: dbConn, Store: st, Logger: logger}
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	jwtCfg := auth.JWT{Secret: []byte(cfg.Auth.JWTSecret), TokenTTL: cfg.Auth.TokenTTL}
	var protected []gin.HandlerFunc
	if cfg.Auth.Enabled {
		if cfg.Auth.JWTSecret == "" {
			logger.Fatal("auth enabled without auth.jwt_secret")
		}
		protected = append(protected, auth.Middleware(jwtCfg))
	}

	healthHandler := &handler.HealthHandler{Store: st, DB: dbConn}
	healthHandler.Register(engine)
	if cfg.Auth.Enabled {
		tokenHandler := &handler.TokenHandler{Store: st, JWT: jwtCfg}
		tokenHandler.Register(engine)
	}
	intentHandler := &handler.IntentHandler{Intents: intentSvc, AuthEnabled: cfg.Auth.Enabled}
	intentHandler.Register(engine, protected...)
	receiptHandler := &handler.ReceiptHandler{Store: st}
	receiptHandler.Register(engine, protected...)
	agentHandler := &handler.AgentHandler{Store: st}
	agentHandler.Register(engine, protected...)
	autonomousHandler := &handler.AutonomousHandler{Store: st, Service: autoSvc}
	autonomousHandler.Register(engine, protected...)
	pipelineHandler := &handler.PipelineHandler{Tracker: tracker}
	pipelineHandler.Register(engine, protected...)
	metricsHandler := &handler.MetricsHandler{Store: st, Limiter: limiter}
	metricsHandler.Register(engine, protected...)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	baseCtx, cancelBase := context.WithCancel(ctx)
	defer cancelBase()

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, baseCtx)
		if archiveSvc != nil {
			if _, err := cronRunner.Add(cfg.Cron.Snapshot, func(jobCtx context.Context) {
				if err := archiveSvc.SnapshotNow(jobCtx); err != nil {
					logger.Warn("state snapshot failed", zap.Error(err))
				}
				if err := archiveSvc.ArchiveLedger(jobCtx); err != nil {
					logger.Warn("ledger archive failed", zap.Error(err))
				}
			}); err != nil {
				logger.Fatal("schedule snapshot job failed", zap.Error(err))
			}
		}
		if _, err := cronRunner.Add(cfg.Cron.ChainAudit, func(context.Context) {
			auditChain(st, logger)
		}); err != nil {
			logger.Fatal("schedule chain audit failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	go func() {
		if err := execSvc.Run(baseCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("execution worker stopped", zap.Error(err))
		}
	}()

	if cfg.MarketData.Enabled {
		go func() {
			if err := feed.Run(baseCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("market data feed stopped", zap.Error(err))
			}
		}()
	}

	autoSvc.Start(baseCtx)
	defer autoSvc.Stop()

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func seedAgents(st *store.Store, seeds []config.AgentSeed) error {
	if len(seeds) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return st.Update(func(state *models.State) error {
		for _, seed := range seeds {
			cash, err := decimal.NewFromString(seed.CashUSD)
			if err != nil {
				return err
			}
			agent := &models.Agent{
				ID:                     seed.ID,
				Name:                   seed.Name,
				StrategyID:             seed.StrategyID,
				APIKey:                 seed.APIKey,
				CashUSD:                cash,
				PeakEquityUSD:          cash,
				Positions:              map[string]*models.Position{},
				DailyRealizedPnlUSD:    map[string]decimal.Decimal{},
				RiskRejectionsByReason: map[string]int64{},
				CreatedAt:              now,
			}
			limits := []struct {
				raw string
				dst *decimal.Decimal
			}{
				{seed.MaxOrderNotionalUSD, &agent.Risk.MaxOrderNotionalUSD},
				{seed.MaxPositionSizePct, &agent.Risk.MaxPositionSizePct},
				{seed.MaxGrossExposureUSD, &agent.Risk.MaxGrossExposureUSD},
				{seed.MaxDrawdownPct, &agent.Risk.MaxDrawdownPct},
				{seed.DailyLossCapUSD, &agent.Risk.DailyLossCapUSD},
			}
			for _, l := range limits {
				if l.raw == "" {
					continue
				}
				v, err := decimal.NewFromString(l.raw)
				if err != nil {
					return err
				}
				*l.dst = v
			}
			agent.Risk.CooldownSeconds = seed.CooldownSeconds
			state.Agents[agent.ID] = agent
		}
		return nil
	})
}

func parseSeedPrices(raw map[string]string, logger *zap.Logger) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(raw))
	for sym, val := range raw {
		p, err := decimal.NewFromString(val)
		if err != nil {
			logger.Warn("bad seed price, skipping",
				zap.String("symbol", sym), zap.String("value", val))
			continue
		}
		prices[sym] = p
	}
	return prices
}

func mustDecimal(raw string, logger *zap.Logger, key string) decimal.Decimal {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		logger.Fatal("bad decimal config value", zap.String("key", key), zap.Error(err))
	}
	return v
}

func auditChain(st *store.Store, logger *zap.Logger) {
	snap := st.Snapshot()
	chain := make([]*models.ExecutionReceipt, 0, len(snap.ReceiptOrder))
	for _, id := range snap.ReceiptOrder {
		if r := snap.Receipts[id]; r != nil {
			chain = append(chain, r)
		}
	}
	res := receipt.VerifyChain(chain)
	if res.Valid {
		logger.Info("receipt chain audit ok", zap.Int("receipts", len(chain)))
		return
	}
	logger.Error("receipt chain audit failed",
		zap.Int("broken_at", res.BrokenAt),
		zap.String("reason", res.Reason),
		zap.Int("checked", res.Checked),
	)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
