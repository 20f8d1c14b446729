package main

import (
	"context"
	"fmt"
	"log"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/api"
	"binance-signal-engine/internal/binance"
	"binance-signal-engine/internal/cache"
	"binance-signal-engine/internal/database"
	"binance-signal-engine/internal/detectors"
	"binance-signal-engine/internal/events"
	"binance-signal-engine/internal/logging"
	"binance-signal-engine/internal/market"
	"binance-signal-engine/internal/ml"
	"binance-signal-engine/internal/scheduler"
	"binance-signal-engine/internal/signal"
	"binance-signal-engine/internal/snapshot"
	"binance-signal-engine/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.LoggingConfig)
	logger.Info().Msg("Structured logging initialized")

	eventBus := events.NewEventBus()

	// Rolling state. The price window must cover the longest lookback the
	// velocity detector and feature extraction read; the volume window feeds
	// the spike and whale detectors.
	priceWindowMin := cfg.VelocityConfig.WindowMinutes
	if priceWindowMin < 15 {
		priceWindowMin = 15
	}
	store := market.NewDataStore(
		market.RealClock{},
		time.Duration(priceWindowMin)*time.Minute,
		time.Duration(cfg.VolumeConfig.AvgWindowMinutes)*time.Minute,
	)

	var restClient binance.FuturesClient
	if cfg.BinanceConfig.MockMode {
		restClient = binance.NewMockClient()
		logger.Warn().Msg("Mock mode enabled, REST data is simulated")
	} else {
		restClient = binance.NewClient(
			cfg.BinanceConfig.BaseURL,
			time.Duration(cfg.BinanceConfig.RESTTimeout)*time.Second,
		)
	}

	stream := binance.NewTickerStream(
		cfg.BinanceConfig.StreamURL,
		time.Duration(cfg.BinanceConfig.ReconnectSec)*time.Second,
	)

	// Persistence: PostgreSQL when enabled, otherwise the in-memory store so
	// every downstream consumer keeps the same surface.
	var (
		db        *database.DB
		repo      *database.Repository
		memStore  *database.MemoryStore
		trackerDB tracker.Store
		apiStore  api.Store
		saver     scheduler.Saver
		sessionID string
	)
	ctx := context.Background()
	if cfg.DatabaseConfig.Enabled {
		db, err = database.NewDB(cfg.DatabaseConfig)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}

		repo = database.NewRepository(db)
		trackerDB, apiStore, saver = repo, repo, repo

		sessionID = uuid.NewString()
		if err := repo.StartSession(ctx, sessionID, time.Now()); err != nil {
			logger.Warn().Err(err).Msg("Failed to open session row")
		}
	} else {
		memStore = database.NewMemoryStore()
		trackerDB, apiStore, saver = memStore, memStore, memStore
		logger.Info().Msg("PostgreSQL disabled, using in-memory store")
	}

	var cacheService *cache.CacheService
	if cfg.RedisConfig.Enabled {
		cacheService, err = cache.NewCacheService(cfg.RedisConfig)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, continuing without cache")
			cacheService = nil
		} else {
			defer cacheService.Close()
		}
	}

	// Detector set. Construction order follows the read dependencies: the
	// composites at the end only consume the caches of the ones before.
	volatilityDet := detectors.NewVolatilityDetector(store, cfg.VolatilityConfig)
	volumeDet := detectors.NewVolumeDetector(store, cfg.VolumeConfig)
	velocityDet := detectors.NewVelocityDetector(store, cfg.VelocityConfig)
	rangeDet := detectors.NewRangeDetector(store, cfg.RangeConfig)
	newListingDet := detectors.NewNewListingDetector(store)
	fundingDet := detectors.NewFundingDetector(store, restClient)
	oiDet := detectors.NewOpenInterestDetector(store, restClient)
	mtfDet := detectors.NewMTFDetector(store, restClient, oiDet)
	liquidationDet := detectors.NewLiquidationDetector(store)
	whaleDet := detectors.NewWhaleDetector(store)
	correlationDet := detectors.NewCorrelationDetector(store)
	sentimentDet := detectors.NewSentimentDetector(store, fundingDet, oiDet)
	patternDet := detectors.NewPatternDetector(store, restClient, oiDet)
	entryDet := detectors.NewEntryTimingDetector(store, restClient, oiDet)
	topPicker := detectors.NewTopPicker(store, volumeDet, velocityDet, mtfDet, whaleDet, fundingDet, oiDet)

	var (
		mlClient  *ml.Client
		predictor signal.Predictor
	)
	if cfg.MLConfig.Enabled {
		mlClient = ml.NewClient(cfg.MLConfig, logger)
		predictor = mlClient
	}

	engineDet := signal.Detectors{
		Volume:      volumeDet,
		Velocity:    velocityDet,
		Funding:     fundingDet,
		OI:          oiDet,
		MTF:         mtfDet,
		Whale:       whaleDet,
		Correlation: correlationDet,
		Pattern:     patternDet,
		Entry:       entryDet,
	}
	engine := signal.NewEngine(store, engineDet, cfg, predictor, logger)
	reversal := signal.NewReversalEngine(store, engineDet)
	outcomes := tracker.NewOutcomeTracker(store, cfg.TrackerConfig, trackerDB, logger)

	// Signals still PENDING from a previous run keep their evaluation windows.
	if records, err := trackerDB.PendingSignalRecords(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to load pending signals")
	} else {
		outcomes.Restore(records)
	}

	filter := snapshot.NewFilter(cfg.FilterConfig)
	notifications := snapshot.NewNotificationBuffer(store.Clock())
	builder := snapshot.NewBuilder(snapshot.Sources{
		Store:       store,
		Volatility:  volatilityDet,
		Volume:      volumeDet,
		Velocity:    velocityDet,
		Range:       rangeDet,
		NewListing:  newListingDet,
		Funding:     fundingDet,
		OI:          oiDet,
		MTF:         mtfDet,
		Liquidation: liquidationDet,
		Whale:       whaleDet,
		Correlation: correlationDet,
		Sentiment:   sentimentDet,
		Pattern:     patternDet,
		Entry:       entryDet,
		TopPicker:   topPicker,
		Engine:      engine,
		Reversal:    reversal,
		Tracker:     outcomes,
	}, filter, notifications, cfg.UIConfig, stream.IsConnected)

	engine.OnEmit(func(emitted signal.Emitted) {
		sig := emitted.Signal
		outcomes.Record(context.Background(), emitted)
		eventBus.PublishSignal(sig.Symbol, string(sig.Direction), string(sig.EntryType),
			sig.EffectiveConfidence(), sig.Price)
		notifications.Push(snapshot.Notification{
			Type:   "SMART_SIGNAL",
			Symbol: sig.Symbol,
			Message: fmt.Sprintf("%s %s %s signal at %.1f%% confidence",
				sig.Symbol, sig.Direction, sig.EntryType, sig.EffectiveConfidence()),
			Level: "info",
		})
	})

	outcomes.OnComplete(func(record tracker.SignalRecord) {
		eventBus.PublishOutcome(record.Symbol, string(record.Outcome),
			record.PnlPercent, record.Confidence)
		level := "info"
		if record.Outcome == tracker.OutcomeLoss {
			level = "warning"
		}
		notifications.Push(snapshot.Notification{
			Type:   "SIGNAL_OUTCOME",
			Symbol: record.Symbol,
			Message: fmt.Sprintf("%s signal on %s closed %s at %+.2f%%",
				record.Direction, record.Symbol, record.Outcome, record.PnlPercent),
			Level: level,
		})
	})

	sched := scheduler.New(cfg, store, stream, scheduler.Detectors{
		Volume:      volumeDet,
		Volatility:  volatilityDet,
		Funding:     fundingDet,
		OI:          oiDet,
		MTF:         mtfDet,
		Pattern:     patternDet,
		Entry:       entryDet,
		Correlation: correlationDet,
		Whale:       whaleDet,
		Liquidation: liquidationDet,
		TopPicker:   topPicker,
	}, engine, outcomes, builder, eventBus, saver, logger)

	apiServer := api.NewServer(api.Deps{
		Config:    cfg,
		Store:     store,
		Engine:    engine,
		Tracker:   outcomes,
		ML:        mlClient,
		DB:        apiStore,
		Cache:     cacheService,
		Bus:       eventBus,
		Connected: stream.IsConnected,
	})
	sched.OnSnapshot(apiServer.PublishSnapshot)

	runCtx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		stream.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		sched.Run(runCtx)
	}()
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("API server failed")
			stop()
		}
	}()

	logger.Info().
		Int("port", cfg.ServerConfig.Port).
		Bool("ml", cfg.MLConfig.Enabled).
		Bool("db", cfg.DatabaseConfig.Enabled).
		Msg("Signal engine started")

	<-runCtx.Done()
	logger.Info().Msg("Shutdown signal received, draining")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("API server shutdown failed")
	}

	if repo != nil && sessionID != "" {
		opportunities, alerts := sched.Counters()
		if err := repo.EndSession(shutdownCtx, sessionID, time.Now(), opportunities, alerts); err != nil {
			logger.Warn().Err(err).Msg("Failed to close session row")
		}
	}

	logger.Info().Msg("Signal engine stopped")
}
