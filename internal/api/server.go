// Package api exposes the engine over HTTP and a websocket snapshot stream.
package api

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/cache"
	"binance-signal-engine/internal/database"
	"binance-signal-engine/internal/events"
	"binance-signal-engine/internal/market"
	"binance-signal-engine/internal/ml"
	"binance-signal-engine/internal/signal"
	"binance-signal-engine/internal/snapshot"
	"binance-signal-engine/internal/tracker"
)

// RateLimiter provides simple in-memory rate limiting per client IP.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Store is the persistence surface the API reads from. Both the PostgreSQL
// repository and the in-memory store satisfy it.
type Store interface {
	ExportCompletedCSV(ctx context.Context, w io.Writer) error
	CompletedTrainingRecords(ctx context.Context) ([]ml.TrainingRecord, error)
	SaveModelMetrics(ctx context.Context, m database.ModelMetrics) error
}

// Deps bundles the read-only handles the handlers serve from.
type Deps struct {
	Config    *config.Config
	Store     *market.DataStore
	Engine    *signal.Engine
	Tracker   *tracker.OutcomeTracker
	ML        *ml.Client          // nil when the predictor is disabled
	DB        Store               // never nil; memory store when PostgreSQL is off
	Cache     *cache.CacheService // nil when Redis is disabled
	Bus       *events.EventBus
	Connected func() bool
}

// Server is the HTTP API server.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	deps        Deps
	hub         *WSHub
	rateLimiter *RateLimiter
	startedAt   time.Time
}

// NewServer builds the router and the websocket hub. Call Start to listen.
func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	origins := strings.Split(deps.Config.ServerConfig.AllowedOrigins, ",")
	if len(origins) == 1 && strings.TrimSpace(origins[0]) == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	corsConfig.ExposeHeaders = []string{"Content-Length", "Content-Disposition"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		deps:        deps,
		hub:         NewWSHub(),
		rateLimiter: NewRateLimiter(120, time.Minute),
		startedAt:   time.Now(),
	}

	server.setupRoutes()
	go server.hub.Run()

	// Every bus event rides along on the stream between snapshot ticks.
	deps.Bus.SubscribeAll(func(event events.Event) {
		server.broadcastEvent(event)
	})

	return server
}

// Hub exposes the snapshot fan-out so the scheduler can publish into it.
func (s *Server) Hub() *WSHub {
	return s.hub
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	{
		api.GET("/status", s.handleStatus)
		api.GET("/snapshot", s.handleSnapshot)

		api.GET("/signals", s.handleSignals)
		api.GET("/signals/top", s.handleTopSignals)
		api.GET("/signals/early", s.handleEarlyEntries)
		api.GET("/signals/reversals", s.handleReversalSignals)
		api.GET("/signals/breakouts", s.handleBreakouts)
		api.GET("/signals/lowrisk", s.handleLowRiskSetups)

		api.GET("/winrate", s.handleWinRate)
		api.GET("/export/features.csv", s.handleExportCSV)

		api.GET("/ml/stats", s.handleMLStats)
		api.POST("/ml/train", s.handleMLTrain)
	}
}

// Start listens until the server is shut down. Blocks.
func (s *Server) Start() error {
	cfg := s.deps.Config.ServerConfig
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}

	log.Printf("API server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// PublishSnapshot forwards one document to the websocket subscribers and the
// cold-read cache.
func (s *Server) PublishSnapshot(doc *snapshot.Document) {
	s.hub.PublishSnapshot(doc)

	if s.deps.Cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.deps.Cache.SetJSON(ctx, cache.KeyLatestSnapshot, doc, cache.SnapshotTTL); err == nil {
			s.deps.Cache.SetJSON(ctx, cache.KeyMarketSentiment, doc.Sentiment, cache.AggregateTTL)
			s.deps.Cache.SetJSON(ctx, cache.KeyWinRateStats, doc.Stats, cache.AggregateTTL)
		}
	}
}

func (s *Server) broadcastEvent(event events.Event) {
	data, err := eventJSON(event)
	if err != nil {
		return
	}
	select {
	case s.hub.broadcast <- data:
	default:
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	ip := c.ClientIP()
	if !s.hub.canAccept(ip) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "connection limit reached for this address",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan []byte, 8),
		hub:  s.hub,
		ip:   ip,
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}
