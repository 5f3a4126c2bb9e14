// Package main is the entry point for the Investment Assistant backend: a
// quote reconciliation service that merges Chinese market feeds, global REST
// providers, an on-chain price feed and an AI search fallback into one
// consistent asset collection for the dashboard UI.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/barton333/Investment-Assistant/internal/aisearch"
	"github.com/barton333/Investment-Assistant/internal/catalog"
	"github.com/barton333/Investment-Assistant/internal/config"
	"github.com/barton333/Investment-Assistant/internal/fetch"
	"github.com/barton333/Investment-Assistant/internal/history"
	"github.com/barton333/Investment-Assistant/internal/model"
	"github.com/barton333/Investment-Assistant/internal/otel"
	"github.com/barton333/Investment-Assistant/internal/reconcile"
	"github.com/barton333/Investment-Assistant/internal/store"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server owns the in-memory asset collection and serves it over HTTP. All
// price movement goes through the reconciliation engine; handlers only ever
// read the collection or trigger a refresh.
type Server struct {
	cfg    *config.Config
	engine *reconcile.Engine
	store  *store.Store
	server *http.Server

	// rateLimit throttles the public API endpoints
	rateLimit *rate.Limiter

	// assets is the reconciled collection; mu guards reads against the
	// background refresh swapping it out
	mu     sync.RWMutex
	assets []model.Asset

	lastRefresh time.Time
}

// main is the entry point for the application
func main() {
	setupLogging()

	cfg := config.Load()

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	server := NewServer(&cfg)
	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}

// createProviders builds the structured provider adapters. The Chainlink
// reader only joins the pool when an RPC endpoint is configured.
func createProviders(cfg *config.Config) []fetch.Provider {
	providers := []fetch.Provider{
		fetch.NewSinaClient(cfg.SinaURL, cfg.ProviderTimeout),
		fetch.NewFuturesClient(cfg.SinaURL, cfg.ProviderTimeout),
		fetch.NewTencentClient(cfg.TencentURL, cfg.ProviderTimeout),
		fetch.NewExchangeRateClient(cfg.FXRateURL, cfg.ProviderTimeout),
		fetch.NewCoinGeckoClient(cfg.GeckoURL, cfg.ProviderTimeout),
	}
	if cfg.EthRPCEndpoint != "" {
		providers = append(providers, fetch.NewChainlinkClient(cfg.EthRPCEndpoint, cfg.ProviderTimeout))
	}
	return providers
}

// NewServer creates a new server instance with the full provider pool and a
// warm asset collection.
func NewServer(cfg *config.Config) *Server {
	st := store.New(cfg.DataDir)

	ai := aisearch.New(cfg.GeminiAPIKey, cfg.GeminiBaseURL, cfg.GeminiModel)
	if !ai.Enabled() {
		logrus.Warn("GEMINI_API_KEY not set; AI search fallback disabled, unresolved assets degrade straight to cache")
	}

	engine := reconcile.New(reconcile.Options{
		Config:    cfg,
		Providers: createProviders(cfg),
		AI:        ai,
		Store:     st,
	})

	s := &Server{
		cfg:       cfg,
		engine:    engine,
		store:     st,
		rateLimit: rate.NewLimiter(rate.Limit(config.GetEnvAsFloat("RATE_LIMIT_RPS", 10.0)), config.GetEnvAsInt("RATE_LIMIT_BURST", 20)),
		assets:    seedAssets(st),
	}

	logrus.WithFields(logrus.Fields{
		"port":             cfg.Port,
		"refresh_interval": cfg.RefreshInterval,
		"assets":           len(s.assets),
		"ai_fallback":      ai.Enabled(),
		"onchain_feeds":    cfg.EthRPCEndpoint != "",
	}).Info("Server initialized")

	return s
}

// seedAssets restores the last persisted snapshot, falling back to the
// catalog seeds. Every asset leaves here with a non-empty history so the UI
// can chart immediately, before the first live refresh lands.
func seedAssets(st *store.Store) []model.Asset {
	if snapshot := st.LoadSnapshot(); len(snapshot) > 0 {
		logrus.Infof("Restored %d assets from snapshot", len(snapshot))
		return snapshot
	}

	assets := catalog.Assets()
	for i := range assets {
		assets[i].History = history.Generate(assets[i].Price, history.DefaultPoints)
		assets[i].RecomputeChange()
	}
	logrus.Infof("Seeded %d assets from catalog", len(assets))
	return assets
}

// Start begins the HTTP server, the background refresh loop and sets up
// graceful shutdown.
func (s *Server) Start() {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/assets", s.handleAssets)   // Reconciled asset collection
	mux.HandleFunc("/api/refresh", s.handleRefresh) // Manual refresh trigger
	mux.HandleFunc("/health", s.handleHealth)       // Health check endpoint
	mux.HandleFunc("/status", s.handleStatus)       // Service status endpoint
	mux.Handle("/metrics", promhttp.Handler())      // Prometheus metrics endpoint

	s.server = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.refreshLoop(ctx)

	go func() {
		logrus.Infof("Server starting on port %s", s.cfg.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logrus.Fatalf("Server shutdown failed: %v", err)
	}

	logrus.Info("Server stopped")
}

// refreshLoop runs one refresh immediately at startup and then on every
// tick. The engine's own guard suppresses overlap with manual refreshes.
func (s *Server) refreshLoop(ctx context.Context) {
	s.refresh(ctx)

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

// refresh runs one reconciliation cycle over the configured target set and
// swaps the collection atomically.
func (s *Server) refresh(ctx context.Context) {
	s.mu.RLock()
	current := s.assets
	s.mu.RUnlock()

	targets := current
	if s.cfg.FetchVisibleOnly && len(s.cfg.VisibleAssets) > 0 {
		targets = filterByID(current, s.cfg.VisibleAssets)
	}

	updated := s.engine.Refresh(ctx, targets)

	s.mu.Lock()
	s.assets = mergeByID(current, updated)
	s.lastRefresh = time.Now()
	s.mu.Unlock()
}

// handleAssets serves the reconciled collection, optionally narrowed to the
// visible subset via ?visible=true.
func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit.Allow() {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	s.mu.RLock()
	assets := s.assets
	s.mu.RUnlock()

	if r.URL.Query().Get("visible") == "true" && len(s.cfg.VisibleAssets) > 0 {
		assets = filterByID(assets, s.cfg.VisibleAssets)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(assets)
}

// handleRefresh triggers a reconciliation cycle on demand. A cycle already
// in flight is suppressed by the engine, never queued, so this endpoint is
// safe to hammer.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.rateLimit.Allow() {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	s.refresh(r.Context())

	s.mu.RLock()
	assets := s.assets
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(assets)
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "OK",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	assetCount := len(s.assets)
	lastRefresh := s.lastRefresh
	liveCount := 0
	for _, a := range s.assets {
		if len(a.Sources) > 0 && a.Sources[0] != model.SourceCache && a.Sources[0] != model.SourceOffline {
			liveCount++
		}
	}
	s.mu.RUnlock()

	status := map[string]interface{}{
		"status":  "operational",
		"uptime":  time.Since(startTime).String(),
		"version": "1.0.0",
		"assets":  assetCount,
		"live":    liveCount,
		"configuration": map[string]interface{}{
			"refresh_interval":   s.cfg.RefreshInterval.String(),
			"fetch_visible_only": s.cfg.FetchVisibleOnly,
			"ai_fallback":        s.cfg.GeminiAPIKey != "",
			"onchain_feeds":      s.cfg.EthRPCEndpoint != "",
		},
	}
	if !lastRefresh.IsZero() {
		status["last_refresh"] = lastRefresh.UTC().Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
