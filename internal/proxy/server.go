package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/glasslm/internal/audit"
	"github.com/raaihank/glasslm/internal/cache"
	"github.com/raaihank/glasslm/internal/config"
	"github.com/raaihank/glasslm/internal/logger"
	"github.com/raaihank/glasslm/internal/privacy"
	"github.com/raaihank/glasslm/internal/security"
	"github.com/raaihank/glasslm/internal/session"
	"github.com/raaihank/glasslm/internal/web"
	"github.com/raaihank/glasslm/internal/websocket"
)

// Version is reported by /info
const Version = "0.3.0"

// AuditRecorder persists detection metadata
type AuditRecorder interface {
	RecordMasking(ctx context.Context, meta audit.Meta, items []privacy.MaskedItem) (*audit.BatchResult, error)
	RecordLeakage(ctx context.Context, meta audit.Meta, warnings []privacy.LeakageWarning) (*audit.BatchResult, error)
}

// AuditReader is implemented by audit backends that can be queried.
// GET /v1/audit is served only when the configured recorder is one.
type AuditReader interface {
	Summarize(ctx context.Context, since time.Time) (*audit.Summary, error)
	RecentMasking(ctx context.Context, limit int) ([]audit.MaskingEvent, error)
	RecentLeakage(ctx context.Context, limit int) ([]audit.LeakageEvent, error)
}

// Dependencies are the collaborators the server is built from.
// Counter, Audit and Hub are optional.
type Dependencies struct {
	Detector *privacy.Detector
	Sessions *session.Store
	Counter  cache.Counter
	Audit    AuditRecorder
	Hub      *websocket.Hub
}

// Server represents the local API and provider pass-through server
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	detector  *privacy.Detector
	sessions  *session.Store
	counter   cache.Counter
	audit     AuditRecorder
	limiter   *security.RateLimiter
	router    *mux.Router
	server    *http.Server
	wsHub     *websocket.Hub
	transport http.RoundTripper
	startTime time.Time

	totalRequests atomic.Int64
	totalMasked   atomic.Int64
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, deps Dependencies) (*Server, error) {
	if deps.Detector == nil {
		return nil, fmt.Errorf("privacy detector is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewStore(cfg.Privacy.Registry.SessionTTL)
	}
	if deps.Counter == nil {
		deps.Counter = cache.NewMemoryCounter(cfg.Stats.Retention)
	}
	if deps.Hub == nil {
		deps.Hub = websocket.NewHub(nil, log.Logger)
	}

	s := &Server{
		config:   cfg,
		logger:   log.WithComponent("proxy"),
		detector: deps.Detector,
		sessions: deps.Sessions,
		counter:  deps.Counter,
		audit:    deps.Audit,
		limiter:  security.NewRateLimiter(cfg.RateLimit),
		router:   mux.NewRouter(),
		wsHub:    deps.Hub,
		transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: cfg.Upstream.Timeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   8,
		},
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware, s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	s.router.HandleFunc("/", web.ServeDashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods(http.MethodGet)

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.limiter.Middleware, s.bodyLimitMiddleware)
	api.HandleFunc("/mask", s.handleMask).Methods(http.MethodPost)
	api.HandleFunc("/unmask", s.handleUnmask).Methods(http.MethodPost)
	api.HandleFunc("/leakage", s.handleLeakage).Methods(http.MethodPost)
	api.HandleFunc("/risk", s.handleRisk).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	api.HandleFunc("/rules/{name}", s.handleSetRule).Methods(http.MethodPut)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)

	providers := s.router.PathPrefix("/{provider:openai|anthropic|google|xai|deepseek|mistral|ollama}").Subrouter()
	providers.Use(s.limiter.Middleware, s.bodyLimitMiddleware)
	providers.PathPrefix("/").HandlerFunc(s.handleProvider)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the server is stopped. Background loops end with ctx.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting glasslm server",
		zap.String("addr", s.server.Addr),
		zap.String("preset", s.detector.Preset()),
		zap.Strings("providers", providerNames(s.config.Upstream)),
	)

	go s.wsHub.Run(ctx)
	go s.statusLoop(ctx, 10*time.Second)
	s.limiter.StartCleanupRoutine(ctx)

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping glasslm server")
	return s.server.Shutdown(ctx)
}

func (s *Server) statusLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.wsHub.BroadcastEvent(websocket.Event{
				Type: websocket.EventTypeSystemStatus,
				Data: s.systemStatus(),
			})
		}
	}
}

func (s *Server) systemStatus() websocket.SystemStatusEvent {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return websocket.SystemStatusEvent{
		Status:           "healthy",
		Uptime:           time.Since(s.startTime).Round(time.Second).String(),
		Preset:           s.detector.Preset(),
		ActiveRules:      len(s.detector.GetEnabledRules()),
		ActiveSessions:   s.sessions.Len(),
		TotalRequests:    s.totalRequests.Load(),
		TotalMasked:      s.totalMasked.Load(),
		ConnectedClients: s.wsHub.ClientCount(),
		MemoryUsage:      fmt.Sprintf("%.1f MiB", float64(mem.Alloc)/(1<<20)),
	}
}

func providerNames(u config.UpstreamConfig) []string {
	names := make([]string, 0, 7)
	for name := range u.Providers() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
