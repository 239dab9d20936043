// Package server exposes a running scan over HTTP: progress, pause and
// resume, results export, a websocket snapshot stream and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rootsploit/voyage/internal/control"
	"github.com/rootsploit/voyage/internal/logger"
	"github.com/rootsploit/voyage/internal/progress"
	"github.com/rootsploit/voyage/internal/storage"
	"github.com/rootsploit/voyage/internal/version"
	"github.com/rootsploit/voyage/web"
)

// DefaultPushInterval is how often snapshots are pushed to websocket clients
const DefaultPushInterval = time.Second

// Config holds server configuration
type Config struct {
	Addr           string
	AllowedOrigins []string
	Debug          bool
	PushInterval   time.Duration
}

// Deps are the collaborators the server reads from. Gatherer and Logger are optional.
type Deps struct {
	Store    *storage.Store
	ScanID   string
	Gatherer prometheus.Gatherer
	Logger   logger.Logger
}

// Server is the HTTP observer of one scan
type Server struct {
	config   Config
	router   *gin.Engine
	store    *storage.Store
	scanID   string
	gatherer prometheus.Gatherer
	logger   logger.Logger
	hub      *Hub

	mu      sync.RWMutex
	tracker *progress.Tracker
	pause   *control.Pause
	addr    string

	quit     chan struct{}
	quitOnce sync.Once
}

// New creates a server. Routes answer 503 until a tracker is attached.
func New(cfg Config, deps Deps) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = DefaultPushInterval
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = defaultOrigins(cfg.Addr)
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}

	s := &Server{
		config:   cfg,
		router:   gin.New(),
		store:    deps.Store,
		scanID:   deps.ScanID,
		gatherer: deps.Gatherer,
		logger:   deps.Logger,
		hub:      NewHub(deps.Logger),
		quit:     make(chan struct{}),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// defaultOrigins allows the dashboard's own address under both loopback names
func defaultOrigins(addr string) []string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return []string{"http://localhost", "http://127.0.0.1"}
	}
	return []string{"http://localhost:" + port, "http://127.0.0.1:" + port}
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Attach binds the scan state the routes read and write
func (s *Server) Attach(tracker *progress.Tracker, pause *control.Pause) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker = tracker
	s.pause = pause
}

func (s *Server) attached() (*progress.Tracker, *control.Pause) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker, s.pause
}

// Addr returns the bound listen address once Observe is serving
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Quit makes Observe return
func (s *Server) Quit() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestLogger())
	s.router.Use(securityHeaders())
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:  s.config.AllowedOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}))
	s.router.Use(newRateLimiter(20, 100).middleware())
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	api := s.router.Group("/api")
	api.GET("/version", s.getVersion)

	scan := api.Group("")
	scan.Use(s.requireTracker())
	{
		scan.GET("/scan", s.getScan)
		scan.GET("/progress", s.getProgress)
		scan.GET("/results", s.getResults)
		scan.GET("/candidates", s.listCandidates)
		scan.GET("/logs", s.getLogs)
		scan.POST("/pause", s.pauseScan)
		scan.POST("/resume", s.resumeScan)
		scan.POST("/quit", s.quitObserver)
	}

	s.router.GET("/ws", s.requireTracker(), s.handleWebSocket)

	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	// Dashboard page for unmatched routes
	if webFS, err := web.GetFS(); err == nil && web.HasAssets() {
		s.router.NoRoute(gin.WrapH(http.FileServer(webFS)))
	}
}

// securityHeaders adds security headers to all responses
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// requestLogger logs API requests at debug level
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if !strings.HasPrefix(path, "/api/") {
			return
		}
		s.logger.Debug("http request",
			logger.String("method", c.Request.Method),
			logger.String("path", path),
			logger.Int("status", c.Writer.Status()),
			logger.String("client_ip", c.ClientIP()),
			logger.Duration("latency", time.Since(start)),
		)
	}
}

// requireTracker rejects scan routes until a scan is attached
func (s *Server) requireTracker() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tracker, _ := s.attached(); tracker == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "scan not started"})
			return
		}
		c.Next()
	}
}

// Observe serves the dashboard until the scan completes, a client posts
// /api/quit, or ctx is cancelled.
func (s *Server) Observe(ctx context.Context, tracker *progress.Tracker, pause *control.Pause) error {
	s.Attach(tracker, pause)

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	color.New(color.FgCyan).Printf("\n[*] voyage dashboard\n")
	fmt.Printf("    Version: %s\n", version.Version)
	fmt.Printf("    Address: http://%s\n", s.addr)
	fmt.Printf("    Scan:    %s\n\n", tracker.Snapshot().ScanID)
	s.logger.Info("dashboard listening", logger.String("addr", s.addr))

	ticker := time.NewTicker(s.config.PushInterval)
	defer ticker.Stop()

	var result error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-s.quit:
			break loop
		case err := <-serveErr:
			result = err
			break loop
		case <-tracker.Done():
			s.hub.Broadcast(Message{Type: MessageCompleted, Data: s.snapshotView(tracker, pause)})
			break loop
		case <-ticker.C:
			s.hub.Broadcast(Message{Type: MessageSnapshot, Data: s.snapshotView(tracker, pause)})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.hub.CloseAll()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && result == nil {
		result = fmt.Errorf("server shutdown failed: %w", err)
	}
	return result
}
