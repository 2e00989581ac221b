// Package admin serves the HTTP side of a running endpoint: health,
// readiness, prometheus metrics and a status snapshot.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/sockframe/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Table is the socket server surface the admin routes report on.
type Table interface {
	Name() string
	Addr() string
	Running() bool
	Conns() []int
	Accepted() int
	LastSend() time.Time
}

type Config struct {
	Addr        string
	CORSOrigins []string
}

// Status is the /status payload.
type Status struct {
	Name        string    `json:"name"`
	Addr        string    `json:"addr"`
	Running     bool      `json:"running"`
	Connections []int     `json:"connections"`
	Accepted    int       `json:"accepted"`
	LastSend    time.Time `json:"last_send"`
	IdleSeconds float64   `json:"idle_seconds"`
	Detail      any       `json:"detail,omitempty"`
}

type Server struct {
	cfg    Config
	table  Table
	router *gin.Engine

	mu     sync.Mutex
	detail func() any
	srv    *http.Server
	ln     net.Listener
}

func New(cfg Config, table Table) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(table.Name()))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{cfg: cfg, table: table, router: r}
	s.registerRoutes()
	return s
}

// SetDetail attaches an application snapshot to /status.
func (s *Server) SetDetail(fn func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detail = fn
}

func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"name":   s.table.Name(),
		})
	})
	s.router.GET("/ready", func(c *gin.Context) {
		if !s.table.Running() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopped"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "addr": s.table.Addr()})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Snapshot())
	})
}

func (s *Server) Snapshot() Status {
	st := Status{
		Name:        s.table.Name(),
		Addr:        s.table.Addr(),
		Running:     s.table.Running(),
		Connections: s.table.Conns(),
		Accepted:    s.table.Accepted(),
		LastSend:    s.table.LastSend(),
	}
	if !st.LastSend.IsZero() {
		st.IdleSeconds = time.Since(st.LastSend).Seconds()
	}
	s.mu.Lock()
	detail := s.detail
	s.mu.Unlock()
	if detail != nil {
		st.Detail = detail()
	}
	return st
}

// Start listens on cfg.Addr and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()
	log.Info().Str("addr", ln.Addr().String()).Msg("admin.Server.Start listening")
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("admin.Server serve stopped")
		}
	}()
	return nil
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.cfg.Addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
