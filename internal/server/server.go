package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"gorm.io/gorm"

	"github.com/pipps-app/ProductFormulator-sub000/internal/handlers"
	applog "github.com/pipps-app/ProductFormulator-sub000/internal/log"
)

const (
	defaultSessionLifetime = 12 * time.Hour
	defaultCookieName      = "formulator_session"
	defaultShutdownTimeout = 5 * time.Second
)

// Config captures the runtime configuration for the HTTP server.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Session         SessionConfig
	Lifecycle       LifecycleConfig
	Database        *gorm.DB
}

// SessionConfig controls the session cookie.
type SessionConfig struct {
	Lifetime     time.Duration
	CookieName   string
	CookieDomain string
	CookieSecure bool
}

// LifecycleConfig tunes when deleting a formulation archives it instead.
// Zero values select the defaults.
type LifecycleConfig struct {
	HistoryAge time.Duration
	EditGrace  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Session.Lifetime <= 0 {
		c.Session.Lifetime = defaultSessionLifetime
	}
	if strings.TrimSpace(c.Session.CookieName) == "" {
		c.Session.CookieName = defaultCookieName
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return c
}

// Server serves the formulation API.
type Server struct {
	config     Config
	httpServer *http.Server
}

// New wires the handlers to cfg.Database and builds the session-aware
// handler chain.
func New(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()

	sessionManager := newSessionManager(cfg.Session)
	handlers.Configure(sessionManager, cfg.Database,
		handlers.WithLifecycleThresholds(cfg.Lifecycle.HistoryAge, cfg.Lifecycle.EditGrace),
	)

	applog.Info(context.Background(), "server configured",
		"addr", cfg.Addr,
		"session_cookie", cfg.Session.CookieName,
		"session_lifetime", cfg.Session.Lifetime.String(),
		"history_age", cfg.Lifecycle.HistoryAge.String(),
		"edit_grace", cfg.Lifecycle.EditGrace.String(),
		"database", cfg.Database != nil,
	)

	return &Server{
		config: cfg,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           sessionManager.LoadAndSave(newRouter()),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func newSessionManager(cfg SessionConfig) *scs.SessionManager {
	sm := scs.New()
	sm.Lifetime = cfg.Lifetime
	sm.Cookie.Name = cfg.CookieName
	sm.Cookie.Domain = cfg.CookieDomain
	sm.Cookie.HttpOnly = true
	sm.Cookie.Persist = true
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Secure = cfg.CookieSecure
	return sm
}

// Start listens on the configured address until Stop is called.
func (s *Server) Start() error {
	applog.Info(context.Background(), "server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server within the configured timeout.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	applog.Info(ctx, "server shutting down", "timeout", s.config.ShutdownTimeout.String())
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the configured HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
