// Package web is the loopback HTTP agent a local UI talks to. The cookie
// carries only the signed-in identity and an opaque key-session id; key
// pairs stay in the agent's memory.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"

	"github.com/tortoisewolfe/securemsg/ccc/logging"
	"github.com/tortoisewolfe/securemsg/keymanagement"
	"github.com/tortoisewolfe/securemsg/web/handlers"
	"github.com/tortoisewolfe/securemsg/web/middleware"
	agentsessions "github.com/tortoisewolfe/securemsg/web/sessions"
)

// Options configures the HTTP side of the agent
type Options struct {
	Addr           string
	TrustedProxies []string
	// AgentToken is the bearer token the host application must present to sign a user in
	AgentToken string
}

type Server struct {
	logger      logging.Logger
	router      *gin.Engine
	keySessions *agentsessions.KeySessionRegistry
	httpServer  *http.Server
}

// NewServer wires the handlers onto a gin router. manager must resolve the
// current user from the request context (auth.ContextSessionProvider).
func NewServer(logger logging.Logger, manager *keymanagement.Manager, cookieStore sessions.Store, opts Options) *Server {
	if logger == nil {
		logger = logging.NopLogger
	}

	identityStoreFactory := agentsessions.NewIdentityStoreFactory(cookieStore)
	keySessions := agentsessions.NewKeySessionRegistry(logger, manager)

	router := newEngine(opts.TrustedProxies)
	router.Use(gin.Recovery())

	// Set up handlers
	authHandler := handlers.NewAuthHandler(logger, identityStoreFactory, keySessions)
	keyHandler := handlers.NewKeyHandler(logger)

	// Set up middleware
	authMiddleware := middleware.NewAuthMiddleware(logger, identityStoreFactory, keySessions)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Sign-in is reserved for the host application holding the agent token
	authGroup := router.Group("/auth")
	authGroup.Use(middleware.RequireJSON)
	{
		authGroup.POST("/session", middleware.RequireAgentToken(logger, opts.AgentToken), authHandler.SignIn)
		authGroup.POST("/signout", authHandler.SignOut)
	}

	// Authenticated routes
	keyGroup := router.Group("/keys")
	keyGroup.Use(middleware.RequireJSON, authMiddleware.RequireAuth)
	{
		keyGroup.GET("/status", keyHandler.Status)
		keyGroup.POST("/initialize", keyHandler.Initialize)
		keyGroup.POST("/derive", keyHandler.Derive)
		keyGroup.POST("/migrate", keyHandler.Migrate)
		keyGroup.GET("/current", keyHandler.Current)
		keyGroup.DELETE("/current", keyHandler.Clear)
	}

	return &Server{
		logger:      logger,
		router:      router,
		keySessions: keySessions,
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the HTTP handler of the agent
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until Shutdown is called
func (s *Server) Run() error {
	s.logger.Info("Starting key agent on " + s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener and drops every cached key pair
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.keySessions.CloseAll()
	return s.httpServer.Shutdown(ctx)
}
