// Package web exposes two HTTP surfaces: the public subscription payload
// endpoint that proxy clients poll, and a JWT-guarded management API for
// provisioning operations.
package web

import (
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/benAliAlizadeh/mahsabot/internal/config"
	"github.com/benAliAlizadeh/mahsabot/internal/constants"
	"github.com/benAliAlizadeh/mahsabot/internal/services"
)

// Server hosts the HTTP surface
type Server struct {
	router  *gin.Engine
	handler *Handler
	cfg     config.HTTPConfig
	logger  *logrus.Logger
}

// NewServer builds the router and wires all routes
func NewServer(cfg config.HTTPConfig, lifecycle *services.LifecycleManager, subs services.SubscriptionStore, nodes services.NodeStore, qr *services.QRService, logger *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	handler := &Handler{
		lifecycle: lifecycle,
		subs:      subs,
		nodes:     nodes,
		qr:        qr,
		// rendered payloads are cached briefly so client auto-update polling
		// does not hammer the panels
		payloads:  cache.New(constants.PayloadCacheTTL, constants.PayloadCacheCleanup),
		publicURL: cfg.PublicURL,
		logger:    logger,
	}

	s := &Server{
		router:  router,
		handler: handler,
		cfg:     cfg,
		logger:  logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// public: proxy clients fetch their payload by opaque token
	s.router.GET("/sub/:token", s.handler.SubscriptionPayload)
	s.router.GET("/sub/:token/qr", s.handler.SubscriptionQR)

	api := s.router.Group("/api/v1")
	api.Use(JWTAuthMiddleware(s.cfg.JWTSecret))
	{
		api.POST("/subscriptions", s.handler.CreateSubscription)
		api.GET("/subscriptions/lookup", s.handler.LookupSubscription)
		api.GET("/subscriptions/:id", s.handler.GetSubscription)
		api.DELETE("/subscriptions/:id", s.handler.DeleteSubscription)

		api.POST("/subscriptions/:id/renew", s.handler.RenewSubscription)
		api.POST("/subscriptions/:id/addon", s.handler.AddOnSubscription)
		api.POST("/subscriptions/:id/enable", s.handler.EnableSubscription)
		api.POST("/subscriptions/:id/disable", s.handler.DisableSubscription)
		api.POST("/subscriptions/:id/switch", s.handler.SwitchSubscriptionNode)
		api.POST("/subscriptions/:id/rotate", s.handler.RotateSubscriptionCredential)

		api.GET("/subscriptions/:id/links", s.handler.SubscriptionLinks)
		api.GET("/subscriptions/:id/traffic", s.handler.SubscriptionTraffic)
	}
}

// Run starts the HTTP server on the configured address
func (s *Server) Run() error {
	s.logger.Infof("HTTP server listening on %s", s.cfg.ListenAddr)
	return s.router.Run(s.cfg.ListenAddr)
}
