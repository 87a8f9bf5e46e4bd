package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/PortExtender/internal/api/websocket"
	"github.com/KevinKickass/PortExtender/internal/auth"
	"github.com/KevinKickass/PortExtender/internal/config"
	"github.com/KevinKickass/PortExtender/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second, // a full bus scan runs inside the request
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in the background. A listener failure is reported on the
// returned channel instead of killing the process.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH (PUBLIC) ====================
		v1.POST("/auth/login", s.login)

		// ==================== PORT EXTENDER ====================
		pex := v1.Group("/pex")
		pex.Use(s.authService.AuthMiddleware())
		{
			pex.GET("", auth.RequirePermission(auth.PermOperator), s.getPex)
			pex.GET("/hardware", auth.RequirePermission(auth.PermOperator), s.getHardware)

			pex.PUT("", auth.RequirePermission(auth.PermAdmin), s.updatePex)
			pex.POST("/scan", auth.RequirePermission(auth.PermAdmin), s.scanBus)
			pex.POST("/test", auth.RequirePermission(auth.PermAdmin), s.testWrite)
		}

		// ==================== HOST CONTROLLER EVENTS (OPERATOR+) ====================
		hostEvents := v1.Group("/host")
		hostEvents.Use(s.authService.AuthMiddleware())
		hostEvents.Use(auth.RequirePermission(auth.PermOperator))
		{
			hostEvents.POST("/stations", s.postStations)
			hostEvents.POST("/options", s.postOptions)
			hostEvents.GET("/native-output", s.getNativeOutput)
		}

		// ==================== SYSTEM (OPERATOR+) ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		system.Use(auth.RequirePermission(auth.PermOperator))
		{
			system.GET("/status", s.getSystemStatus)
		}

		// ==================== WEBSOCKET (PUBLIC - Auth via first message) ====================
		v1.GET("/ws/live", s.wsLiveConnection)
		v1.GET("/ws/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.wsStatus)
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"pex_status": s.lm.Engine().Status().Status,
		"timestamp":  time.Now().Unix(),
	})
}
