package routes

import (
	"github.com/filip-herceg/reviewpoint-realtime/internal/api/handlers"
	"github.com/filip-herceg/reviewpoint-realtime/internal/api/middleware"
	"github.com/filip-herceg/reviewpoint-realtime/internal/config"
	"github.com/filip-herceg/reviewpoint-realtime/internal/websocket"
	"github.com/gin-gonic/gin"
)

// Router owns the gin engine and wires the gateway's HTTP surface: the
// WebSocket upgrade endpoint plus health and statistics.
type Router struct {
	engine *gin.Engine
	hub    *websocket.Hub
	cfg    *config.Config
}

func NewRouter(hub *websocket.Hub, cfg *config.Config) *Router {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.LogAPI())
	engine.Use(middleware.CORS())

	return &Router{
		engine: engine,
		hub:    hub,
		cfg:    cfg,
	}
}

func (r *Router) SetupRoutes() {
	wsHandler := handlers.NewWSHandler(r.hub)
	statsHandler := handlers.NewStatsHandler(r.hub)
	upgradeLimiter := middleware.NewUpgradeLimiter(
		r.cfg.Gateway.UpgradeRatePerSecond,
		r.cfg.Gateway.UpgradeBurst,
	)

	r.engine.GET("/health", statsHandler.HandleHealth)

	api := r.engine.Group("/api/v1")
	{
		api.GET("/ws",
			upgradeLimiter.Handler(),
			middleware.WSAuth(r.cfg.JWT.Secret),
			wsHandler.HandleWebSocket,
		)
		api.GET("/ws/stats",
			middleware.WSAuth(r.cfg.JWT.Secret),
			statsHandler.HandleStats,
		)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
