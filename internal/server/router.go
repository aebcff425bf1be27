package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/nurture-app/nurture-backend/internal/handlers"
	"github.com/nurture-app/nurture-backend/internal/middleware"
)

type RouterConfig struct {
	AllowedOrigins  []string
	AuthMiddleware  *middleware.AuthMiddleware
	Notifier        middleware.Notifier
	DB              handlers.Pinger
	ChatHandler     *handlers.ChatHandler
	ChatRoomHandler *handlers.ChatRoomHandler
	EventHandler    *handlers.EventHandler
	ProfileHandler  *handlers.ProfileHandler
	WsHandler       gin.HandlerFunc
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	//-----------------------------------------
	// Cors Setup
	//-----------------------------------------
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	router.Use(cors.New(corsCfg))

	//-----------------------------------------
	// Health Routes
	//-----------------------------------------
	router.GET("/healthz", handlers.Healthz(cfg.DB))

	//-----------------------------------------
	// Public Routes
	//-----------------------------------------
	api := router.Group("/api")
	api.Use(middleware.AttachRequestContext(cfg.Notifier))
	// Anonymous callers identify themselves in the body; turns are only saved
	// for authenticated users.
	api.POST("/chat", cfg.AuthMiddleware.OptionalAuth(), cfg.ChatHandler.Chat)

	//------------------------------------------
	// Protected Routes
	//------------------------------------------
	protected := api.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	protected.GET("/ws", cfg.WsHandler)

	// Chat rooms
	protected.GET("/chat-rooms/today", cfg.ChatRoomHandler.GetToday)
	protected.GET("/chat-rooms", cfg.ChatRoomHandler.ListRooms)
	protected.GET("/chat-rooms/:id/turns", cfg.ChatRoomHandler.ListTurns)
	protected.POST("/chat-rooms/:id/bootstrap", cfg.ChatRoomHandler.Bootstrap)

	// Calendar
	protected.GET("/events", cfg.EventHandler.ListOccurrences)
	protected.POST("/events", cfg.EventHandler.CreateEvent)
	protected.GET("/events/:id", cfg.EventHandler.GetEvent)
	protected.PUT("/events/:id", cfg.EventHandler.UpdateEvent)
	protected.DELETE("/events/:id", cfg.EventHandler.DeleteEvent)
	protected.PUT("/events/:id/occurrence", cfg.EventHandler.EditOccurrence)
	protected.GET("/calendar.ics", cfg.EventHandler.ExportICS)

	// Profile
	protected.GET("/profile", cfg.ProfileHandler.GetProfile)
	protected.PUT("/profile", cfg.ProfileHandler.PutProfile)

	return router
}
