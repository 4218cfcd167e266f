package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"beatrelay/internal/journal"
	"beatrelay/internal/microservices/http-api/handler"
	"beatrelay/internal/microservices/http-api/middleware"
	"beatrelay/internal/microservices/http-api/service"

	"github.com/gin-gonic/gin"
)

// Deps wires the admin API to the running dispatcher
type Deps struct {
	Auth       service.AuthService
	Dispatcher handler.Dispatcher
	Journal    journal.Repository // optional
	Metrics    http.Handler       // optional, served on /metrics
	Logger     *slog.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	r.GET("/health", func(c *gin.Context) {
		st := deps.Dispatcher.Status()
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"beat_state":   st.State,
			"beat_addr":    st.Addr,
			"active_peers": len(st.ActivePeers),
		})
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	authHandler := handler.NewAuthHandler(deps.Auth, logger)
	dispatchHandler := handler.NewDispatchHandler(deps.Dispatcher, logger)
	journalHandler := handler.NewJournalHandler(deps.Journal, logger)

	api := r.Group("/api/v1")
	api.POST("/auth/token", authHandler.Login)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(deps.Auth))
	{
		protected.GET("/targets", middleware.RequireScopes(service.ScopeStatusRead), dispatchHandler.Targets)
		protected.GET("/status", middleware.RequireScopes(service.ScopeStatusRead), dispatchHandler.Status)
		protected.POST("/dispatch", middleware.RequireScopes(service.ScopeDispatchWrite), dispatchHandler.Dispatch)
		protected.GET("/journal", middleware.RequireScopes(service.ScopeJournalRead), journalHandler.List)
		protected.GET("/journal/summary", middleware.RequireScopes(service.ScopeJournalRead), journalHandler.Summary)
	}

	return r
}

// NewServer wraps the router in an http.Server bound to addr
func NewServer(addr string, router http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
