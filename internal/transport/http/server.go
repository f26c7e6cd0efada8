package http

import (
	"path/filepath"

	"github.com/gin-gonic/gin"

	"chatpdf/internal/bootstrap"
	"chatpdf/internal/transport/http/handler"
	"chatpdf/internal/transport/http/middleware"
)

// Handlers groups everything the router dispatches to.
type Handlers struct {
	Index   *handler.IndexHandler
	Query   *handler.QueryHandler
	Session *handler.SessionHandler
	History *handler.HistoryHandler
	Health  *handler.HealthHandler
}

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.AccessLog(app.Logger), middleware.Recovery(app.Logger))

	Register(router, Handlers{
		Index:   handler.NewIndexHandler(app.Ingest, app.Sessions),
		Query:   handler.NewQueryHandler(app.Query),
		Session: handler.NewSessionHandler(app.Sessions),
		History: handler.NewHistoryHandler(app.History, app.Sessions),
		Health:  handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, app.HealthChecks()),
	})

	staticDir := app.Config.App.StaticDir
	router.StaticFile("/", filepath.Join(staticDir, "index.html"))
	router.Static("/static", staticDir)
	return router
}

// Register mounts the API routes on router.
func Register(router gin.IRouter, h Handlers) {
	if h.Health != nil {
		router.GET("/healthz", h.Health.Check)
	}

	router.POST("/index/batch", h.Index.Batch)
	router.POST("/index/remove", h.Index.Remove)
	router.POST("/query", h.Query.Ask)

	sessions := router.Group("/sessions")
	sessions.GET("/:id/stats", h.Session.Stats)
	sessions.GET("/:id/documents", h.Session.Documents)
	sessions.POST("/remove", h.Session.Remove)

	if h.History != nil {
		history := router.Group("/chat/history")
		history.POST("/save", h.History.Save)
		history.GET("/load", h.History.Load)
		history.GET("/list", h.History.List)
		history.POST("/delete", h.History.Delete)
	}
}
