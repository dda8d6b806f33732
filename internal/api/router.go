package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	apiContext "mailaudit/internal/api/context"
	"mailaudit/internal/api/handlers"
	"mailaudit/internal/api/middleware"
)

type Dependencies struct {
	EventHandler   *handlers.EventHandler
	HealthHandler  *handlers.HealthHandler
	AuthMiddleware *middleware.AuthMiddleware
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	router.GET("/health", wrap(deps.HealthHandler.Check))

	authMid := deps.AuthMiddleware

	// Audit trail queries
	router.GET("/api/v1/events",
		chain(deps.EventHandler.List, authMid.Handle))
	router.GET("/api/v1/events/:event_id",
		chain(deps.EventHandler.Get, authMid.Handle))
	router.GET("/api/v1/events/:event_id/content",
		chain(deps.EventHandler.GetContent, authMid.Handle))
	router.GET("/api/v1/events/:event_id/flags",
		chain(deps.EventHandler.GetFlags, authMid.Handle))
	router.GET("/api/v1/events/:event_id/tags",
		chain(deps.EventHandler.GetTags, authMid.Handle))
	router.GET("/api/v1/events/:event_id/variables",
		chain(deps.EventHandler.GetVariables, authMid.Handle))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
