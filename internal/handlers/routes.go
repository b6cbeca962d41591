package handlers

import (
	"context"

	"factoid-api/internal/router"
	"factoid-api/internal/store"
	"factoid-api/pkg/lambda"
)

// RouterConfig holds what the routes need
type RouterConfig struct {
	Store        *store.Client
	FactoidTable string
	Stage        string
}

// SetupRoutes configures all API routes
func SetupRoutes(r *router.Router, config *RouterConfig) {
	// CORS preflight is answered with an empty response
	r.OPTIONS("*", func(ctx context.Context, req *lambda.Request, params router.Params) (any, error) {
		return nil, nil
	})

	r.GET("/health", func(ctx context.Context, req *lambda.Request, params router.Params) (any, error) {
		return map[string]string{
			"status":  "healthy",
			"service": "factoid-api",
			"stage":   config.Stage,
		}, nil
	})

	factoids := NewFactoidAPI(config.Store, config.FactoidTable)
	Register(r, "/api/factoids/:topic", "/api/factoids/:topic/:id", factoids)
}
