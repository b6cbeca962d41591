package handlers

import (
	"context"

	"factoid-api/internal/router"
	"factoid-api/pkg/lambda"
)

// Resource is a data API exposing the five collection operations
type Resource interface {
	Create(ctx context.Context, req *lambda.Request, params router.Params) (any, error)
	Get(ctx context.Context, req *lambda.Request, params router.Params) (any, error)
	Update(ctx context.Context, req *lambda.Request, params router.Params) (any, error)
	Delete(ctx context.Context, req *lambda.Request, params router.Params) (any, error)
	List(ctx context.Context, req *lambda.Request, params router.Params) (any, error)
}

// Register wires res onto a collection path (create, list) and an item
// path (get, update, delete)
func Register(r *router.Router, collectionPath, itemPath string, res Resource) {
	r.POST(collectionPath, res.Create)
	r.GET(itemPath, res.Get)
	r.PUT(itemPath, res.Update)
	r.GET(collectionPath, res.List)
	r.DELETE(itemPath, res.Delete)
}
