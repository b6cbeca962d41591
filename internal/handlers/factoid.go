package handlers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"factoid-api/internal/apierror"
	"factoid-api/internal/logging"
	"factoid-api/internal/router"
	"factoid-api/internal/store"
	"factoid-api/pkg/lambda"
)

// MaxListLimit caps the page size a client may ask for
const MaxListLimit = 100

var log = logging.Source("FactoidApi")

type createFactoidInput struct {
	Title string `validate:"required_without=Body,max=200"`
	Body  string `validate:"required_without=Title,max=10000"`
}

type updateFactoidInput struct {
	Title string `validate:"max=200"`
	Body  string `validate:"max=10000"`
}

// FactoidAPI stores factoids keyed by topic (hash key) and id (range key)
type FactoidAPI struct {
	store     *store.Client
	tableName string
	validator *validator.Validate
}

var _ Resource = (*FactoidAPI)(nil)

func NewFactoidAPI(client *store.Client, tableName string) *FactoidAPI {
	return &FactoidAPI{
		store:     client,
		tableName: tableName,
		validator: validator.New(),
	}
}

func (a *FactoidAPI) key(params router.Params) store.Item {
	return store.Item{"topic": params["topic"], "id": params["id"]}
}

// Create stores the JSON object body as a new factoid of the topic and
// returns it with its generated id
func (a *FactoidAPI) Create(ctx context.Context, req *lambda.Request, params router.Params) (any, error) {
	payload, err := objectBody(req)
	if err != nil {
		return nil, err
	}

	var input createFactoidInput
	if input.Title, err = stringField(payload, "title"); err != nil {
		return nil, err
	}
	if input.Body, err = stringField(payload, "body"); err != nil {
		return nil, err
	}
	if err := a.validator.Struct(input); err != nil {
		return nil, validationError(err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	item := store.RemoveEmptyValues(payload).(map[string]any)
	item["topic"] = params["topic"]
	item["id"] = id.String()

	if err := a.store.Put(ctx, store.PutQuery{TableName: a.tableName, Item: item}); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{"topic": params["topic"], "id": item["id"]}).Info("created factoid")
	return item, nil
}

func (a *FactoidAPI) Get(ctx context.Context, req *lambda.Request, params router.Params) (any, error) {
	log.WithFields(logrus.Fields{"topic": params["topic"], "id": params["id"], "table": a.tableName}).Debug("getting factoid")

	return a.store.Get(ctx, store.GetQuery{TableName: a.tableName, Key: a.key(params)}, nil)
}

// Update sets or removes the given attributes of an existing factoid. The
// topic and id attributes cannot be changed.
func (a *FactoidAPI) Update(ctx context.Context, req *lambda.Request, params router.Params) (any, error) {
	payload, err := objectBody(req)
	if err != nil {
		return nil, err
	}

	properties := make(map[string]any, len(payload))
	for k, v := range payload {
		if k != "topic" && k != "id" {
			properties[k] = v
		}
	}
	if len(properties) == 0 {
		return nil, apierror.BadRequest("Nothing to update")
	}

	var input updateFactoidInput
	if input.Title, err = stringField(properties, "title"); err != nil {
		return nil, err
	}
	if input.Body, err = stringField(properties, "body"); err != nil {
		return nil, err
	}
	if err := a.validator.Struct(input); err != nil {
		return nil, validationError(err)
	}

	expr := store.BuildUpdateExpression(properties)
	expr.ExpressionAttributeNames["#__id__"] = "id"

	item, err := a.store.Update(ctx, store.UpdateQuery{
		TableName:                 a.tableName,
		Key:                       a.key(params),
		UpdateExpression:          expr.UpdateExpression,
		ConditionExpression:       "attribute_exists(#__id__)",
		ExpressionAttributeNames:  expr.ExpressionAttributeNames,
		ExpressionAttributeValues: expr.ExpressionAttributeValues,
	})
	if store.IsConditionFailed(err) {
		return nil, apierror.NotFound()
	}
	return item, err
}

func (a *FactoidAPI) Delete(ctx context.Context, req *lambda.Request, params router.Params) (any, error) {
	if err := a.store.Delete(ctx, store.DeleteQuery{TableName: a.tableName, Key: a.key(params)}); err != nil {
		return nil, err
	}
	return nil, nil
}

// List returns one page of the topic's factoids. Query parameters: cursor
// continues a previous page, limit bounds the page size, reverse=true
// returns the newest first and count=true only counts.
func (a *FactoidAPI) List(ctx context.Context, req *lambda.Request, params router.Params) (any, error) {
	topic := params["topic"]

	if flag(req.QueryParams, "count") {
		n, err := a.store.QueryCount(ctx, a.tableName, "#topic = :topic", "",
			map[string]string{"#topic": "topic"}, map[string]any{":topic": topic}, "")
		if err != nil {
			return nil, err
		}
		return map[string]int{"count": n}, nil
	}

	opts := &store.Options{
		Cursor:      req.QueryParams["cursor"],
		EnsureItems: flag(req.QueryParams, "ensureItems"),
	}
	if raw := req.QueryParams["limit"]; raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxListLimit {
			return nil, apierror.BadRequest(fmt.Sprintf("limit must be between 1 and %d", MaxListLimit))
		}
		opts.Limit = int32(limit)
	}

	query := store.BuildQueryExpression(a.tableName, map[string]any{"topic": topic}, nil,
		&store.QueryOptions{Reverse: flag(req.QueryParams, "reverse")})
	return a.store.Query(ctx, query, opts)
}

func objectBody(req *lambda.Request) (map[string]any, error) {
	payload, ok := req.Data.(map[string]any)
	if !ok {
		return nil, apierror.BadRequest("Request body must be a JSON object")
	}
	return payload, nil
}

func flag(query map[string]string, name string) bool {
	v, err := strconv.ParseBool(query[name])
	return err == nil && v
}
