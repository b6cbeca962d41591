package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"factoid-api/internal/apierror"
)

// API is the subset of *dynamodb.Client the store uses
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// Item is a stored item as plain Go values
type Item = map[string]any

// Options tune a single read
type Options struct {
	// Cursor resumes a previous query or scan
	Cursor string
	// CryptoKey overrides the client's cursor secret
	CryptoKey string
	// EnsureItems keeps paging until a page has items or the data runs out
	EnsureItems bool
	// Count asks for the number of matches instead of the items
	Count bool
	// IncludeFields restricts the returned attributes
	IncludeFields []string
	Limit         int32
	// MaxPages bounds EnsureItems paging, 0 means unbounded
	MaxPages int
}

// Result is one page of a query or scan
type Result struct {
	Items  []Item `json:"items"`
	Count  int    `json:"count"`
	Cursor string `json:"cursor,omitempty"`
}

type GetQuery struct {
	TableName      string
	Key            Item
	ConsistentRead bool
}

type PutQuery struct {
	TableName                 string
	Item                      Item
	ConditionExpression       string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]any
}

type UpdateQuery struct {
	TableName                 string
	Key                       Item
	UpdateExpression          string
	ConditionExpression       string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]any
	// ReturnValues defaults to ALL_NEW
	ReturnValues types.ReturnValue
}

type DeleteQuery struct {
	TableName                 string
	Key                       Item
	ConditionExpression       string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]any
}

// Client wraps a DynamoDB API with cursor based pagination and batch retries.
// It is safe for concurrent use.
type Client struct {
	api    API
	secret string
	retry  *RetryConfig
}

type ClientOption func(*Client)

// WithCursorSecret sets the default secret cursors are sealed with
func WithCursorSecret(secret string) ClientOption {
	return func(c *Client) {
		c.secret = secret
	}
}

func WithRetryConfig(cfg *RetryConfig) ClientOption {
	return func(c *Client) {
		if cfg != nil {
			c.retry = cfg
		}
	}
}

func NewClient(api API, opts ...ClientOption) *Client {
	c := &Client{
		api:   api,
		retry: DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) cursorSecret(opts *Options) string {
	if opts != nil && opts.CryptoKey != "" {
		return opts.CryptoKey
	}
	if c.secret != "" {
		return c.secret
	}
	return DefaultCursorSecret
}

// Get fetches a single item by key. A missing item is a NotFound error.
func (c *Client) Get(ctx context.Context, q GetQuery, opts *Options) (Item, error) {
	key, err := attributevalue.MarshalMap(q.Key)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	input := &dynamodb.GetItemInput{
		TableName: aws.String(q.TableName),
		Key:       key,
	}
	if q.ConsistentRead {
		input.ConsistentRead = aws.Bool(true)
	}
	if opts != nil && len(opts.IncludeFields) > 0 {
		input.ProjectionExpression, input.ExpressionAttributeNames = projection(opts.IncludeFields, nil)
	}

	out, err := c.api.GetItem(ctx, input)
	if err != nil {
		return nil, storeError("GetItem", q.TableName, err)
	}
	if len(out.Item) == 0 {
		return nil, apierror.NotFound()
	}

	var item Item
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return item, nil
}

func (c *Client) Put(ctx context.Context, q PutQuery) error {
	item, err := attributevalue.MarshalMap(q.Item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(q.TableName),
		Item:      item,
	}
	if q.ConditionExpression != "" {
		input.ConditionExpression = aws.String(q.ConditionExpression)
	}
	if input.ExpressionAttributeNames, input.ExpressionAttributeValues, err = expressionAttributes(q.ExpressionAttributeNames, q.ExpressionAttributeValues); err != nil {
		return err
	}

	if _, err := c.api.PutItem(ctx, input); err != nil {
		return storeError("PutItem", q.TableName, err)
	}
	return nil
}

// Update applies an update expression and returns the attributes selected
// by ReturnValues
func (c *Client) Update(ctx context.Context, q UpdateQuery) (Item, error) {
	key, err := attributevalue.MarshalMap(q.Key)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	returnValues := q.ReturnValues
	if returnValues == "" {
		returnValues = types.ReturnValueAllNew
	}

	input := &dynamodb.UpdateItemInput{
		TableName:        aws.String(q.TableName),
		Key:              key,
		UpdateExpression: aws.String(q.UpdateExpression),
		ReturnValues:     returnValues,
	}
	if q.ConditionExpression != "" {
		input.ConditionExpression = aws.String(q.ConditionExpression)
	}
	if input.ExpressionAttributeNames, input.ExpressionAttributeValues, err = expressionAttributes(q.ExpressionAttributeNames, q.ExpressionAttributeValues); err != nil {
		return nil, err
	}

	out, err := c.api.UpdateItem(ctx, input)
	if err != nil {
		return nil, storeError("UpdateItem", q.TableName, err)
	}

	item := Item{}
	if len(out.Attributes) > 0 {
		if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
			return nil, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	return item, nil
}

func (c *Client) Delete(ctx context.Context, q DeleteQuery) error {
	key, err := attributevalue.MarshalMap(q.Key)
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}

	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(q.TableName),
		Key:       key,
	}
	if q.ConditionExpression != "" {
		input.ConditionExpression = aws.String(q.ConditionExpression)
	}
	if input.ExpressionAttributeNames, input.ExpressionAttributeValues, err = expressionAttributes(q.ExpressionAttributeNames, q.ExpressionAttributeValues); err != nil {
		return err
	}

	if _, err := c.api.DeleteItem(ctx, input); err != nil {
		return storeError("DeleteItem", q.TableName, err)
	}
	return nil
}

type pageFunc func(ctx context.Context, q QueryDescriptor, opts *Options) (*Result, error)

// Query runs q and returns one page of results
func (c *Client) Query(ctx context.Context, q QueryDescriptor, opts *Options) (*Result, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.EnsureItems {
		return c.ensureItems(ctx, c.Query, q, opts)
	}

	input := &dynamodb.QueryInput{
		TableName:        aws.String(q.TableName),
		ScanIndexForward: q.ScanIndexForward,
	}
	if q.IndexName != "" {
		input.IndexName = aws.String(q.IndexName)
	}
	if q.KeyConditionExpression != "" {
		input.KeyConditionExpression = aws.String(q.KeyConditionExpression)
	}
	if q.FilterExpression != "" {
		input.FilterExpression = aws.String(q.FilterExpression)
	}

	sel, err := c.selector(q, opts)
	if err != nil {
		return nil, err
	}
	input.ProjectionExpression = sel.projection
	input.ExpressionAttributeNames = sel.names
	input.ExpressionAttributeValues = sel.values
	input.ExclusiveStartKey = sel.startKey
	input.Limit = sel.limit
	input.Select = sel.sel

	out, err := c.api.Query(ctx, input)
	if err != nil {
		return nil, storeError("Query", q.TableName, err)
	}
	return c.result(out.Items, out.Count, out.LastEvaluatedKey, opts)
}

// Scan is Query without a key condition
func (c *Client) Scan(ctx context.Context, q QueryDescriptor, opts *Options) (*Result, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.EnsureItems {
		return c.ensureItems(ctx, c.Scan, q, opts)
	}

	input := &dynamodb.ScanInput{
		TableName: aws.String(q.TableName),
	}
	if q.IndexName != "" {
		input.IndexName = aws.String(q.IndexName)
	}
	if q.FilterExpression != "" {
		input.FilterExpression = aws.String(q.FilterExpression)
	}

	sel, err := c.selector(q, opts)
	if err != nil {
		return nil, err
	}
	input.ProjectionExpression = sel.projection
	input.ExpressionAttributeNames = sel.names
	input.ExpressionAttributeValues = sel.values
	input.ExclusiveStartKey = sel.startKey
	input.Limit = sel.limit
	input.Select = sel.sel

	out, err := c.api.Scan(ctx, input)
	if err != nil {
		return nil, storeError("Scan", q.TableName, err)
	}
	return c.result(out.Items, out.Count, out.LastEvaluatedKey, opts)
}

// ensureItems pages until a page carries items or there is no cursor left.
// Empty pages are common when a filter discards everything a page read.
func (c *Client) ensureItems(ctx context.Context, fetch pageFunc, q QueryDescriptor, opts *Options) (*Result, error) {
	page := *opts
	page.EnsureItems = false

	for pages := 1; ; pages++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := fetch(ctx, q, &page)
		if err != nil {
			return nil, err
		}
		if len(result.Items) > 0 || result.Cursor == "" {
			return result, nil
		}
		if opts.MaxPages > 0 && pages >= opts.MaxPages {
			log.WithField("table", q.TableName).Debugf("giving up on empty pages after %d pages", pages)
			return result, nil
		}

		page.Cursor = result.Cursor
	}
}

// ScanCount counts the items of a table matching an optional filter
func (c *Client) ScanCount(ctx context.Context, tableName, filterExpression string, names map[string]string, values map[string]any) (int, error) {
	if strings.TrimSpace(tableName) == "" {
		return 0, ErrInvalidArguments
	}

	return c.count(ctx, c.Scan, QueryDescriptor{
		TableName:                 tableName,
		FilterExpression:          filterExpression,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
}

// QueryCount counts the items matching a key condition and optional filter
func (c *Client) QueryCount(ctx context.Context, tableName, keyCondition, filterExpression string, names map[string]string, values map[string]any, indexName string) (int, error) {
	if strings.TrimSpace(tableName) == "" {
		return 0, ErrInvalidArguments
	}

	return c.count(ctx, c.Query, QueryDescriptor{
		TableName:                 tableName,
		IndexName:                 indexName,
		KeyConditionExpression:    keyCondition,
		FilterExpression:          filterExpression,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
}

func (c *Client) count(ctx context.Context, fetch pageFunc, q QueryDescriptor) (int, error) {
	opts := &Options{Count: true}
	total := 0

	for {
		result, err := fetch(ctx, q, opts)
		if err != nil {
			return 0, err
		}
		total += result.Count

		if result.Cursor == "" {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		opts.Cursor = result.Cursor
	}
}

type selection struct {
	projection *string
	names      map[string]string
	values     map[string]types.AttributeValue
	startKey   map[string]types.AttributeValue
	limit      *int32
	sel        types.Select
}

// selector derives the parts of a read input shared by queries and scans
func (c *Client) selector(q QueryDescriptor, opts *Options) (selection, error) {
	var s selection

	names := make(map[string]string, len(q.ExpressionAttributeNames))
	for k, v := range q.ExpressionAttributeNames {
		names[k] = v
	}

	switch {
	case opts.Count:
		s.sel = types.SelectCount
	case len(opts.IncludeFields) > 0:
		s.projection, names = projection(opts.IncludeFields, names)
	case q.ProjectionExpression != "":
		s.projection = aws.String(q.ProjectionExpression)
	}
	if s.sel == "" && q.Select != "" {
		s.sel = types.Select(q.Select)
	}

	var err error
	if s.names, s.values, err = expressionAttributes(names, q.ExpressionAttributeValues); err != nil {
		return s, err
	}

	switch {
	case opts.Limit > 0:
		s.limit = aws.Int32(opts.Limit)
	case q.Limit > 0:
		s.limit = aws.Int32(q.Limit)
	}

	if opts.Cursor != "" {
		if s.startKey, err = DecryptCursor(opts.Cursor, c.cursorSecret(opts)); err != nil {
			return s, err
		}
	}
	return s, nil
}

func (c *Client) result(items []map[string]types.AttributeValue, count int32, lastKey map[string]types.AttributeValue, opts *Options) (*Result, error) {
	result := &Result{Items: []Item{}, Count: int(count)}

	if len(items) > 0 {
		if err := attributevalue.UnmarshalListOfMaps(items, &result.Items); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
	}

	cursor, err := EncryptCursor(lastKey, c.cursorSecret(opts))
	if err != nil {
		return nil, err
	}
	result.Cursor = cursor
	return result, nil
}

// projection builds a projection expression over fields, adding a name
// placeholder per field to names
func projection(fields []string, names map[string]string) (*string, map[string]string) {
	if names == nil {
		names = make(map[string]string, len(fields))
	}
	placeholders := make([]string, len(fields))
	for i, f := range fields {
		p := fmt.Sprintf("#__f%d__", i)
		names[p] = f
		placeholders[i] = p
	}
	return aws.String(strings.Join(placeholders, ", ")), names
}

// expressionAttributes converts expression names and values into SDK form.
// Empty maps become nil because the service rejects empty attribute maps.
func expressionAttributes(names map[string]string, values map[string]any) (map[string]string, map[string]types.AttributeValue, error) {
	if len(names) == 0 {
		names = nil
	}
	if len(values) == 0 {
		return names, nil, nil
	}

	avs, err := attributevalue.MarshalMap(values)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal expression values: %w", err)
	}
	return names, avs, nil
}
