package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factoid-api/internal/apierror"
)

const testTable = "factoids"

func newTestClient(t *testing.T) (*Client, *MockAPI) {
	t.Helper()

	api := NewMockAPI()
	api.CreateTable(testTable, "topic", "id")
	return NewClient(api, WithCursorSecret("test-secret")), api
}

func seed(t *testing.T, c *Client, topic string, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		err := c.Put(context.Background(), PutQuery{
			TableName: testTable,
			Item:      Item{"topic": topic, "id": fmt.Sprintf("%03d", i), "title": fmt.Sprintf("fact %d", i)},
		})
		require.NoError(t, err)
	}
}

func s(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func TestClientPutGet(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	err := c.Put(ctx, PutQuery{
		TableName: testTable,
		Item:      Item{"topic": "golang", "id": "1", "title": "Goroutines", "votes": 3},
	})
	require.NoError(t, err)

	item, err := c.Get(ctx, GetQuery{TableName: testTable, Key: Item{"topic": "golang", "id": "1"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Goroutines", item["title"])
	assert.Equal(t, float64(3), item["votes"])

	t.Run("IncludeFields", func(t *testing.T) {
		item, err := c.Get(ctx, GetQuery{TableName: testTable, Key: Item{"topic": "golang", "id": "1"}}, &Options{IncludeFields: []string{"title"}})
		require.NoError(t, err)
		assert.Equal(t, Item{"title": "Goroutines"}, item)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := c.Get(ctx, GetQuery{TableName: testTable, Key: Item{"topic": "golang", "id": "missing"}}, nil)
		assert.True(t, apierror.IsStatus(err, 404))
	})
}

func TestClientPutCondition(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	q := PutQuery{
		TableName:                testTable,
		Item:                     Item{"topic": "golang", "id": "1"},
		ConditionExpression:      "attribute_not_exists(#id)",
		ExpressionAttributeNames: map[string]string{"#id": "id"},
	}
	require.NoError(t, c.Put(ctx, q))

	err := c.Put(ctx, q)
	assert.True(t, apierror.IsStatus(err, 412))
}

func TestClientUpdate(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, PutQuery{
		TableName: testTable,
		Item:      Item{"topic": "golang", "id": "1", "title": "old", "body": "text"},
	}))

	expr := BuildUpdateExpression(map[string]any{"title": "new", "body": ""})
	item, err := c.Update(ctx, UpdateQuery{
		TableName:                 testTable,
		Key:                       Item{"topic": "golang", "id": "1"},
		UpdateExpression:          expr.UpdateExpression,
		ExpressionAttributeNames:  expr.ExpressionAttributeNames,
		ExpressionAttributeValues: expr.ExpressionAttributeValues,
	})
	require.NoError(t, err)
	assert.Equal(t, Item{"topic": "golang", "id": "1", "title": "new"}, item)

	t.Run("ConditionFailed", func(t *testing.T) {
		_, err := c.Update(ctx, UpdateQuery{
			TableName:                 testTable,
			Key:                       Item{"topic": "golang", "id": "404"},
			UpdateExpression:          expr.UpdateExpression,
			ConditionExpression:       "attribute_exists(id)",
			ExpressionAttributeNames:  expr.ExpressionAttributeNames,
			ExpressionAttributeValues: expr.ExpressionAttributeValues,
		})
		assert.True(t, apierror.IsStatus(err, 412))
		assert.True(t, IsConditionFailed(err))
	})

	t.Run("InvalidPlaceholder", func(t *testing.T) {
		_, err := c.Update(ctx, UpdateQuery{
			TableName:                 testTable,
			Key:                       Item{"topic": "golang", "id": "1"},
			UpdateExpression:          "SET #my-field = :my-field",
			ExpressionAttributeNames:  map[string]string{"#my-field": "my-field"},
			ExpressionAttributeValues: map[string]any{":my-field": "b"},
		})
		assert.True(t, apierror.IsStatus(err, 412))
		assert.False(t, IsConditionFailed(err))
	})
}

func TestClientDelete(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()
	seed(t, c, "golang", 2)

	require.NoError(t, c.Delete(ctx, DeleteQuery{TableName: testTable, Key: Item{"topic": "golang", "id": "000"}}))
	assert.Len(t, api.Items(testTable), 1)
}

func TestClientQueryPaging(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	seed(t, c, "golang", 5)
	seed(t, c, "rust", 2)

	q := BuildQueryExpression(testTable, map[string]any{"topic": "golang"}, nil, nil)

	var ids []any
	opts := &Options{Limit: 2}
	for pages := 0; ; pages++ {
		require.Less(t, pages, 10)

		result, err := c.Query(ctx, q, opts)
		require.NoError(t, err)
		assert.Equal(t, len(result.Items), result.Count)
		for _, item := range result.Items {
			ids = append(ids, item["id"])
		}
		if result.Cursor == "" {
			break
		}
		opts = &Options{Limit: 2, Cursor: result.Cursor}
	}

	assert.Equal(t, []any{"000", "001", "002", "003", "004"}, ids)
}

func TestClientQueryDoesNotMutateDescriptor(t *testing.T) {
	c, _ := newTestClient(t)
	seed(t, c, "golang", 1)

	q := BuildQueryExpression(testTable, map[string]any{"topic": "golang"}, nil, nil)
	before := len(q.ExpressionAttributeNames)

	_, err := c.Query(context.Background(), q, &Options{IncludeFields: []string{"title"}})
	require.NoError(t, err)
	assert.Len(t, q.ExpressionAttributeNames, before)
}

func TestClientQueryReverse(t *testing.T) {
	c, _ := newTestClient(t)
	seed(t, c, "golang", 3)

	q := BuildQueryExpression(testTable, map[string]any{"topic": "golang"}, nil, &QueryOptions{Reverse: true})
	result, err := c.Query(context.Background(), q, nil)
	require.NoError(t, err)
	require.Len(t, result.Items, 3)
	assert.Equal(t, "002", result.Items[0]["id"])
}

func TestClientQueryInvalidCursor(t *testing.T) {
	c, api := newTestClient(t)

	q := BuildQueryExpression(testTable, map[string]any{"topic": "golang"}, nil, nil)
	_, err := c.Query(context.Background(), q, &Options{Cursor: "garbage"})

	assert.ErrorIs(t, err, ErrInvalidCursor)
	assert.Zero(t, api.CallCount("Query"))
}

func TestClientQueryCursorSecret(t *testing.T) {
	c, api := newTestClient(t)
	seed(t, c, "golang", 3)
	q := BuildQueryExpression(testTable, map[string]any{"topic": "golang"}, nil, nil)

	first, err := c.Query(context.Background(), q, &Options{Limit: 1, CryptoKey: "per-call"})
	require.NoError(t, err)
	require.NotEmpty(t, first.Cursor)

	// sealed with the per call key, so the client secret cannot open it
	_, err = c.Query(context.Background(), q, &Options{Cursor: first.Cursor})
	assert.ErrorIs(t, err, ErrInvalidCursor)

	_, err = c.Query(context.Background(), q, &Options{Cursor: first.Cursor, CryptoKey: "per-call"})
	require.NoError(t, err)
	assert.Equal(t, 2, api.CallCount("Query"))
}

func TestClientEnsureItems(t *testing.T) {
	c, api := newTestClient(t)
	k1 := map[string]types.AttributeValue{"topic": s("golang"), "id": s("010")}
	k2 := map[string]types.AttributeValue{"topic": s("golang"), "id": s("020")}

	api.QueryPages = []*dynamodb.QueryOutput{
		{Count: 0, LastEvaluatedKey: k1},
		{Count: 0, LastEvaluatedKey: k2},
		{Count: 2, Items: []map[string]types.AttributeValue{
			{"topic": s("golang"), "id": s("021")},
			{"topic": s("golang"), "id": s("022")},
		}},
	}

	q := BuildQueryExpression(testTable, map[string]any{"topic": "golang"}, nil, nil)
	result, err := c.Query(context.Background(), q, &Options{EnsureItems: true})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Count)
	assert.Len(t, result.Items, 2)
	assert.Empty(t, result.Cursor)

	require.Len(t, api.QueryInputs, 3)
	assert.Nil(t, api.QueryInputs[0].ExclusiveStartKey)
	assert.Equal(t, k1, api.QueryInputs[1].ExclusiveStartKey)
	assert.Equal(t, k2, api.QueryInputs[2].ExclusiveStartKey)
}

func TestClientEnsureItemsExhausted(t *testing.T) {
	c, api := newTestClient(t)
	api.ScanPages = []*dynamodb.ScanOutput{
		{LastEvaluatedKey: map[string]types.AttributeValue{"topic": s("a"), "id": s("1")}},
		{},
	}

	result, err := c.Scan(context.Background(), QueryDescriptor{TableName: testTable}, &Options{EnsureItems: true})
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.NotNil(t, result.Items)
	assert.Empty(t, result.Cursor)
	assert.Equal(t, 2, api.CallCount("Scan"))
}

func TestClientEnsureItemsMaxPages(t *testing.T) {
	c, api := newTestClient(t)
	key := map[string]types.AttributeValue{"topic": s("a"), "id": s("1")}
	for i := 0; i < 5; i++ {
		api.ScanPages = append(api.ScanPages, &dynamodb.ScanOutput{LastEvaluatedKey: key})
	}

	result, err := c.Scan(context.Background(), QueryDescriptor{TableName: testTable}, &Options{EnsureItems: true, MaxPages: 2})
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.NotEmpty(t, result.Cursor)
	assert.Equal(t, 2, api.CallCount("Scan"))
}

func TestClientEnsureItemsCancelled(t *testing.T) {
	c, api := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Scan(ctx, QueryDescriptor{TableName: testTable}, &Options{EnsureItems: true})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, api.CallCount("Scan"))
}

func TestClientCount(t *testing.T) {
	t.Run("BlankTable", func(t *testing.T) {
		c, api := newTestClient(t)

		_, err := c.ScanCount(context.Background(), "  ", "", nil, nil)
		assert.ErrorIs(t, err, ErrInvalidArguments)

		_, err = c.QueryCount(context.Background(), "", "#t = :t", "", nil, nil, "")
		assert.ErrorIs(t, err, ErrInvalidArguments)

		assert.Zero(t, api.CallCount("Scan"))
		assert.Zero(t, api.CallCount("Query"))
	})

	t.Run("SumsPages", func(t *testing.T) {
		c, api := newTestClient(t)
		key := map[string]types.AttributeValue{"topic": s("a"), "id": s("1")}
		api.ScanPages = []*dynamodb.ScanOutput{
			{Count: 3, LastEvaluatedKey: key},
			{Count: 4},
		}

		n, err := c.ScanCount(context.Background(), testTable, "attribute_exists(#t)", map[string]string{"#t": "title"}, nil)
		require.NoError(t, err)
		assert.Equal(t, 7, n)
		require.Len(t, api.ScanInputs, 2)
		assert.Equal(t, types.SelectCount, api.ScanInputs[0].Select)
		assert.NotNil(t, api.ScanInputs[1].ExclusiveStartKey)
	})

	t.Run("QueryCount", func(t *testing.T) {
		c, _ := newTestClient(t)
		seed(t, c, "golang", 4)
		seed(t, c, "rust", 1)

		n, err := c.QueryCount(context.Background(), testTable, "#t = :t", "", map[string]string{"#t": "topic"}, map[string]any{":t": "golang"}, "")
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})
}

func TestClientErrorMapping(t *testing.T) {
	c, api := newTestClient(t)
	api.Errors["Query"] = &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException", Message: "slow down"}
	api.Errors["GetItem"] = &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "denied"}

	_, err := c.Query(context.Background(), QueryDescriptor{TableName: testTable}, nil)
	assert.True(t, apierror.IsStatus(err, 503))
	assert.EqualError(t, err, "slow down")

	_, err = c.Get(context.Background(), GetQuery{TableName: testTable, Key: Item{"topic": "a", "id": "b"}}, nil)
	assert.True(t, apierror.IsStatus(err, 403))
}
