package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// MockAPI is an in-memory implementation of API for testing. It understands
// the expressions this package builds: equality, comparison and begins_with
// key conditions, SET/REMOVE updates, attribute_exists conditions and
// placeholder projections. Anything else can be scripted.
type MockAPI struct {
	mu     sync.Mutex
	tables map[string]*mockTable
	calls  map[string]int

	// Errors makes the named operation ("GetItem", "Query", ...) fail
	Errors map[string]error

	// QueryPages and ScanPages are returned in order, before the table is
	// consulted
	QueryPages []*dynamodb.QueryOutput
	ScanPages  []*dynamodb.ScanOutput

	// BatchWriteOutputs are returned in order without applying the writes
	BatchWriteOutputs []*dynamodb.BatchWriteItemOutput

	QueryInputs      []*dynamodb.QueryInput
	ScanInputs       []*dynamodb.ScanInput
	BatchWriteInputs []*dynamodb.BatchWriteItemInput
}

type mockTable struct {
	hashKey  string
	rangeKey string
	items    map[string]map[string]types.AttributeValue
}

var _ API = (*MockAPI)(nil)

// NewMockAPI creates a new MockAPI without tables
func NewMockAPI() *MockAPI {
	return &MockAPI{
		tables: make(map[string]*mockTable),
		calls:  make(map[string]int),
		Errors: make(map[string]error),
	}
}

// CreateTable registers a table keyed by hashKey and, when not empty,
// rangeKey
func (m *MockAPI) CreateTable(name, hashKey, rangeKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tables[name] = &mockTable{
		hashKey:  hashKey,
		rangeKey: rangeKey,
		items:    make(map[string]map[string]types.AttributeValue),
	}
}

// Items returns every item of a table ordered by key
func (m *MockAPI) Items(table string) []Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[table]
	if !ok {
		return nil
	}

	items := make([]Item, 0, len(t.items))
	for _, av := range t.sorted() {
		var item Item
		if err := attributevalue.UnmarshalMap(av, &item); err == nil {
			items = append(items, item)
		}
	}
	return items
}

// CallCount reports how often op was invoked
func (m *MockAPI) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockAPI) begin(op string) error {
	m.calls[op]++
	return m.Errors[op]
}

func (m *MockAPI) table(name *string) (*mockTable, error) {
	if name == nil {
		return nil, mockError("ValidationException", "TableName is required")
	}
	t, ok := m.tables[*name]
	if !ok {
		return nil, mockError("ResourceNotFoundException", "Requested resource not found")
	}
	return t, nil
}

func (m *MockAPI) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin("GetItem"); err != nil {
		return nil, err
	}
	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	id, err := t.keyOf(params.Key)
	if err != nil {
		return nil, err
	}

	item, ok := t.items[id]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: project(item, params.ProjectionExpression, params.ExpressionAttributeNames)}, nil
}

func (m *MockAPI) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin("PutItem"); err != nil {
		return nil, err
	}
	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	id, err := t.keyOf(params.Item)
	if err != nil {
		return nil, err
	}
	if err := checkCondition(params.ConditionExpression, params.ExpressionAttributeNames, t.items[id]); err != nil {
		return nil, err
	}

	t.items[id] = copyItem(params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (m *MockAPI) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin("UpdateItem"); err != nil {
		return nil, err
	}
	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	id, err := t.keyOf(params.Key)
	if err != nil {
		return nil, err
	}

	if err := checkPlaceholders(params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
		return nil, err
	}

	old := t.items[id]
	if err := checkCondition(params.ConditionExpression, params.ExpressionAttributeNames, old); err != nil {
		return nil, err
	}

	item := copyItem(old)
	if item == nil {
		item = copyItem(params.Key)
	}
	if params.UpdateExpression != nil {
		if err := applyUpdate(item, *params.UpdateExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
			return nil, err
		}
	}
	t.items[id] = item

	out := &dynamodb.UpdateItemOutput{}
	switch params.ReturnValues {
	case types.ReturnValueAllNew:
		out.Attributes = copyItem(item)
	case types.ReturnValueAllOld:
		out.Attributes = copyItem(old)
	}
	return out, nil
}

func (m *MockAPI) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin("DeleteItem"); err != nil {
		return nil, err
	}
	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	id, err := t.keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	if err := checkCondition(params.ConditionExpression, params.ExpressionAttributeNames, t.items[id]); err != nil {
		return nil, err
	}

	delete(t.items, id)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *MockAPI) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.QueryInputs = append(m.QueryInputs, params)
	if err := m.begin("Query"); err != nil {
		return nil, err
	}
	if len(m.QueryPages) > 0 {
		page := m.QueryPages[0]
		m.QueryPages = m.QueryPages[1:]
		return page, nil
	}

	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	if params.FilterExpression != nil {
		return nil, fmt.Errorf("mock: filter expressions are not evaluated, script QueryPages instead")
	}

	var conds []keyCondition
	if params.KeyConditionExpression != nil {
		if conds, err = parseKeyConditions(*params.KeyConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
			return nil, err
		}
	}

	var matched []map[string]types.AttributeValue
	for _, item := range t.sorted() {
		if matchesAll(item, conds) {
			matched = append(matched, item)
		}
	}
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	items, lastKey, err := t.page(matched, params.ExclusiveStartKey, params.Limit)
	if err != nil {
		return nil, err
	}

	out := &dynamodb.QueryOutput{Count: int32(len(items)), ScannedCount: int32(len(items)), LastEvaluatedKey: lastKey}
	if params.Select != types.SelectCount {
		out.Items = projectAll(items, params.ProjectionExpression, params.ExpressionAttributeNames)
	}
	return out, nil
}

func (m *MockAPI) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ScanInputs = append(m.ScanInputs, params)
	if err := m.begin("Scan"); err != nil {
		return nil, err
	}
	if len(m.ScanPages) > 0 {
		page := m.ScanPages[0]
		m.ScanPages = m.ScanPages[1:]
		return page, nil
	}

	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	if params.FilterExpression != nil {
		return nil, fmt.Errorf("mock: filter expressions are not evaluated, script ScanPages instead")
	}

	items, lastKey, err := t.page(t.sorted(), params.ExclusiveStartKey, params.Limit)
	if err != nil {
		return nil, err
	}

	out := &dynamodb.ScanOutput{Count: int32(len(items)), ScannedCount: int32(len(items)), LastEvaluatedKey: lastKey}
	if params.Select != types.SelectCount {
		out.Items = projectAll(items, params.ProjectionExpression, params.ExpressionAttributeNames)
	}
	return out, nil
}

func (m *MockAPI) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.BatchWriteInputs = append(m.BatchWriteInputs, params)
	if err := m.begin("BatchWriteItem"); err != nil {
		return nil, err
	}
	if len(m.BatchWriteOutputs) > 0 {
		out := m.BatchWriteOutputs[0]
		m.BatchWriteOutputs = m.BatchWriteOutputs[1:]
		return out, nil
	}

	for name, reqs := range params.RequestItems {
		t, err := m.table(&name)
		if err != nil {
			return nil, err
		}
		for _, r := range reqs {
			switch {
			case r.PutRequest != nil:
				id, err := t.keyOf(r.PutRequest.Item)
				if err != nil {
					return nil, err
				}
				t.items[id] = copyItem(r.PutRequest.Item)
			case r.DeleteRequest != nil:
				id, err := t.keyOf(r.DeleteRequest.Key)
				if err != nil {
					return nil, err
				}
				delete(t.items, id)
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (t *mockTable) keyOf(item map[string]types.AttributeValue) (string, error) {
	hash, ok := item[t.hashKey]
	if !ok {
		return "", mockError("ValidationException", "One of the required keys was not given a value")
	}
	id := avString(hash)
	if t.rangeKey != "" {
		rng, ok := item[t.rangeKey]
		if !ok {
			return "", mockError("ValidationException", "One of the required keys was not given a value")
		}
		id += "\x00" + avString(rng)
	}
	return id, nil
}

func (t *mockTable) keyAttributes(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	key := map[string]types.AttributeValue{t.hashKey: item[t.hashKey]}
	if t.rangeKey != "" {
		key[t.rangeKey] = item[t.rangeKey]
	}
	return key
}

func (t *mockTable) sorted() []map[string]types.AttributeValue {
	items := make([]map[string]types.AttributeValue, 0, len(t.items))
	for _, item := range t.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if c := compareAV(items[i][t.hashKey], items[j][t.hashKey]); c != 0 {
			return c < 0
		}
		return t.rangeKey != "" && compareAV(items[i][t.rangeKey], items[j][t.rangeKey]) < 0
	})
	return items
}

// page applies ExclusiveStartKey and Limit to an ordered item list
func (t *mockTable) page(items []map[string]types.AttributeValue, startKey map[string]types.AttributeValue, limit *int32) ([]map[string]types.AttributeValue, map[string]types.AttributeValue, error) {
	if len(startKey) > 0 {
		start, err := t.keyOf(startKey)
		if err != nil {
			return nil, nil, err
		}
		for i, item := range items {
			if id, _ := t.keyOf(item); id == start {
				items = items[i+1:]
				break
			}
		}
	}

	if limit == nil || int(*limit) >= len(items) {
		return items, nil, nil
	}
	items = items[:*limit]
	if len(items) == 0 {
		return items, nil, nil
	}
	return items, t.keyAttributes(items[len(items)-1]), nil
}

type keyCondition struct {
	attr  string
	op    string
	value types.AttributeValue
}

func parseKeyConditions(expr string, names map[string]string, values map[string]types.AttributeValue) ([]keyCondition, error) {
	var conds []keyCondition
	for _, part := range strings.Split(expr, " AND ") {
		part = strings.TrimSpace(part)

		if fn, args, ok := parseCall(part); ok {
			if fn != "begins_with" || len(args) != 2 {
				return nil, fmt.Errorf("mock: unsupported key condition %q", part)
			}
			conds = append(conds, keyCondition{attr: resolveName(args[0], names), op: fn, value: values[args[1]]})
			continue
		}

		fields := strings.Fields(part)
		if len(fields) != 3 {
			return nil, fmt.Errorf("mock: unsupported key condition %q", part)
		}
		value, ok := values[fields[2]]
		if !ok {
			return nil, mockError("ValidationException", "Value provided in ExpressionAttributeValues unused in expressions: "+fields[2])
		}
		conds = append(conds, keyCondition{attr: resolveName(fields[0], names), op: fields[1], value: value})
	}
	return conds, nil
}

func matchesAll(item map[string]types.AttributeValue, conds []keyCondition) bool {
	for _, c := range conds {
		av, ok := item[c.attr]
		if !ok {
			return false
		}
		cmp := compareAV(av, c.value)
		switch c.op {
		case "=":
			ok = cmp == 0
		case "<":
			ok = cmp < 0
		case "<=":
			ok = cmp <= 0
		case ">":
			ok = cmp > 0
		case ">=":
			ok = cmp >= 0
		case "begins_with":
			ok = strings.HasPrefix(avString(av), avString(c.value))
		default:
			ok = false
		}
		if !ok {
			return false
		}
	}
	return true
}

func checkCondition(expr *string, names map[string]string, item map[string]types.AttributeValue) error {
	if expr == nil || *expr == "" {
		return nil
	}

	fn, args, ok := parseCall(*expr)
	if !ok || len(args) != 1 {
		return fmt.Errorf("mock: unsupported condition %q", *expr)
	}

	_, exists := item[resolveName(args[0], names)]
	switch fn {
	case "attribute_exists":
		if !exists {
			return mockError("ConditionalCheckFailedException", "The conditional request failed")
		}
	case "attribute_not_exists":
		if exists {
			return mockError("ConditionalCheckFailedException", "The conditional request failed")
		}
	default:
		return fmt.Errorf("mock: unsupported condition %q", *expr)
	}
	return nil
}

// applyUpdate evaluates "SET #a = :a, #b = :b REMOVE #c" style expressions
// checkPlaceholders rejects placeholders DynamoDB would not parse: a # or :
// prefix followed by one or more of [A-Za-z0-9_]
func checkPlaceholders(names map[string]string, values map[string]types.AttributeValue) error {
	placeholders := make([]string, 0, len(names)+len(values))
	for k := range names {
		placeholders = append(placeholders, k)
	}
	for k := range values {
		placeholders = append(placeholders, k)
	}

	for _, p := range placeholders {
		if len(p) < 2 || (p[0] != '#' && p[0] != ':') || strings.IndexFunc(p[1:], invalidPlaceholderRune) >= 0 {
			return mockError("ValidationException", fmt.Sprintf("Invalid ExpressionAttribute placeholder %q", p))
		}
	}
	return nil
}

func invalidPlaceholderRune(r rune) bool {
	return !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
}

func applyUpdate(item map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) error {
	setPart, removePart := expr, ""
	if i := strings.Index(expr, "REMOVE "); i >= 0 {
		setPart, removePart = expr[:i], expr[i+len("REMOVE "):]
	}
	setPart = strings.TrimSpace(setPart)

	if setPart != "" {
		if !strings.HasPrefix(setPart, "SET ") {
			return fmt.Errorf("mock: unsupported update expression %q", expr)
		}
		for _, assign := range strings.Split(strings.TrimPrefix(setPart, "SET "), ",") {
			name, placeholder, ok := strings.Cut(assign, "=")
			if !ok {
				return fmt.Errorf("mock: unsupported update expression %q", expr)
			}
			value, ok := values[strings.TrimSpace(placeholder)]
			if !ok {
				return mockError("ValidationException", "An expression attribute value used in expression is not defined")
			}
			item[resolveName(strings.TrimSpace(name), names)] = value
		}
	}

	for _, name := range strings.Split(removePart, ",") {
		if name = strings.TrimSpace(name); name != "" {
			delete(item, resolveName(name, names))
		}
	}
	return nil
}

func project(item map[string]types.AttributeValue, expr *string, names map[string]string) map[string]types.AttributeValue {
	if expr == nil || *expr == "" {
		return copyItem(item)
	}
	out := make(map[string]types.AttributeValue)
	for _, p := range strings.Split(*expr, ",") {
		name := resolveName(strings.TrimSpace(p), names)
		if av, ok := item[name]; ok {
			out[name] = av
		}
	}
	return out
}

func projectAll(items []map[string]types.AttributeValue, expr *string, names map[string]string) []map[string]types.AttributeValue {
	out := make([]map[string]types.AttributeValue, len(items))
	for i, item := range items {
		out[i] = project(item, expr, names)
	}
	return out
}

func parseCall(expr string) (string, []string, bool) {
	open, end := strings.Index(expr, "("), strings.LastIndex(expr, ")")
	if open <= 0 || end < open {
		return "", nil, false
	}
	args := strings.Split(expr[open+1:end], ",")
	for i := range args {
		args[i] = strings.TrimSpace(args[i])
	}
	return strings.TrimSpace(expr[:open]), args, true
}

func resolveName(token string, names map[string]string) string {
	if strings.HasPrefix(token, "#") {
		if name, ok := names[token]; ok {
			return name
		}
	}
	return token
}

func avString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberB:
		return string(v.Value)
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", av)
}

func compareAV(a, b types.AttributeValue) int {
	an, aok := a.(*types.AttributeValueMemberN)
	bn, bok := b.(*types.AttributeValueMemberN)
	if aok && bok {
		af, aerr := strconv.ParseFloat(an.Value, 64)
		bf, berr := strconv.ParseFloat(bn.Value, 64)
		if aerr == nil && berr == nil {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(avString(a), avString(b))
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func mockError(code, msg string) error {
	return &smithy.GenericAPIError{Code: code, Message: msg, Fault: smithy.FaultClient}
}
