package store

import (
	"fmt"
	"sort"
	"strings"
)

// QueryDescriptor is a table- and key-agnostic description of a query or
// scan. Clients derive a fresh SDK input from it on every call and never
// modify it.
type QueryDescriptor struct {
	TableName                 string
	IndexName                 string
	KeyConditionExpression    string
	FilterExpression          string
	ProjectionExpression      string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]any
	Limit                     int32
	ScanIndexForward          *bool
	Select                    string
}

// Condition is a key condition other than plain equality, e.g.
// Condition{Operator: "begins_with", Value: "2024-"}
type Condition struct {
	Operator string
	Value    any
}

// Filter is an optional filter expression attached to a query
type Filter struct {
	FilterExpression          string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]any
}

type QueryOptions struct {
	Reverse   bool
	IndexName string
}

// UpdateExpression is the result of BuildUpdateExpression
type UpdateExpression struct {
	UpdateExpression          string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]any
}

// BuildUpdateExpression turns a property map into a SET/REMOVE update. Nil
// and empty string values (after RemoveEmptyValues) are removed from the
// item, everything else is set. Placeholders are generated (#p0, :p0, ...)
// in sorted key order, so any attribute name can be updated.
func BuildUpdateExpression(properties map[string]any) UpdateExpression {
	keys := make([]string, 0, len(properties))
	for k := range properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sets, removes []string
	names := make(map[string]string, len(keys))
	var values map[string]any

	for i, k := range keys {
		name := fmt.Sprintf("#p%d", i)
		names[name] = k

		v := RemoveEmptyValues(properties[k])
		if isEmptyValue(v) {
			removes = append(removes, name)
			continue
		}

		if values == nil {
			values = make(map[string]any)
		}
		value := fmt.Sprintf(":p%d", i)
		values[value] = v
		sets = append(sets, name+" = "+value)
	}

	var parts []string
	if len(sets) > 0 {
		parts = append(parts, "SET "+strings.Join(sets, ", "))
	}
	if len(removes) > 0 {
		parts = append(parts, "REMOVE "+strings.Join(removes, ", "))
	}

	return UpdateExpression{
		UpdateExpression:          strings.Join(parts, " "),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
}

// RemoveEmptyValues drops nil and "" entries from maps and slices,
// recursively. Maps are modified in place and slices are compacted in place;
// the (possibly shortened) value is returned.
func RemoveEmptyValues(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for k, child := range v {
			child = RemoveEmptyValues(child)
			if isEmptyValue(child) {
				delete(v, k)
				continue
			}
			v[k] = child
		}
		return v
	case []any:
		n := 0
		for _, child := range v {
			child = RemoveEmptyValues(child)
			if isEmptyValue(child) {
				continue
			}
			v[n] = child
			n++
		}
		clear(v[n:])
		return v[:n]
	}
	return value
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// BuildQueryExpression builds a query descriptor whose key condition matches
// every entry of key. Plain values compare with "=", Condition values use
// their own operator. Keys are processed in sorted order.
func BuildQueryExpression(tableName string, key map[string]any, filter *Filter, opts *QueryOptions) QueryDescriptor {
	keys := make([]string, 0, len(key))
	for k := range key {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	names := make(map[string]string)
	values := make(map[string]any)
	conditions := make([]string, 0, len(keys))

	for _, k := range keys {
		name, placeholder := "#__"+k+"__", ":__"+k+"__"
		names[name] = k

		op, value := "=", key[k]
		switch c := value.(type) {
		case Condition:
			op, value = c.Operator, c.Value
		case *Condition:
			op, value = c.Operator, c.Value
		}
		if op == "" {
			op = "="
		}
		values[placeholder] = value

		if op == "begins_with" {
			conditions = append(conditions, fmt.Sprintf("begins_with( %s, %s )", name, placeholder))
		} else {
			conditions = append(conditions, fmt.Sprintf("%s %s %s", name, op, placeholder))
		}
	}

	q := QueryDescriptor{
		TableName:                 tableName,
		KeyConditionExpression:    strings.Join(conditions, " AND "),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}

	if filter != nil {
		q.FilterExpression = filter.FilterExpression
		for k, v := range filter.ExpressionAttributeNames {
			q.ExpressionAttributeNames[k] = v
		}
		for k, v := range filter.ExpressionAttributeValues {
			q.ExpressionAttributeValues[k] = v
		}
	}

	if opts != nil {
		q.IndexName = opts.IndexName
		if opts.Reverse {
			forward := false
			q.ScanIndexForward = &forward
		}
	}

	return q
}
