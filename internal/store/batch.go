package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// WriteRequest is a single put or delete inside a batch. Exactly one of Put
// (the full item) or Delete (the key) is set.
type WriteRequest struct {
	Put    Item `json:"put,omitempty"`
	Delete Item `json:"delete,omitempty"`
}

// BatchWriteQuery groups write requests by table name
type BatchWriteQuery struct {
	RequestItems map[string][]WriteRequest
}

// BatchWriteResult holds whatever the service still refused after the last
// retry. An empty result means every request was applied.
type BatchWriteResult struct {
	UnprocessedItems map[string][]WriteRequest `json:"unprocessedItems,omitempty"`
}

// BatchWrite submits q and resubmits unprocessed requests with exponential
// backoff. Requests still unprocessed after the retry ceiling are returned
// rather than reported as an error.
func (c *Client) BatchWrite(ctx context.Context, q BatchWriteQuery) (*BatchWriteResult, error) {
	pending, err := toWriteRequests(q.RequestItems)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return &BatchWriteResult{}, nil
	}

	for retry := 0; ; retry++ {
		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return nil, storeError("BatchWriteItem", tableNames(pending), err)
		}
		if len(out.UnprocessedItems) == 0 {
			return &BatchWriteResult{}, nil
		}

		pending = out.UnprocessedItems
		if retry >= c.retry.MaxRetries {
			break
		}

		delay := c.retry.calculateDelay(retry + 1)
		log.WithField("unprocessed", countRequests(pending)).Debugf("retrying batch write in %s", delay)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	unprocessed, err := fromWriteRequests(pending)
	if err != nil {
		return nil, err
	}
	log.WithField("unprocessed", countRequests(pending)).Warn("batch write left unprocessed items")
	return &BatchWriteResult{UnprocessedItems: unprocessed}, nil
}

func toWriteRequests(items map[string][]WriteRequest) (map[string][]types.WriteRequest, error) {
	out := make(map[string][]types.WriteRequest, len(items))
	for table, reqs := range items {
		if len(reqs) == 0 {
			continue
		}
		converted := make([]types.WriteRequest, 0, len(reqs))
		for _, r := range reqs {
			switch {
			case r.Put != nil:
				av, err := attributevalue.MarshalMap(r.Put)
				if err != nil {
					return nil, fmt.Errorf("marshal put request: %w", err)
				}
				converted = append(converted, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
			case r.Delete != nil:
				av, err := attributevalue.MarshalMap(r.Delete)
				if err != nil {
					return nil, fmt.Errorf("marshal delete request: %w", err)
				}
				converted = append(converted, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: av}})
			default:
				return nil, fmt.Errorf("write request for %s has neither put nor delete", table)
			}
		}
		out[table] = converted
	}
	return out, nil
}

func fromWriteRequests(items map[string][]types.WriteRequest) (map[string][]WriteRequest, error) {
	out := make(map[string][]WriteRequest, len(items))
	for table, reqs := range items {
		for _, r := range reqs {
			var wr WriteRequest
			switch {
			case r.PutRequest != nil:
				if err := attributevalue.UnmarshalMap(r.PutRequest.Item, &wr.Put); err != nil {
					return nil, fmt.Errorf("unmarshal put request: %w", err)
				}
			case r.DeleteRequest != nil:
				if err := attributevalue.UnmarshalMap(r.DeleteRequest.Key, &wr.Delete); err != nil {
					return nil, fmt.Errorf("unmarshal delete request: %w", err)
				}
			}
			out[table] = append(out[table], wr)
		}
	}
	return out, nil
}

func countRequests(items map[string][]types.WriteRequest) int {
	n := 0
	for _, reqs := range items {
		n += len(reqs)
	}
	return n
}

func tableNames(items map[string][]types.WriteRequest) string {
	var names string
	for table := range items {
		if names != "" {
			names += ","
		}
		names += table
	}
	return names
}
