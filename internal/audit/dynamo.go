// MIT License
//
// Copyright (c) 2025 Mike Lane
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	indexByUser    = "requestedBy-timestampStart-index"
	indexByCluster = "clusterName-timestampStart-index"
)

// DynamoStore implements Store against a DynamoDB table keyed by
// (namespaceName, timestampStart) with GSIs on requestedBy and
// clusterName, each paired with timestampStart as the sort attribute.
type DynamoStore struct {
	db    *dynamodb.Client
	table string
}

// NewDynamoStore creates a store over the given table.
func NewDynamoStore(db *dynamodb.Client, table string) *DynamoStore {
	return &DynamoStore{db: db, table: table}
}

func (s *DynamoStore) Put(ctx context.Context, e Entry) error {
	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return fmt.Errorf("marshalling audit entry: %w", err)
	}

	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("putting audit entry: %w", err)
	}
	return nil
}

func (s *DynamoStore) CloseEntry(ctx context.Context, namespace, timestampStart string, end time.Time) error {
	start, err := time.Parse(time.RFC3339, timestampStart)
	if err != nil {
		return fmt.Errorf("parsing entry start %q: %w", timestampStart, err)
	}
	duration := end.Sub(start).Minutes()

	_, err = s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"namespaceName":  &types.AttributeValueMemberS{Value: namespace},
			"timestampStart": &types.AttributeValueMemberS{Value: timestampStart},
		},
		// Only close entries that are still open.
		ConditionExpression: aws.String("attribute_not_exists(timestampEnd)"),
		UpdateExpression:    aws.String("SET timestampEnd = :end, durationMinutes = :dur"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":end": &types.AttributeValueMemberS{Value: FormatTimestamp(end)},
			":dur": &types.AttributeValueMemberN{Value: fmt.Sprintf("%.2f", duration)},
		},
	})
	if err != nil {
		var conditional *types.ConditionalCheckFailedException
		if errors.As(err, &conditional) {
			// Already closed; idempotent.
			return nil
		}
		return fmt.Errorf("closing audit entry: %w", err)
	}
	return nil
}

func (s *DynamoStore) LatestOpen(ctx context.Context, namespace string) (*Entry, error) {
	out, err := s.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("namespaceName = :ns"),
		FilterExpression:       aws.String("attribute_not_exists(timestampEnd)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ns": &types.AttributeValueMemberS{Value: namespace},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("querying open entries for %s: %w", namespace, err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}

	var e Entry
	if err := attributevalue.UnmarshalMap(out.Items[0], &e); err != nil {
		return nil, fmt.Errorf("unmarshalling audit entry: %w", err)
	}
	return &e, nil
}

func (s *DynamoStore) QueryByUser(ctx context.Context, user string, q Query) ([]Entry, error) {
	return s.queryIndex(ctx, indexByUser, "requestedBy", user, q)
}

func (s *DynamoStore) QueryByCluster(ctx context.Context, clusterName string, q Query) ([]Entry, error) {
	return s.queryIndex(ctx, indexByCluster, "clusterName", clusterName, q)
}

func (s *DynamoStore) queryIndex(ctx context.Context, index, keyAttr, keyValue string, q Query) ([]Entry, error) {
	keyCond := "#k = :v"
	values := map[string]types.AttributeValue{
		":v": &types.AttributeValueMemberS{Value: keyValue},
	}

	switch {
	case !q.Start.IsZero() && !q.End.IsZero():
		keyCond += " AND timestampStart BETWEEN :start AND :end"
		values[":start"] = &types.AttributeValueMemberS{Value: FormatTimestamp(q.Start)}
		values[":end"] = &types.AttributeValueMemberS{Value: FormatTimestamp(q.End)}
	case !q.Start.IsZero():
		keyCond += " AND timestampStart >= :start"
		values[":start"] = &types.AttributeValueMemberS{Value: FormatTimestamp(q.Start)}
	case !q.End.IsZero():
		keyCond += " AND timestampStart <= :end"
		values[":end"] = &types.AttributeValueMemberS{Value: FormatTimestamp(q.End)}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeNames:  map[string]string{"#k": keyAttr},
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(false), // newest first
	}
	if q.Limit > 0 {
		input.Limit = aws.Int32(int32(q.Limit))
	}

	out, err := s.db.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", index, err)
	}

	var entries []Entry
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &entries); err != nil {
		return nil, fmt.Errorf("unmarshalling audit entries: %w", err)
	}
	return entries, nil
}
