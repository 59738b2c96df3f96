package dynamo

import (
	"context"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-calendar-nosql/internal/domain"
)

// EventRepo provides typed DynamoDB operations for the events table.
type EventRepo struct {
	client    API
	tableName string
}

func NewEventRepo(client API, tableName string) *EventRepo {
	return &EventRepo{client: client, tableName: tableName}
}

func (r *EventRepo) Put(ctx context.Context, e *domain.Event) error {
	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

// Update replaces an existing event.
func (r *EventRepo) Update(ctx context.Context, e *domain.Event) error {
	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(event_id)"),
	})
	if isConditionFailed(err) {
		return fmt.Errorf("event not found: %w", domain.ErrNotFound)
	}
	return err
}

func (r *EventRepo) Get(ctx context.Context, eventID string) (*domain.Event, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldEventID, eventID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("event not found: %w", domain.ErrNotFound)
	}
	var e domain.Event
	if err := attributevalue.UnmarshalMap(out.Item, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EventRepo) GetMany(ctx context.Context, ids []string) ([]*domain.Event, error) {
	keys := make([]map[string]types.AttributeValue, 0, len(ids))
	for _, id := range dedupe(ids) {
		keys = append(keys, strKey(fieldEventID, id))
	}
	items, err := batchGet(ctx, r.client, r.tableName, keys)
	if err != nil {
		return nil, err
	}
	var events []*domain.Event
	if err := attributevalue.UnmarshalListOfMaps(items, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *EventRepo) ListByCalendar(ctx context.Context, calendarID string) ([]*domain.Event, error) {
	items, err := queryAll(ctx, r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(indexCalendarID),
		KeyConditionExpression:    aws.String("calendar_id = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": strVal(calendarID)},
	})
	if err != nil {
		return nil, err
	}
	var events []*domain.Event
	if err := attributevalue.UnmarshalListOfMaps(items, &events); err != nil {
		return nil, err
	}
	slices.SortFunc(events, func(a, b *domain.Event) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return events, nil
}

func (r *EventRepo) Delete(ctx context.Context, eventID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldEventID, eventID),
	})
	return err
}

// DeleteByCalendar removes every event of the calendar and returns their ids.
func (r *EventRepo) DeleteByCalendar(ctx context.Context, calendarID string) ([]string, error) {
	items, err := queryAll(ctx, r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(indexCalendarID),
		KeyConditionExpression:    aws.String("calendar_id = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": strVal(calendarID)},
		ProjectionExpression:      aws.String("event_id"),
	})
	if err != nil {
		return nil, err
	}
	if err := batchDelete(ctx, r.client, r.tableName, keysOf(items, fieldEventID)); err != nil {
		return nil, err
	}
	return stringsOf(items, fieldEventID), nil
}
