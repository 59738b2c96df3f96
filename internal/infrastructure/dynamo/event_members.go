package dynamo

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-calendar-nosql/internal/domain"
)

// EventMemberRepo manages event_members rows.
// PK: event_id, SK: user_id. GSI user_id-index: user_id.
type EventMemberRepo struct {
	client    API
	tableName string
}

func NewEventMemberRepo(client API, tableName string) *EventMemberRepo {
	return &EventMemberRepo{client: client, tableName: tableName}
}

func (r *EventMemberRepo) Get(ctx context.Context, eventID, userID string) (*domain.EventMember, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            compositeKey(fieldEventID, eventID, fieldUserID, userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("event member not found: %w", domain.ErrNotFound)
	}
	var m domain.EventMember
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *EventMemberRepo) ListByEvent(ctx context.Context, eventID string) ([]*domain.EventMember, error) {
	return r.list(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    aws.String("event_id = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": strVal(eventID)},
	})
}

func (r *EventMemberRepo) ListByUser(ctx context.Context, userID string) ([]*domain.EventMember, error) {
	return r.list(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(indexUserID),
		KeyConditionExpression:    aws.String("user_id = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": strVal(userID)},
	})
}

func (r *EventMemberRepo) list(ctx context.Context, input *dynamodb.QueryInput) ([]*domain.EventMember, error) {
	items, err := queryAll(ctx, r.client, input)
	if err != nil {
		return nil, err
	}
	var members []*domain.EventMember
	if err := attributevalue.UnmarshalListOfMaps(items, &members); err != nil {
		return nil, err
	}
	slices.SortFunc(members, func(a, b *domain.EventMember) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return members, nil
}

// PutPending creates or resets an invitation row. Accepted rows are never overwritten.
func (r *EventMemberRepo) PutPending(ctx context.Context, m *domain.EventMember) error {
	row := *m
	row.Status = domain.StatusPending
	item, err := attributevalue.MarshalMap(&row)
	if err != nil {
		return fmt.Errorf("marshal event member: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(event_id) OR #s <> :accepted"),
		ExpressionAttributeNames: map[string]string{"#s": fieldStatus},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":accepted": strVal(string(domain.StatusAccepted)),
		},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("member already accepted: %w", domain.ErrConflict)
	}
	return err
}

// SetStatus moves a row from one status to another, failing with ErrConflict
// if the row is not currently in from.
func (r *EventMemberRepo) SetStatus(ctx context.Context, eventID, userID string, from, to domain.MemberStatus, at time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      compositeKey(fieldEventID, eventID, fieldUserID, userID),
		UpdateExpression:         aws.String("SET #s = :to, updated_at = :at"),
		ConditionExpression:      aws.String("#s = :from"),
		ExpressionAttributeNames: map[string]string{"#s": fieldStatus},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":from": strVal(string(from)),
			":to":   strVal(string(to)),
			":at":   timeVal(at),
		},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("event member is not %s: %w", from, domain.ErrConflict)
	}
	return err
}

func (r *EventMemberRepo) Remove(ctx context.Context, eventID, userID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey(fieldEventID, eventID, fieldUserID, userID),
	})
	return err
}

func (r *EventMemberRepo) DeleteByEvent(ctx context.Context, eventID string) error {
	items, err := queryAll(ctx, r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    aws.String("event_id = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": strVal(eventID)},
		ProjectionExpression:      aws.String("event_id, user_id"),
	})
	if err != nil {
		return err
	}
	return batchDelete(ctx, r.client, r.tableName, keysOf(items, fieldEventID, fieldUserID))
}
