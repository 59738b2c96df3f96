package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-calendar-nosql/internal/domain"
)

// CalendarRepo provides typed DynamoDB operations for the calendars table.
type CalendarRepo struct {
	client       API
	tableName    string
	membersTable string
}

func NewCalendarRepo(client API, tableName, membersTable string) *CalendarRepo {
	return &CalendarRepo{client: client, tableName: tableName, membersTable: membersTable}
}

// Create writes the calendar with owner_count = 1 and its first owner row atomically.
func (r *CalendarRepo) Create(ctx context.Context, cal *domain.Calendar, owner *domain.CalendarMember) error {
	cal.OwnerCount = 1
	calItem, err := attributevalue.MarshalMap(cal)
	if err != nil {
		return fmt.Errorf("marshal calendar: %w", err)
	}
	memberItem, err := attributevalue.MarshalMap(owner)
	if err != nil {
		return fmt.Errorf("marshal calendar member: %w", err)
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                calItem,
				ConditionExpression: aws.String("attribute_not_exists(calendar_id)"),
			}},
			{Put: &types.Put{
				TableName: aws.String(r.membersTable),
				Item:      memberItem,
			}},
		},
	})
	if cancelledAt(err, 0) {
		return fmt.Errorf("calendar %s exists: %w", cal.CalendarID, domain.ErrConflict)
	}
	return err
}

func (r *CalendarRepo) Get(ctx context.Context, calendarID string) (*domain.Calendar, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldCalendarID, calendarID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("calendar not found: %w", domain.ErrNotFound)
	}
	var c domain.Calendar
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CalendarRepo) GetMany(ctx context.Context, ids []string) ([]*domain.Calendar, error) {
	keys := make([]map[string]types.AttributeValue, 0, len(ids))
	for _, id := range dedupe(ids) {
		keys = append(keys, strKey(fieldCalendarID, id))
	}
	items, err := batchGet(ctx, r.client, r.tableName, keys)
	if err != nil {
		return nil, err
	}
	var cals []*domain.Calendar
	if err := attributevalue.UnmarshalListOfMaps(items, &cals); err != nil {
		return nil, err
	}
	return cals, nil
}

func (r *CalendarRepo) Update(ctx context.Context, calendarID string, patch domain.CalendarPatch) error {
	updates := map[string]interface{}{fieldUpdatedAt: time.Now().UTC()}
	if patch.Type != nil {
		updates["type"] = *patch.Type
	}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Color != nil {
		updates["color"] = *patch.Color
	}
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldCalendarID, calendarID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(calendar_id)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if isConditionFailed(err) {
		return fmt.Errorf("calendar not found: %w", domain.ErrNotFound)
	}
	return err
}

func (r *CalendarRepo) Delete(ctx context.Context, calendarID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldCalendarID, calendarID),
	})
	return err
}
