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

// CalendarMemberRepo manages calendar_members rows. Any change to the number of
// accepted owners is written in one transaction with the calendar's owner_count.
// PK: calendar_id, SK: user_id. GSI user_id-index: user_id.
type CalendarMemberRepo struct {
	client         API
	tableName      string
	calendarsTable string
}

func NewCalendarMemberRepo(client API, tableName, calendarsTable string) *CalendarMemberRepo {
	return &CalendarMemberRepo{client: client, tableName: tableName, calendarsTable: calendarsTable}
}

func (r *CalendarMemberRepo) key(calendarID, userID string) map[string]types.AttributeValue {
	return compositeKey(fieldCalendarID, calendarID, fieldUserID, userID)
}

func (r *CalendarMemberRepo) Get(ctx context.Context, calendarID, userID string) (*domain.CalendarMember, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            r.key(calendarID, userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("calendar member not found: %w", domain.ErrNotFound)
	}
	var m domain.CalendarMember
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *CalendarMemberRepo) ListByCalendar(ctx context.Context, calendarID string) ([]*domain.CalendarMember, error) {
	return r.list(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    aws.String("calendar_id = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": strVal(calendarID)},
	})
}

func (r *CalendarMemberRepo) ListByUser(ctx context.Context, userID string) ([]*domain.CalendarMember, error) {
	return r.list(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(indexUserID),
		KeyConditionExpression:    aws.String("user_id = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": strVal(userID)},
	})
}

func (r *CalendarMemberRepo) list(ctx context.Context, input *dynamodb.QueryInput) ([]*domain.CalendarMember, error) {
	items, err := queryAll(ctx, r.client, input)
	if err != nil {
		return nil, err
	}
	var members []*domain.CalendarMember
	if err := attributevalue.UnmarshalListOfMaps(items, &members); err != nil {
		return nil, err
	}
	slices.SortFunc(members, func(a, b *domain.CalendarMember) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return members, nil
}

// PutPending creates or resets an invitation row. Accepted rows are never overwritten.
func (r *CalendarMemberRepo) PutPending(ctx context.Context, m *domain.CalendarMember) error {
	row := *m
	row.Status = domain.StatusPending
	item, err := attributevalue.MarshalMap(&row)
	if err != nil {
		return fmt.Errorf("marshal calendar member: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(calendar_id) OR #s <> :accepted"),
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

// Accept moves a pending row to accepted with the given role. Accepting as
// owner also increments the calendar's owner_count.
func (r *CalendarMemberRepo) Accept(ctx context.Context, calendarID, userID string, role domain.Role, at time.Time) error {
	setRow := &types.Update{
		TableName:           aws.String(r.tableName),
		Key:                 r.key(calendarID, userID),
		UpdateExpression:    aws.String("SET #s = :accepted, #r = :role, updated_at = :at"),
		ConditionExpression: aws.String("#s = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#s": fieldStatus,
			"#r": fieldRole,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":accepted": strVal(string(domain.StatusAccepted)),
			":pending":  strVal(string(domain.StatusPending)),
			":role":     strVal(string(role)),
			":at":       timeVal(at),
		},
	}
	items := []types.TransactWriteItem{{Update: setRow}}
	if role == domain.RoleOwner {
		items = append(items, types.TransactWriteItem{Update: r.ownerDelta(calendarID, 1)})
	}
	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	switch {
	case err == nil:
		return nil
	case cancelledAt(err, 0):
		return fmt.Errorf("invitation is not pending: %w", domain.ErrConflict)
	case cancelledAt(err, 1):
		return fmt.Errorf("calendar not found: %w", domain.ErrNotFound)
	default:
		return err
	}
}

func (r *CalendarMemberRepo) Decline(ctx context.Context, calendarID, userID string, at time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      r.key(calendarID, userID),
		UpdateExpression:         aws.String("SET #s = :declined, updated_at = :at"),
		ConditionExpression:      aws.String("#s = :pending"),
		ExpressionAttributeNames: map[string]string{"#s": fieldStatus},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":declined": strVal(string(domain.StatusDeclined)),
			":pending":  strVal(string(domain.StatusPending)),
			":at":       timeVal(at),
		},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("invitation is not pending: %w", domain.ErrConflict)
	}
	return err
}

// ChangeRole updates an accepted member's role. cur is the row the caller read;
// the write fails with ErrConflict if it changed since.
func (r *CalendarMemberRepo) ChangeRole(ctx context.Context, cur *domain.CalendarMember, to domain.Role, at time.Time) error {
	items := []types.TransactWriteItem{{Update: &types.Update{
		TableName:           aws.String(r.tableName),
		Key:                 r.key(cur.CalendarID, cur.UserID),
		UpdateExpression:    aws.String("SET #r = :to, updated_at = :at"),
		ConditionExpression: aws.String("#s = :accepted AND #r = :cur"),
		ExpressionAttributeNames: map[string]string{
			"#s": fieldStatus,
			"#r": fieldRole,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":accepted": strVal(string(domain.StatusAccepted)),
			":cur":      strVal(string(cur.Role)),
			":to":       strVal(string(to)),
			":at":       timeVal(at),
		},
	}}}
	var delta int64
	switch {
	case cur.Role == domain.RoleOwner && to != domain.RoleOwner:
		delta = -1
	case cur.Role != domain.RoleOwner && to == domain.RoleOwner:
		delta = 1
	}
	if delta != 0 {
		items = append(items, types.TransactWriteItem{Update: r.ownerDelta(cur.CalendarID, delta)})
	}
	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return r.mapCancel(ctx, err, cur.CalendarID, delta)
}

// Remove deletes the row read as cur. Removing the last accepted owner fails with ErrLastOwner.
func (r *CalendarMemberRepo) Remove(ctx context.Context, cur *domain.CalendarMember) error {
	items := []types.TransactWriteItem{{Delete: &types.Delete{
		TableName:           aws.String(r.tableName),
		Key:                 r.key(cur.CalendarID, cur.UserID),
		ConditionExpression: aws.String("#s = :status AND #r = :role"),
		ExpressionAttributeNames: map[string]string{
			"#s": fieldStatus,
			"#r": fieldRole,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": strVal(string(cur.Status)),
			":role":   strVal(string(cur.Role)),
		},
	}}}
	var delta int64
	if cur.AcceptedOwner() {
		delta = -1
		items = append(items, types.TransactWriteItem{Update: r.ownerDelta(cur.CalendarID, delta)})
	}
	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return r.mapCancel(ctx, err, cur.CalendarID, delta)
}

// Restore puts prev back in place of the pending row cur that an invitation
// wrote. It fails with ErrConflict when the row changed after cur was written.
// Neither row is an accepted one, so owner_count is not involved.
func (r *CalendarMemberRepo) Restore(ctx context.Context, cur, prev *domain.CalendarMember) error {
	item, err := attributevalue.MarshalMap(prev)
	if err != nil {
		return fmt.Errorf("marshal calendar member: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("#s = :pending AND #r = :role AND updated_at = :at"),
		ExpressionAttributeNames: map[string]string{
			"#s": fieldStatus,
			"#r": fieldRole,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": strVal(string(domain.StatusPending)),
			":role":    strVal(string(cur.Role)),
			":at":      timeVal(cur.UpdatedAt),
		},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("member changed concurrently: %w", domain.ErrConflict)
	}
	return err
}

func (r *CalendarMemberRepo) DeleteByCalendar(ctx context.Context, calendarID string) error {
	items, err := queryAll(ctx, r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    aws.String("calendar_id = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": strVal(calendarID)},
		ProjectionExpression:      aws.String("calendar_id, user_id"),
	})
	if err != nil {
		return err
	}
	return batchDelete(ctx, r.client, r.tableName, keysOf(items, fieldCalendarID, fieldUserID))
}

// ownerDelta adjusts owner_count by delta. A decrement is only allowed while
// more than one owner remains.
func (r *CalendarMemberRepo) ownerDelta(calendarID string, delta int64) *types.Update {
	cond := "attribute_exists(calendar_id)"
	values := map[string]types.AttributeValue{":d": numVal(delta)}
	if delta < 0 {
		cond += " AND owner_count > :one"
		values[":one"] = numVal(1)
	}
	return &types.Update{
		TableName:                 aws.String(r.calendarsTable),
		Key:                       strKey(fieldCalendarID, calendarID),
		UpdateExpression:          aws.String("ADD owner_count :d"),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeValues: values,
	}
}

// mapCancel translates a cancelled member+calendar transaction. The member row
// is always item 0 and the calendar counter, adjusted by delta, item 1. The
// counter condition fails either because the calendar is gone or because a
// decrement would drop the last owner.
func (r *CalendarMemberRepo) mapCancel(ctx context.Context, err error, calendarID string, delta int64) error {
	switch {
	case err == nil:
		return nil
	case cancelledAt(err, 0):
		return fmt.Errorf("member changed concurrently: %w", domain.ErrConflict)
	case cancelledAt(err, 1):
		if delta < 0 {
			exists, gErr := r.calendarExists(ctx, calendarID)
			if gErr != nil {
				return gErr
			}
			if exists {
				return domain.ErrLastOwner
			}
		}
		return fmt.Errorf("calendar not found: %w", domain.ErrNotFound)
	default:
		return err
	}
}

func (r *CalendarMemberRepo) calendarExists(ctx context.Context, calendarID string) (bool, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(r.calendarsTable),
		Key:                  strKey(fieldCalendarID, calendarID),
		ProjectionExpression: aws.String(fieldCalendarID),
		ConsistentRead:       aws.Bool(true),
	})
	if err != nil {
		return false, err
	}
	return out.Item != nil, nil
}

func timeVal(t time.Time) types.AttributeValue {
	av, err := attributevalue.Marshal(t)
	if err != nil {
		return strVal(t.UTC().Format(time.RFC3339Nano))
	}
	return av
}
