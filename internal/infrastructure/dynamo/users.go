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

// emailGuardPrefix marks the items that reserve an email address in the users table.
// Guard items carry no email attribute, so they stay out of email-index.
const emailGuardPrefix = "email#"

// UserRepo provides typed DynamoDB operations for the users table.
type UserRepo struct {
	client    API
	tableName string
}

func NewUserRepo(client API, tableName string) *UserRepo {
	return &UserRepo{client: client, tableName: tableName}
}

// Put inserts a new user and reserves its email in the same transaction.
func (r *UserRepo) Put(ctx context.Context, u *domain.User) error {
	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(user_id)"),
			}},
			{Put: &types.Put{
				TableName: aws.String(r.tableName),
				Item: map[string]types.AttributeValue{
					fieldUserID: strVal(emailGuardPrefix + u.Email),
					"owner_id":  strVal(u.UserID),
				},
				ConditionExpression: aws.String("attribute_not_exists(user_id)"),
			}},
		},
	})
	switch {
	case err == nil:
		return nil
	case cancelledAt(err, 1):
		return fmt.Errorf("email %s: %w", u.Email, domain.ErrUserAlreadyExists)
	case cancelledAt(err, 0):
		return fmt.Errorf("user %s exists: %w", u.UserID, domain.ErrConflict)
	default:
		return err
	}
}

func (r *UserRepo) Get(ctx context.Context, userID string) (*domain.User, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldUserID, userID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	var u domain.User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(indexEmail),
		KeyConditionExpression:    aws.String("email = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": strVal(email)},
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	var u domain.User
	if err := attributevalue.UnmarshalMap(out.Items[0], &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetMany returns the users that exist among ids, in no particular order.
func (r *UserRepo) GetMany(ctx context.Context, ids []string) ([]*domain.User, error) {
	keys := make([]map[string]types.AttributeValue, 0, len(ids))
	for _, id := range dedupe(ids) {
		keys = append(keys, strKey(fieldUserID, id))
	}
	items, err := batchGet(ctx, r.client, r.tableName, keys)
	if err != nil {
		return nil, err
	}
	var users []*domain.User
	if err := attributevalue.UnmarshalListOfMaps(items, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *UserRepo) Update(ctx context.Context, userID string, patch domain.UserPatch) error {
	updates := map[string]interface{}{fieldUpdatedAt: time.Now().UTC()}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Avatar != nil {
		updates["avatar"] = *patch.Avatar
	}
	return r.update(ctx, userID, updates)
}

func (r *UserRepo) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	return r.update(ctx, userID, map[string]interface{}{
		"email_verified":    true,
		"email_verified_at": at,
		fieldUpdatedAt:      at,
	})
}

func (r *UserRepo) update(ctx context.Context, userID string, updates map[string]interface{}) error {
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldUserID, userID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(user_id)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if isConditionFailed(err) {
		return fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	return err
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
