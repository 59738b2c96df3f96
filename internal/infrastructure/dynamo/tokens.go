package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-calendar-nosql/internal/domain"
)

// scopeHeadPrefix marks the per-scope head items stored next to the tokens.
// A head records the hash of the scope's newest token and a version used for
// compare-and-swap when a new token replaces it.
const scopeHeadPrefix = "scope#"

// createAttempts bounds retries when concurrent mints race on the same scope head.
const createAttempts = 3

// tokenItem is the stored shape of a token. user_type backs the
// user_type-created_at-index used by LatestByUserAndType.
type tokenItem struct {
	domain.ApprovalToken
	UserType string `dynamodbav:"user_type"`
}

type scopeHead struct {
	TokenHash string    `dynamodbav:"token_hash"`
	Active    string    `dynamodbav:"active"`
	Version   int64     `dynamodbav:"version"`
	ExpiresAt time.Time `dynamodbav:"expires_at,unixtime"`
}

func userType(userID string, t domain.TokenType) string {
	return userID + "#" + string(t)
}

// TokenRepo stores approval tokens keyed by their SHA-256 hash.
// PK: token_hash. GSI user_type-created_at-index. TTL on expires_at.
type TokenRepo struct {
	client    API
	tableName string
}

func NewTokenRepo(client API, tableName string) *TokenRepo {
	return &TokenRepo{client: client, tableName: tableName}
}

// Create inserts t and marks the scope's previous token used in one transaction.
func (r *TokenRepo) Create(ctx context.Context, t *domain.ApprovalToken) error {
	item, err := attributevalue.MarshalMap(tokenItem{ApprovalToken: *t, UserType: userType(t.UserID, t.Type)})
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	for attempt := 0; ; attempt++ {
		err = r.create(ctx, t, item)
		if err == nil || attempt+1 >= createAttempts || !errors.Is(err, errScopeHeadChanged) {
			return err
		}
	}
}

var errScopeHeadChanged = errors.New("scope head changed concurrently")

func (r *TokenRepo) create(ctx context.Context, t *domain.ApprovalToken, item map[string]types.AttributeValue) error {
	headKey := strKey(fieldTokenHash, scopeHeadPrefix+t.ScopeKey)
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            headKey,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return err
	}
	var prev *scopeHead
	if out.Item != nil {
		prev = &scopeHead{}
		if err := attributevalue.UnmarshalMap(out.Item, prev); err != nil {
			return err
		}
	}

	next := scopeHead{
		TokenHash: scopeHeadPrefix + t.ScopeKey,
		Active:    t.TokenHash,
		Version:   1,
		ExpiresAt: t.ExpiresAt,
	}
	headPut := &types.Put{
		TableName:           aws.String(r.tableName),
		ConditionExpression: aws.String("attribute_not_exists(token_hash)"),
	}
	if prev != nil {
		next.Version = prev.Version + 1
		headPut.ConditionExpression = aws.String("#ver = :v")
		headPut.ExpressionAttributeNames = map[string]string{"#ver": fieldVersion}
		headPut.ExpressionAttributeValues = map[string]types.AttributeValue{":v": numVal(prev.Version)}
	}
	if headPut.Item, err = attributevalue.MarshalMap(next); err != nil {
		return fmt.Errorf("marshal scope head: %w", err)
	}

	delete(item, fieldSupersedes)
	var supersede *types.Update
	if prev != nil && prev.Active != "" && prev.Active != t.TokenHash {
		// The previous token may be gone (withdrawn or purged by TTL) or already redeemed.
		old, err := r.GetByHash(ctx, prev.Active)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if old != nil && !old.Used {
			item[fieldSupersedes] = strVal(old.TokenHash)
			supersede = &types.Update{
				TableName:           aws.String(r.tableName),
				Key:                 strKey(fieldTokenHash, old.TokenHash),
				UpdateExpression:    aws.String("SET #u = :t, #sb = :h"),
				ConditionExpression: aws.String("attribute_exists(token_hash) AND #u = :f"),
				ExpressionAttributeNames: map[string]string{
					"#u":  fieldUsed,
					"#sb": fieldSupersededBy,
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":t": &types.AttributeValueMemberBOOL{Value: true},
					":f": &types.AttributeValueMemberBOOL{Value: false},
					":h": strVal(t.TokenHash),
				},
			}
		}
	}

	items := []types.TransactWriteItem{
		{Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(token_hash)"),
		}},
		{Put: headPut},
	}
	if supersede != nil {
		items = append(items, types.TransactWriteItem{Update: supersede})
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	switch {
	case err == nil:
		return nil
	case cancelledAt(err, 0):
		return fmt.Errorf("token exists: %w", domain.ErrConflict)
	case cancelledAt(err, 1), cancelledAt(err, 2):
		return errScopeHeadChanged
	default:
		return err
	}
}

func (r *TokenRepo) GetByHash(ctx context.Context, tokenHash string) (*domain.ApprovalToken, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldTokenHash, tokenHash),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("token not found: %w", domain.ErrNotFound)
	}
	var t domain.ApprovalToken
	if err := attributevalue.UnmarshalMap(out.Item, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// MarkUsed flips used for a live token. It fails with ErrConflict when the
// token is missing, already used or expired at now.
func (r *TokenRepo) MarkUsed(ctx context.Context, tokenHash string, now time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      strKey(fieldTokenHash, tokenHash),
		UpdateExpression:         aws.String("SET #u = :t"),
		ConditionExpression:      aws.String("attribute_exists(token_hash) AND #u = :f AND expires_at > :now"),
		ExpressionAttributeNames: map[string]string{"#u": fieldUsed},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":   &types.AttributeValueMemberBOOL{Value: true},
			":f":   &types.AttributeValueMemberBOOL{Value: false},
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("token not live: %w", domain.ErrConflict)
	}
	return err
}

func (r *TokenRepo) LatestByUserAndType(ctx context.Context, userID string, tokenType domain.TokenType) (*domain.ApprovalToken, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(indexUserTypeCreated),
		KeyConditionExpression:    aws.String("user_type = :ut"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":ut": strVal(userType(userID, tokenType))},
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("token not found: %w", domain.ErrNotFound)
	}
	var t domain.ApprovalToken
	if err := attributevalue.UnmarshalMap(out.Items[0], &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Withdraw deletes an undelivered token. When the token is still unused and
// superseded another one, the same transaction marks that token unused again
// and points the scope head back at it. If the earlier token was redeemed,
// purged or replaced since, the token is only deleted.
func (r *TokenRepo) Withdraw(ctx context.Context, tokenHash string) error {
	t, err := r.GetByHash(ctx, tokenHash)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if t.Used || t.Supersedes == "" {
		return r.delete(ctx, tokenHash)
	}

	h := strVal(tokenHash)
	items := []types.TransactWriteItem{
		{Delete: &types.Delete{
			TableName:                aws.String(r.tableName),
			Key:                      strKey(fieldTokenHash, tokenHash),
			ConditionExpression:      aws.String("#u = :f"),
			ExpressionAttributeNames: map[string]string{"#u": fieldUsed},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":f": &types.AttributeValueMemberBOOL{Value: false},
			},
		}},
		{Update: &types.Update{
			TableName:           aws.String(r.tableName),
			Key:                 strKey(fieldTokenHash, t.Supersedes),
			UpdateExpression:    aws.String("SET #u = :f REMOVE #sb"),
			ConditionExpression: aws.String("#sb = :h"),
			ExpressionAttributeNames: map[string]string{
				"#u":  fieldUsed,
				"#sb": fieldSupersededBy,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":f": &types.AttributeValueMemberBOOL{Value: false},
				":h": h,
			},
		}},
		{Update: &types.Update{
			TableName:           aws.String(r.tableName),
			Key:                 strKey(fieldTokenHash, scopeHeadPrefix+t.ScopeKey),
			UpdateExpression:    aws.String("SET #a = :prev ADD #ver :one"),
			ConditionExpression: aws.String("#a = :h"),
			ExpressionAttributeNames: map[string]string{
				"#a":   fieldActive,
				"#ver": fieldVersion,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prev": strVal(t.Supersedes),
				":h":    h,
				":one":  numVal(1),
			},
		}},
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	switch {
	case err == nil:
		return nil
	case cancelledAt(err, 0), cancelledAt(err, 1), cancelledAt(err, 2):
		return r.delete(ctx, tokenHash)
	default:
		return err
	}
}

func (r *TokenRepo) delete(ctx context.Context, tokenHash string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldTokenHash, tokenHash),
	})
	return err
}
