package dynamo

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/go-calendar-nosql/internal/domain"
)

func TestTokenItem_StoresIndexAndTTLAttributes(t *testing.T) {
	exp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := domain.ApprovalToken{
		TokenHash: "h1",
		UserID:    "u1",
		Type:      domain.TokenCalendarInvite,
		Meta:      domain.TokenMeta{CalendarID: "c1", Role: domain.RoleEditor},
		ScopeKey:  "u1#calendar_invite#c1",
		ExpiresAt: exp,
		CreatedAt: exp.Add(-time.Hour),
	}

	item, err := attributevalue.MarshalMap(tokenItem{ApprovalToken: tok, UserType: userType(tok.UserID, tok.Type)})
	require.NoError(t, err)

	assert.Equal(t, &types.AttributeValueMemberS{Value: "h1"}, item[fieldTokenHash])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "u1#calendar_invite"}, item[fieldUserType])
	// TTL and the GSI sort key need numeric epoch seconds.
	assert.IsType(t, &types.AttributeValueMemberN{}, item[fieldExpiresAt])
	assert.IsType(t, &types.AttributeValueMemberN{}, item[fieldCreatedAt])

	var back domain.ApprovalToken
	require.NoError(t, attributevalue.UnmarshalMap(item, &back))
	assert.Equal(t, tok.Meta, back.Meta)
	assert.True(t, back.ExpiresAt.Equal(exp))
}

const testScope = "u1#calendar_invite#c1"

func newTestToken(hash string) *domain.ApprovalToken {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.ApprovalToken{
		TokenHash: hash,
		UserID:    "u1",
		Type:      domain.TokenCalendarInvite,
		Meta:      domain.TokenMeta{CalendarID: "c1", Role: domain.RoleEditor},
		ScopeKey:  testScope,
		ExpiresAt: now.Add(24 * time.Hour),
		CreatedAt: now,
	}
}

func itemOut(t *testing.T, v interface{}) *dynamodb.GetItemOutput {
	t.Helper()
	item, err := attributevalue.MarshalMap(v)
	require.NoError(t, err)
	return &dynamodb.GetItemOutput{Item: item}
}

func headOut(t *testing.T, active string, version int64) *dynamodb.GetItemOutput {
	return itemOut(t, scopeHead{
		TokenHash: scopeHeadPrefix + testScope,
		Active:    active,
		Version:   version,
		ExpiresAt: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	})
}

func TestTokenRepo_Create_FirstTokenInScope(t *testing.T) {
	db := &mockDynamo{}
	repo := NewTokenRepo(db, "tokens")
	var sent []*dynamodb.TransactWriteItemsInput

	db.On("GetItem", mock.Anything, getKey("tokens", fieldTokenHash, scopeHeadPrefix+testScope)).
		Return(&dynamodb.GetItemOutput{}, nil).Once()
	db.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(captureTx(&sent)).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

	require.NoError(t, repo.Create(ctx, newTestToken("h2")))

	require.Len(t, sent, 1)
	items := sent[0].TransactItems
	require.Len(t, items, 2)
	assert.NotContains(t, items[0].Put.Item, fieldSupersedes)
	assert.Equal(t, "attribute_not_exists(token_hash)", aws.ToString(items[1].Put.ConditionExpression))
	assert.Equal(t, strVal("h2"), items[1].Put.Item[fieldActive])
	db.AssertExpectations(t)
}

func TestTokenRepo_Create_SupersedesUnusedActiveToken(t *testing.T) {
	db := &mockDynamo{}
	repo := NewTokenRepo(db, "tokens")
	var sent []*dynamodb.TransactWriteItemsInput

	db.On("GetItem", mock.Anything, getKey("tokens", fieldTokenHash, scopeHeadPrefix+testScope)).
		Return(headOut(t, "h1", 4), nil).Once()
	db.On("GetItem", mock.Anything, getKey("tokens", fieldTokenHash, "h1")).
		Return(itemOut(t, newTestToken("h1")), nil).Once()
	db.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(captureTx(&sent)).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

	require.NoError(t, repo.Create(ctx, newTestToken("h2")))

	require.Len(t, sent, 1)
	items := sent[0].TransactItems
	require.Len(t, items, 3)
	assert.Equal(t, strVal("h1"), items[0].Put.Item[fieldSupersedes])
	assert.Equal(t, "#ver = :v", aws.ToString(items[1].Put.ConditionExpression))
	assert.Equal(t, numVal(4), items[1].Put.ExpressionAttributeValues[":v"])
	assert.Equal(t, numVal(5), items[1].Put.Item[fieldVersion])
	require.NotNil(t, items[2].Update)
	assert.Equal(t, strVal("h1"), items[2].Update.Key[fieldTokenHash])
	assert.Equal(t, strVal("h2"), items[2].Update.ExpressionAttributeValues[":h"])
	db.AssertExpectations(t)
}

func TestTokenRepo_Create_RedeemedActiveTokenIsLeftAlone(t *testing.T) {
	db := &mockDynamo{}
	repo := NewTokenRepo(db, "tokens")
	var sent []*dynamodb.TransactWriteItemsInput
	used := newTestToken("h1")
	used.Used = true

	db.On("GetItem", mock.Anything, getKey("tokens", fieldTokenHash, scopeHeadPrefix+testScope)).
		Return(headOut(t, "h1", 2), nil).Once()
	db.On("GetItem", mock.Anything, getKey("tokens", fieldTokenHash, "h1")).
		Return(itemOut(t, used), nil).Once()
	db.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(captureTx(&sent)).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

	require.NoError(t, repo.Create(ctx, newTestToken("h2")))

	require.Len(t, sent, 1)
	require.Len(t, sent[0].TransactItems, 2)
	assert.NotContains(t, sent[0].TransactItems[0].Put.Item, fieldSupersedes)
}

func TestTokenRepo_Create_RetriesWhenHeadMoves(t *testing.T) {
	db := &mockDynamo{}
	repo := NewTokenRepo(db, "tokens")
	var sent []*dynamodb.TransactWriteItemsInput

	db.On("GetItem", mock.Anything, getKey("tokens", fieldTokenHash, scopeHeadPrefix+testScope)).
		Return(&dynamodb.GetItemOutput{}, nil).Twice()
	db.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(captureTx(&sent)).Return(nil, cancelled("None", "ConditionalCheckFailed")).Once()
	db.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(captureTx(&sent)).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

	require.NoError(t, repo.Create(ctx, newTestToken("h2")))
	assert.Len(t, sent, 2)
	db.AssertExpectations(t)
}

func TestTokenRepo_Create_GivesUpAfterRepeatedRaces(t *testing.T) {
	db := &mockDynamo{}
	repo := NewTokenRepo(db, "tokens")

	db.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)
	db.On("TransactWriteItems", mock.Anything, mock.Anything).
		Return(nil, cancelled("None", "ConditionalCheckFailed"))

	err := repo.Create(ctx, newTestToken("h2"))
	assert.ErrorIs(t, err, errScopeHeadChanged)
	db.AssertNumberOfCalls(t, "TransactWriteItems", createAttempts)
}

func TestTokenRepo_Create_DuplicateHashIsConflict(t *testing.T) {
	db := &mockDynamo{}
	repo := NewTokenRepo(db, "tokens")

	db.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil).Once()
	db.On("TransactWriteItems", mock.Anything, mock.Anything).
		Return(nil, cancelled("ConditionalCheckFailed", "None")).Once()

	err := repo.Create(ctx, newTestToken("h2"))
	assert.ErrorIs(t, err, domain.ErrConflict)
	db.AssertExpectations(t)
}

func TestTokenRepo_Withdraw_RevivesSupersededToken(t *testing.T) {
	db := &mockDynamo{}
	repo := NewTokenRepo(db, "tokens")
	var sent []*dynamodb.TransactWriteItemsInput
	tok := newTestToken("h2")
	tok.Supersedes = "h1"

	db.On("GetItem", mock.Anything, getKey("tokens", fieldTokenHash, "h2")).Return(itemOut(t, tok), nil).Once()
	db.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(captureTx(&sent)).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

	require.NoError(t, repo.Withdraw(ctx, "h2"))

	require.Len(t, sent, 1)
	items := sent[0].TransactItems
	require.Len(t, items, 3)
	assert.Equal(t, strVal("h2"), items[0].Delete.Key[fieldTokenHash])
	assert.Equal(t, strVal("h1"), items[1].Update.Key[fieldTokenHash])
	assert.Equal(t, strVal(scopeHeadPrefix+testScope), items[2].Update.Key[fieldTokenHash])
	assert.Equal(t, strVal("h1"), items[2].Update.ExpressionAttributeValues[":prev"])
	db.AssertNotCalled(t, "DeleteItem", mock.Anything, mock.Anything)
}

func TestTokenRepo_Withdraw_FallsBackToDeleteWhenEarlierTokenMoved(t *testing.T) {
	db := &mockDynamo{}
	repo := NewTokenRepo(db, "tokens")
	tok := newTestToken("h2")
	tok.Supersedes = "h1"

	db.On("GetItem", mock.Anything, getKey("tokens", fieldTokenHash, "h2")).Return(itemOut(t, tok), nil).Once()
	db.On("TransactWriteItems", mock.Anything, mock.Anything).
		Return(nil, cancelled("None", "ConditionalCheckFailed", "None")).Once()
	db.On("DeleteItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.DeleteItemInput) bool {
		v, ok := in.Key[fieldTokenHash].(*types.AttributeValueMemberS)
		return ok && v.Value == "h2"
	})).Return(&dynamodb.DeleteItemOutput{}, nil).Once()

	require.NoError(t, repo.Withdraw(ctx, "h2"))
	db.AssertExpectations(t)
}

func TestTokenRepo_Withdraw_MissingTokenIsNoop(t *testing.T) {
	db := &mockDynamo{}
	repo := NewTokenRepo(db, "tokens")

	db.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil).Once()

	require.NoError(t, repo.Withdraw(ctx, "gone"))
	db.AssertNotCalled(t, "TransactWriteItems", mock.Anything, mock.Anything)
	db.AssertNotCalled(t, "DeleteItem", mock.Anything, mock.Anything)
}
