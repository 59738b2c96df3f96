package dynamo

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/go-calendar-nosql/internal/domain"
)

func newMemberRepo(db *mockDynamo) *CalendarMemberRepo {
	return NewCalendarMemberRepo(db, "members", "calendars")
}

func acceptedMember(role domain.Role) *domain.CalendarMember {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.CalendarMember{
		CalendarID: "c1",
		UserID:     "u1",
		Role:       role,
		Status:     domain.StatusAccepted,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

func TestCalendarMemberRepo_Remove_LastOwner(t *testing.T) {
	db := &mockDynamo{}
	var sent []*dynamodb.TransactWriteItemsInput

	db.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(captureTx(&sent)).Return(nil, cancelled("None", "ConditionalCheckFailed")).Once()
	db.On("GetItem", mock.Anything, getKey("calendars", fieldCalendarID, "c1")).
		Return(&dynamodb.GetItemOutput{Item: strKey(fieldCalendarID, "c1")}, nil).Once()

	err := newMemberRepo(db).Remove(ctx, acceptedMember(domain.RoleOwner))

	assert.ErrorIs(t, err, domain.ErrLastOwner)
	require.Len(t, sent, 1)
	require.Len(t, sent[0].TransactItems, 2)
	dec := sent[0].TransactItems[1].Update
	assert.Equal(t, "calendars", aws.ToString(dec.TableName))
	assert.Equal(t, numVal(-1), dec.ExpressionAttributeValues[":d"])
	db.AssertExpectations(t)
}

func TestCalendarMemberRepo_Remove_CalendarGoneIsNotFound(t *testing.T) {
	db := &mockDynamo{}

	db.On("TransactWriteItems", mock.Anything, mock.Anything).
		Return(nil, cancelled("None", "ConditionalCheckFailed")).Once()
	db.On("GetItem", mock.Anything, getKey("calendars", fieldCalendarID, "c1")).
		Return(&dynamodb.GetItemOutput{}, nil).Once()

	err := newMemberRepo(db).Remove(ctx, acceptedMember(domain.RoleOwner))

	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrLastOwner)
	db.AssertExpectations(t)
}

func TestCalendarMemberRepo_Remove_RowChangedIsConflict(t *testing.T) {
	db := &mockDynamo{}

	db.On("TransactWriteItems", mock.Anything, mock.Anything).
		Return(nil, cancelled("ConditionalCheckFailed", "None")).Once()

	err := newMemberRepo(db).Remove(ctx, acceptedMember(domain.RoleOwner))

	assert.ErrorIs(t, err, domain.ErrConflict)
	db.AssertNotCalled(t, "GetItem", mock.Anything, mock.Anything)
}

func TestCalendarMemberRepo_Remove_NonOwnerSkipsCounter(t *testing.T) {
	db := &mockDynamo{}
	var sent []*dynamodb.TransactWriteItemsInput

	db.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(captureTx(&sent)).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

	require.NoError(t, newMemberRepo(db).Remove(ctx, acceptedMember(domain.RoleViewer)))
	require.Len(t, sent, 1)
	assert.Len(t, sent[0].TransactItems, 1)
}

func TestCalendarMemberRepo_ChangeRole_PromoteOnMissingCalendar(t *testing.T) {
	db := &mockDynamo{}
	var sent []*dynamodb.TransactWriteItemsInput

	db.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(captureTx(&sent)).Return(nil, cancelled("None", "ConditionalCheckFailed")).Once()

	err := newMemberRepo(db).ChangeRole(ctx, acceptedMember(domain.RoleViewer), domain.RoleOwner, time.Now())

	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.Len(t, sent, 1)
	require.Len(t, sent[0].TransactItems, 2)
	assert.Equal(t, numVal(1), sent[0].TransactItems[1].Update.ExpressionAttributeValues[":d"])
	db.AssertNotCalled(t, "GetItem", mock.Anything, mock.Anything)
}

func TestCalendarMemberRepo_ChangeRole_DemoteLastOwner(t *testing.T) {
	db := &mockDynamo{}

	db.On("TransactWriteItems", mock.Anything, mock.Anything).
		Return(nil, cancelled("None", "ConditionalCheckFailed")).Once()
	db.On("GetItem", mock.Anything, getKey("calendars", fieldCalendarID, "c1")).
		Return(&dynamodb.GetItemOutput{Item: strKey(fieldCalendarID, "c1")}, nil).Once()

	err := newMemberRepo(db).ChangeRole(ctx, acceptedMember(domain.RoleOwner), domain.RoleEditor, time.Now())

	assert.ErrorIs(t, err, domain.ErrLastOwner)
	db.AssertExpectations(t)
}

func TestCalendarMemberRepo_Restore(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cur := &domain.CalendarMember{CalendarID: "c1", UserID: "u1", Role: domain.RoleEditor, Status: domain.StatusPending, UpdatedAt: at}
	prev := &domain.CalendarMember{CalendarID: "c1", UserID: "u1", Role: domain.RoleViewer, Status: domain.StatusDeclined, UpdatedAt: at.Add(-time.Hour)}

	t.Run("puts the earlier row back", func(t *testing.T) {
		db := &mockDynamo{}
		var put *dynamodb.PutItemInput
		db.On("PutItem", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { put = args.Get(1).(*dynamodb.PutItemInput) }).
			Return(&dynamodb.PutItemOutput{}, nil).Once()

		require.NoError(t, newMemberRepo(db).Restore(ctx, cur, prev))

		require.NotNil(t, put)
		assert.Equal(t, strVal(string(domain.StatusDeclined)), put.Item[fieldStatus])
		assert.Equal(t, strVal(string(domain.RoleEditor)), put.ExpressionAttributeValues[":role"])
		assert.Equal(t, timeVal(at), put.ExpressionAttributeValues[":at"])
	})

	t.Run("row changed since the invitation", func(t *testing.T) {
		db := &mockDynamo{}
		db.On("PutItem", mock.Anything, mock.Anything).
			Return(nil, &types.ConditionalCheckFailedException{}).Once()

		err := newMemberRepo(db).Restore(ctx, cur, prev)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})
}
