package domain

import "time"

// TokenType names the purpose a single-use token was minted for.
type TokenType string

const (
	TokenEmailVerify    TokenType = "email_verify"
	TokenCalendarInvite TokenType = "calendar_invite"
	TokenEventInvite    TokenType = "event_invite"
)

// TokenMeta is the payload attached to a token at mint time.
type TokenMeta struct {
	CalendarID string `json:"calendar_id,omitempty" dynamodbav:"calendar_id,omitempty"`
	EventID    string `json:"event_id,omitempty" dynamodbav:"event_id,omitempty"`
	Role       Role   `json:"role,omitempty" dynamodbav:"role,omitempty"`
}

// ApprovalToken is the persisted half of a single-use token. The raw value is never stored.
// PK: token_hash. ExpiresAt is stored as Unix seconds so DynamoDB TTL can purge it.
//
// Supersedes names the token this one invalidated when it was created, and
// SupersededBy is set on that token. Withdrawing an undelivered token uses the
// pair to put the earlier one back in service.
type ApprovalToken struct {
	TokenHash    string    `json:"-" dynamodbav:"token_hash"`
	UserID       string    `json:"user_id" dynamodbav:"user_id"`
	Type         TokenType `json:"type" dynamodbav:"type"`
	Meta         TokenMeta `json:"meta" dynamodbav:"meta"`
	ScopeKey     string    `json:"-" dynamodbav:"scope_key"`
	Used         bool      `json:"used" dynamodbav:"used"`
	Supersedes   string    `json:"-" dynamodbav:"supersedes,omitempty"`
	SupersededBy string    `json:"-" dynamodbav:"superseded_by,omitempty"`
	ExpiresAt    time.Time `json:"expires_at" dynamodbav:"expires_at,unixtime"`
	CreatedAt    time.Time `json:"created" dynamodbav:"created_at,unixtime"`
}

// ScopeID returns the resource a token type is scoped to, or "" for unscoped types.
func (t TokenType) ScopeID(meta TokenMeta) string {
	switch t {
	case TokenCalendarInvite:
		return meta.CalendarID
	case TokenEventInvite:
		return meta.EventID
	default:
		return ""
	}
}

// ScopeKey identifies the set of tokens of which at most one may be live at a time.
func ScopeKey(userID string, t TokenType, meta TokenMeta) string {
	key := userID + "#" + string(t)
	if scope := t.ScopeID(meta); scope != "" {
		key += "#" + scope
	}
	return key
}

// Live reports whether the token can still be redeemed at now.
// A token whose expiry equals now is already expired.
func (a *ApprovalToken) Live(now time.Time) bool {
	return !a.Used && a.ExpiresAt.After(now)
}
