package dynamo

// DynamoDB attribute names used in keys, conditions and update expressions.
const (
	fieldUserID     = "user_id"
	fieldEmail      = "email"
	fieldCalendarID = "calendar_id"
	fieldEventID    = "event_id"
	fieldTokenHash  = "token_hash"
	fieldUserType   = "user_type"
	fieldCreatedAt  = "created_at"
	fieldUpdatedAt  = "updated_at"
	fieldExpiresAt  = "expires_at"
	fieldStatus     = "status"
	fieldRole       = "role"
	fieldUsed       = "used"
	fieldOwnerCount = "owner_count"
	fieldVersion    = "version"
	fieldActive     = "active"

	fieldSupersedes   = "supersedes"
	fieldSupersededBy = "superseded_by"
)

// GSI names created by Bootstrap.
const (
	indexEmail           = "email-index"
	indexUserID          = "user_id-index"
	indexCalendarID      = "calendar_id-index"
	indexUserTypeCreated = "user_type-created_at-index"
)
