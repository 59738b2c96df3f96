package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signup struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role,omitempty" validate:"omitempty,oneof=owner editor viewer"`
}

func TestStruct_Valid(t *testing.T) {
	assert.NoError(t, Struct(signup{Email: "a@b.co", Password: "longenough"}))
}

func TestStruct_ReportsJSONFieldNames(t *testing.T) {
	err := Struct(signup{Email: "nope", Password: "short", Role: "admin"})
	require.Error(t, err)

	assert.Equal(t,
		"email: must be a valid email; password: at least 8; role: must be one of owner editor viewer",
		err.Error())
}

func TestStruct_Required(t *testing.T) {
	err := Struct(signup{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email: is required")
	assert.Contains(t, err.Error(), "password: is required")
}
