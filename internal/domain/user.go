package domain

import (
	"strings"
	"time"
)

// User is an account. Email is stored normalized (trimmed, lower-case).
// PK: user_id. GSI email-index: email.
type User struct {
	UserID          string     `json:"id" dynamodbav:"user_id"`
	Email           string     `json:"email" dynamodbav:"email"`
	Name            string     `json:"name" dynamodbav:"name"`
	Avatar          *string    `json:"avatar" dynamodbav:"avatar"`
	PasswordHash    string     `json:"-" dynamodbav:"password_hash"`
	EmailVerified   bool       `json:"email_verified" dynamodbav:"email_verified"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty" dynamodbav:"email_verified_at"`
	CreatedAt       time.Time  `json:"created" dynamodbav:"created_at"`
	UpdatedAt       time.Time  `json:"updated" dynamodbav:"updated_at"`
}

// PublicUser is the part of a user other members are allowed to see.
type PublicUser struct {
	UserID string  `json:"id"`
	Email  string  `json:"email"`
	Name   string  `json:"name"`
	Avatar *string `json:"avatar"`
}

func (u *User) Public() *PublicUser {
	return &PublicUser{UserID: u.UserID, Email: u.Email, Name: u.Name, Avatar: u.Avatar}
}

// NormalizeEmail is applied before every lookup and write by email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"max=200"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UserPatch carries the profile fields a user may change about themselves.
type UserPatch struct {
	Name   *string `json:"name" validate:"omitempty,min=1,max=200"`
	Avatar *string `json:"avatar" validate:"omitempty,url"`
}

func (p UserPatch) Empty() bool {
	return p.Name == nil && p.Avatar == nil
}
