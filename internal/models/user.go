package models

import (
	"time"
)

// User is the profile document kept for every provider account.
// ID is issued by the identity provider and never changes; Email is fixed at signup.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Age         *int       `json:"age"`
	Gender      *string    `json:"gender"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// UserPatch holds the mutable profile fields. Nil fields are left untouched.
type UserPatch struct {
	DisplayName *string `json:"display_name,omitempty"`
	Age         *int    `json:"age,omitempty"`
	Gender      *string `json:"gender,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p UserPatch) IsEmpty() bool {
	return p.DisplayName == nil && p.Age == nil && p.Gender == nil
}
