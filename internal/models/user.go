package models

import "github.com/google/uuid"

// User is a directory entry for a person who can request or approve workflows
type User struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Roles    []Role    `json:"roles"`
	IsActive bool      `json:"isActive"`
}

// HasRole reports whether the user holds r
func (u *User) HasRole(r Role) bool {
	for _, role := range u.Roles {
		if role == r {
			return true
		}
	}
	return false
}
