package models

import (
	"strings"

	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID          string `bun:"id,pk" json:"id"`
	FirstName   string `bun:"first_name" json:"firstName"`
	LastName    string `bun:"last_name" json:"lastName"`
	Email       string `bun:"email" json:"email"`
	PhoneNumber string `bun:"phone_number" json:"phoneNumber"`
}

type UserProfile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

func (u User) Profile() UserProfile {
	return UserProfile{
		ID:    u.ID,
		Name:  strings.TrimSpace(u.FirstName + " " + u.LastName),
		Email: u.Email,
		Phone: u.PhoneNumber,
	}
}
