package models

import (
	"errors"
	"time"
)

// Role is the account category. It selects the profile variant and the
// landing page.
type Role string

const (
	RoleConsumer Role = "consumer"
	RoleMarket   Role = "market"
)

var ErrUnknownRole = errors.New("unknown role")

// ParseRole accepts exactly the two known role names.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleConsumer, RoleMarket:
		return Role(s), nil
	}
	return "", ErrUnknownRole
}

// LandingPath is where a freshly authenticated user of this role is sent.
func (r Role) LandingPath() string {
	if r == RoleMarket {
		return "/market/products"
	}
	return "/"
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	IsVerified   bool
	CreatedAt    time.Time
}
