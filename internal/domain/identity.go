// Package domain defines the core types shared by the gateway: verified
// identities, chat and presence payloads pushed to clients, inbound alerts,
// and the GORM models backing the presence ledger and alert idempotency.
package domain

import (
	"errors"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Role is the platform role carried by a verified identity.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ErrUnknownRole is returned by ParseRole for values other than USER/ADMIN.
var ErrUnknownRole = errors.New("unknown role")

var upper = cases.Upper(language.Und)

// ParseRole normalizes a role string as sent by the auth service
// ("admin", "Admin", " ADMIN ") into a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(upper.String(strings.TrimSpace(s))); r {
	case RoleUser, RoleAdmin:
		return r, nil
	default:
		return "", ErrUnknownRole
	}
}

// Identity is the verified principal bound to a connection. It is produced
// once per connection by the authenticator and never mutated afterwards.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// IsAdmin reports whether the identity carries the ADMIN role.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }
