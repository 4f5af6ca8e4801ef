package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/rentkeeper/internal/common"
)

// Role is a platform role carried in access credentials.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleTenant     Role = "tenant"
	RoleTechnician Role = "technician"
)

// ParseRole accepts one of the known role names, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleOwner, RoleTenant, RoleTechnician:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", common.ErrorValidation, s)
	}
}

// JoinRoles encodes roles for the accounts.roles column.
func JoinRoles(roles []Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

// SplitRoles is the inverse of JoinRoles. Empty segments are skipped.
func SplitRoles(s string) []Role {
	var roles []Role
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			roles = append(roles, Role(p))
		}
	}
	return roles
}

type Account struct {
	ID             string
	Email          string
	PasswordDigest string
	FirstName      string
	LastName       string
	Roles          []Role
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RoleNames returns the roles as plain strings, in stored order.
func (a *Account) RoleNames() []string {
	names := make([]string, len(a.Roles))
	for i, r := range a.Roles {
		names[i] = string(r)
	}
	return names
}
