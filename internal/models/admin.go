package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleReseller   Role = "RESELLER"
)

// IsAdmin reports whether the role carries full administrative rights
func (r Role) IsAdmin() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}

// Admin is an operator account (administrator or reseller)
type Admin struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"` // Never serialize in JSON
	Name         *string   `json:"name" db:"name"`
	Role         Role      `json:"role" db:"role"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`

	ActivityCount int `json:"activityCount" db:"-"`
}

// Identity returns the caller identity for this account
func (a *Admin) Identity() CallerIdentity {
	return CallerIdentity{ID: a.ID, Email: a.Email, Role: a.Role}
}

// CallerIdentity is the authenticated operator behind a request
type CallerIdentity struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Role  Role      `json:"role"`
}

// IsReseller reports whether the caller acts with reseller restrictions
func (c CallerIdentity) IsReseller() bool {
	return c.Role == RoleReseller
}

// IsAdmin reports whether the caller has administrator rights
func (c CallerIdentity) IsAdmin() bool {
	return c.Role.IsAdmin()
}
