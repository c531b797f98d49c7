package users

import (
	"time"

	"github.com/google/uuid"
)

// Role describes what a console account is allowed to do.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleResponder Role = "responder"
	RoleAuditor   Role = "auditor"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleResponder, RoleAuditor:
		return true
	}
	return false
}

// ErrValidation is returned when the caller supplies invalid account
// details. Handlers translate it to a 400 response.
type ErrValidation struct{ Msg string }

func (e *ErrValidation) Error() string { return e.Msg }

// User represents a console account holder within a tenant.
type User struct {
	ID           uuid.UUID `json:"id"         db:"id"`
	TenantID     uuid.UUID `json:"tenant_id"  db:"tenant_id"`
	Email        string    `json:"email"      db:"email"`
	Name         string    `json:"name"       db:"name"`
	PasswordHash string    `json:"-"          db:"password_hash"`
	Role         Role      `json:"role"       db:"role"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
