package models

import (
	"time"

	"github.com/google/uuid"
)

// Staff roles.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// StaffUser is an authenticated back-office user. Staff sessions bypass
// capability tokens on delivery and gate override/replace/delete.
type StaffUser struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// StaffPublic is the caller-facing view of a staff user.
type StaffPublic struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Role     string    `json:"role"`
}

// ToPublic strips credential fields.
func (u *StaffUser) ToPublic() StaffPublic {
	return StaffPublic{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role}
}
