package models

import (
	"time"
)

// Submission is the intake record a proof video belongs to. The reference is
// externally visible and immutable; the registered email backs the identity
// verification challenge and is never returned to callers.
type Submission struct {
	Ref          string    `json:"ref"`
	Email        string    `json:"-"`
	CustomerName string    `json:"customer_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
