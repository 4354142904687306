package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit event kinds.
const (
	AuditEventAccessGrant = "access_grant"
	AuditEventDelivery    = "delivery"
	AuditEventUpload      = "upload"
	AuditEventOverride    = "override"
	AuditEventBinding     = "binding"
)

// Audit outcomes.
const (
	AuditOutcomeSuccess = "success"
	AuditOutcomeDenied  = "denied"
)

// AuditEntry is one append-only record of an access or verification
// attempt. Entries are never mutated or deleted by normal flows; they exist
// for security review. EmailDomainFP is a non-reversible fingerprint of the
// registered email's domain; the full address is never logged.
type AuditEntry struct {
	ID               uuid.UUID `json:"id"`
	Ref              string    `json:"ref"`
	Source           string    `json:"source"`
	Event            string    `json:"event"`
	Outcome          string    `json:"outcome"`
	Reason           string    `json:"reason,omitempty"`
	TokenFingerprint string    `json:"token_fingerprint,omitempty"`
	EmailDomainFP    string    `json:"email_domain_fp,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
