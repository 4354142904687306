package models

import (
	"time"
)

// Proof lifecycle states. A proof moves pending → recording_issued →
// uploaded, and terminally to error or archived. Override is a side-channel
// flag, not a state: an overridden record keeps whatever state it had.
const (
	ProofStatePending         = "pending"
	ProofStateRecordingIssued = "recording_issued"
	ProofStateUploaded        = "uploaded"
	ProofStateError           = "error"
	ProofStateArchived        = "archived"
)

// Proof is the video proof artifact and lifecycle metadata for one submission.
type Proof struct {
	Ref             string     `json:"ref"`
	State           string     `json:"state"`
	StoragePath     string     `json:"-"` // never exposed to callers
	ByteSize        int64      `json:"byte_size,omitempty"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	RecordedAt      *time.Time `json:"recorded_at,omitempty"`
	ContentType     string     `json:"content_type,omitempty"` // sniffed MIME, e.g. video/webm
	ErrorDetail     string     `json:"-"`                      // operator visibility only
	OverrideActor   *string    `json:"override_actor,omitempty"`
	OverrideReason  *string    `json:"override_reason,omitempty"`
	OverrideAt      *time.Time `json:"override_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// OverridePresent reports whether staff bypassed the proof requirement.
func (p *Proof) OverridePresent() bool {
	return p.OverrideAt != nil
}

// Cleared reports whether the submission may proceed to shipment, and which
// condition applied ("uploaded" or "override"). Both may hold; upload wins
// for reporting since it is the stronger condition.
func (p *Proof) Cleared() (bool, string) {
	if p.State == ProofStateUploaded {
		return true, "uploaded"
	}
	if p.OverridePresent() {
		return true, "override"
	}
	return false, ""
}

// ValidProofTransition reports whether a state change is allowed. Archival
// only applies to uploaded artifacts; error can be reached from any
// non-terminal state; re-issuing a binding from error is allowed so a
// failed upload can be retried.
func ValidProofTransition(from, to string) bool {
	switch to {
	case ProofStateRecordingIssued:
		return from == ProofStatePending || from == ProofStateRecordingIssued || from == ProofStateError
	case ProofStateUploaded:
		return from == ProofStateRecordingIssued || from == ProofStatePending || from == ProofStateError || from == ProofStateUploaded
	case ProofStateError:
		return from != ProofStateArchived
	case ProofStateArchived:
		return from == ProofStateUploaded
	default:
		return false
	}
}
