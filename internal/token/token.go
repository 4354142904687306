// Package token implements purpose-scoped capability tokens for proof
// recording, upload and viewing. Tokens are never stored: a token is a
// deterministic MAC over (subject, issuedAt, purpose) and verification
// recomputes the expected value, so a token minted for one subject or
// purpose can never validate for another.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Purpose scopes a token to one operation class.
type Purpose string

const (
	PurposeUpload    Purpose = "upload"
	PurposeAccess    Purpose = "access"
	PurposeRecording Purpose = "recording"
)

// Result of a verification.
type Result int

const (
	Invalid Result = iota
	Expired
	Valid
)

func (r Result) String() string {
	switch r {
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	default:
		return "invalid"
	}
}

// TokenLen is the emitted token length in hex characters (16 bytes of MAC).
const TokenLen = 32

const (
	// UploadTTL covers upload and recording tokens; the QR hand-off has to
	// survive until the customer gets around to filming.
	UploadTTL = 24 * time.Hour
	// AccessTTL is deliberately short: viewing links are the ones that get
	// pasted into chats.
	AccessTTL = time.Hour
)

// Issued is the result of minting a token.
type Issued struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Service mints and verifies capability tokens with a process-wide secret.
type Service struct {
	secret []byte
}

// NewService creates a token service. The secret must already be validated
// by config loading (non-empty, production posture enforced there).
func NewService(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

// TTL returns the lifetime for a purpose.
func TTL(p Purpose) time.Duration {
	if p == PurposeAccess {
		return AccessTTL
	}
	return UploadTTL
}

// Issue mints a token for subject and purpose at the given time.
func (s *Service) Issue(subject string, purpose Purpose, now time.Time) Issued {
	issuedAt := now.UTC()
	return Issued{
		Token:     s.compute(subject, issuedAt.UnixMilli(), purpose),
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(TTL(purpose)),
	}
}

// Verify checks a caller-supplied token against the recomputed expectation.
// Comparison is constant-time; expiry is checked only after the MAC matches
// so the two failure modes are indistinguishable to a caller timing the
// endpoint.
func (s *Service) Verify(subject, candidate string, issuedAtMillis int64, purpose Purpose, now time.Time) Result {
	expected := s.compute(subject, issuedAtMillis, purpose)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(candidate)) != 1 {
		return Invalid
	}
	issuedAt := time.UnixMilli(issuedAtMillis)
	if now.After(issuedAt.Add(TTL(purpose))) {
		return Expired
	}
	return Valid
}

// Fingerprint returns a short non-reversible identifier for a token,
// suitable for audit logs (never the token itself).
func Fingerprint(tok string) string {
	if tok == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:4])
}

func (s *Service) compute(subject string, issuedAtMillis int64, purpose Purpose) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%s|%s", subject, strconv.FormatInt(issuedAtMillis, 10), purpose)
	return hex.EncodeToString(mac.Sum(nil))[:TokenLen]
}
