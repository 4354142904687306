// Package verify confirms a caller controls partial knowledge of a
// submission (a fragment of the registered email) before issuing a
// viewing capability. The email-suffix check is deliberately weak
// "something you know" layered on top of the submission reference being
// hard to guess; it is documented as a trade-off, not strong
// authentication. Abuse is contained by a per-address failure ledger.
package verify

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/audit"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/models"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/submissions"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/token"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/response"
)

const (
	// FragmentLen is how many trailing characters of the email local part
	// the caller must supply.
	FragmentLen = 4
	// DefaultThreshold is the failure count that triggers a block.
	DefaultThreshold = 5
	// DefaultCooldown is how long a blocked address stays blocked.
	DefaultCooldown = 15 * time.Minute
)

// Grant is a successful verification: a short-lived access capability and
// a ready-to-use delivery URL.
type Grant struct {
	AccessToken      string    `json:"access_token"`
	IssuedAt         time.Time `json:"issued_at"`
	ExpiresInSeconds int       `json:"expires_in_seconds"`
	DeliveryURL      string    `json:"delivery_url"`
}

// Denial is a structured refusal with a machine-readable code.
type Denial struct {
	Code       string
	RetryAfter time.Duration
}

// Verifier checks email fragments and rate-limits per source address.
type Verifier struct {
	dir       submissions.Directory
	ledger    Ledger
	tokens    *token.Service
	sink      audit.Sink
	baseURL   string
	threshold int
	cooldown  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewVerifier creates a verifier. The ledger is owned by the caller so
// tests get a fresh one per test and deployments can swap in Redis.
func NewVerifier(dir submissions.Directory, ledger Ledger, tokens *token.Service, sink audit.Sink, baseURL string, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		dir:       dir,
		ledger:    ledger,
		tokens:    tokens,
		sink:      sink,
		baseURL:   strings.TrimRight(baseURL, "/"),
		threshold: DefaultThreshold,
		cooldown:  DefaultCooldown,
		logger:    logger,
		now:       time.Now,
	}
}

// SetLimits overrides the failure threshold and cooldown.
func (v *Verifier) SetLimits(threshold int, cooldown time.Duration) {
	v.threshold = threshold
	v.cooldown = cooldown
}

// SetClock injects a clock for tests.
func (v *Verifier) SetClock(now func() time.Time) { v.now = now }

// Verify checks the caller's email fragment for a submission. Exactly one
// of grant/denial is non-nil unless err is set. The block check runs before
// any lookup so a throttled address cannot probe for valid references.
func (v *Verifier) Verify(ctx context.Context, refVal, fragment, sourceAddr string) (*Grant, *Denial, error) {
	now := v.now()

	state, err := v.ledger.Get(ctx, sourceAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("consult ledger: %w", err)
	}
	if state.BlockedUntil.After(now) {
		remaining := state.BlockedUntil.Sub(now)
		v.record(ctx, refVal, sourceAddr, models.AuditOutcomeDenied, response.CodeRateLimited, "", "")
		return nil, &Denial{Code: response.CodeRateLimited, RetryAfter: remaining}, nil
	}

	email, err := v.dir.EmailFor(ctx, refVal)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup submission email: %w", err)
	}
	if email == "" {
		v.fail(ctx, refVal, sourceAddr, response.CodeNotFound, "", now)
		return nil, &Denial{Code: response.CodeNotFound}, nil
	}

	domainFP := audit.DomainFingerprint(email)
	if !fragmentMatches(email, fragment) {
		v.fail(ctx, refVal, sourceAddr, response.CodeMismatch, domainFP, now)
		return nil, &Denial{Code: response.CodeMismatch}, nil
	}

	if err := v.ledger.Clear(ctx, sourceAddr); err != nil {
		v.logger.Warn("ledger clear failed", zap.Error(err), zap.String("source", sourceAddr))
	}

	issued := v.tokens.Issue(refVal, token.PurposeAccess, now)
	v.record(ctx, refVal, sourceAddr, models.AuditOutcomeSuccess, "", token.Fingerprint(issued.Token), domainFP)
	return &Grant{
		AccessToken:      issued.Token,
		IssuedAt:         issued.IssuedAt,
		ExpiresInSeconds: int(token.AccessTTL.Seconds()),
		DeliveryURL: fmt.Sprintf("%s/proofs/%s/video?token=%s&ts=%d",
			v.baseURL, refVal, issued.Token, issued.IssuedAt.UnixMilli()),
	}, nil, nil
}

func (v *Verifier) fail(ctx context.Context, refVal, sourceAddr, reason, domainFP string, now time.Time) {
	if _, err := v.ledger.RecordFailure(ctx, sourceAddr, v.threshold, v.cooldown, now); err != nil {
		v.logger.Warn("ledger record failure failed", zap.Error(err), zap.String("source", sourceAddr))
	}
	v.record(ctx, refVal, sourceAddr, models.AuditOutcomeDenied, reason, "", domainFP)
}

func (v *Verifier) record(ctx context.Context, refVal, sourceAddr, outcome, reason, tokenFP, domainFP string) {
	v.sink.Record(ctx, models.AuditEntry{
		Ref:              refVal,
		Source:           sourceAddr,
		Event:            models.AuditEventAccessGrant,
		Outcome:          outcome,
		Reason:           reason,
		TokenFingerprint: tokenFP,
		EmailDomainFP:    domainFP,
	})
}

// fragmentMatches compares the supplied fragment with the trailing
// FragmentLen characters of the email's local part, case-insensitively and
// without early exit on length.
func fragmentMatches(email, fragment string) bool {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return false
	}
	local := email[:at]
	suffix := local
	if len(local) > FragmentLen {
		suffix = local[len(local)-FragmentLen:]
	}
	a := strings.ToLower(suffix)
	b := strings.ToLower(fragment)
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
