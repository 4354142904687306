// Package audit records every access and verification attempt for security
// review. The log is append-only: nothing in normal request flow updates or
// deletes entries.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/models"
)

// Sink accepts audit entries. Injected so tests can capture entries without
// a database.
type Sink interface {
	Record(ctx context.Context, e models.AuditEntry)
}

// Repository persists audit entries to postgres.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates an audit repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// Record appends one entry. Failures are logged, never propagated: an audit
// write problem must not turn a legitimate denial into a 500.
func (r *Repository) Record(ctx context.Context, e models.AuditEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO audit_log (ref, source, event, outcome, reason, token_fingerprint, email_domain_fp, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.pool.Exec(ctx, q, e.Ref, e.Source, e.Event, e.Outcome, e.Reason, e.TokenFingerprint, e.EmailDomainFP, e.CreatedAt); err != nil {
		r.logger.Error("audit write failed",
			zap.Error(err),
			zap.String("ref", e.Ref),
			zap.String("event", e.Event),
			zap.String("outcome", e.Outcome),
		)
	}
}

// ListByRef returns entries for a submission, newest first. Staff review only.
func (r *Repository) ListByRef(ctx context.Context, refVal string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `SELECT id, ref, source, event, outcome, reason, token_fingerprint, email_domain_fp, created_at
		FROM audit_log WHERE ref = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, refVal, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.Ref, &e.Source, &e.Event, &e.Outcome, &e.Reason, &e.TokenFingerprint, &e.EmailDomainFP, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// DomainFingerprint derives a non-reversible fingerprint of an email's
// domain for abuse analysis. The local part never enters the hash.
func DomainFingerprint(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	domain := strings.ToLower(email[at+1:])
	sum := sha256.Sum256([]byte(domain))
	return hex.EncodeToString(sum[:8])
}
