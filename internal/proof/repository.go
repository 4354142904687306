package proof

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/models"
)

// Store is the persistence seam for proof lifecycle records. The pgx
// Repository implements it in production; tests use an in-memory fake.
type Store interface {
	Get(ctx context.Context, ref string) (*models.Proof, error)
	MarkRecordingIssued(ctx context.Context, ref string) error
	SetUploaded(ctx context.Context, ref, storagePath string, byteSize int64, durationSeconds int, recordedAt *time.Time, contentType string) error
	SetError(ctx context.Context, ref, detail string) error
	SetArchived(ctx context.Context, ref string) error
	SetOverride(ctx context.Context, ref, actor, reason string, at time.Time) error
	ClearArtifact(ctx context.Context, ref string) error
}

// Repository handles proof persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a proof repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const proofColumns = `ref, state, COALESCE(storage_path,''), byte_size, duration_seconds, recorded_at,
	COALESCE(content_type,''), COALESCE(error_detail,''), override_actor, override_reason, override_at,
	created_at, updated_at`

func scanProof(row pgx.Row) (*models.Proof, error) {
	var p models.Proof
	err := row.Scan(&p.Ref, &p.State, &p.StoragePath, &p.ByteSize, &p.DurationSeconds, &p.RecordedAt,
		&p.ContentType, &p.ErrorDetail, &p.OverrideActor, &p.OverrideReason, &p.OverrideAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// Get returns the proof record for a submission, or nil if none exists.
func (r *Repository) Get(ctx context.Context, refVal string) (*models.Proof, error) {
	return scanProof(r.pool.QueryRow(ctx, `SELECT `+proofColumns+` FROM proofs WHERE ref = $1`, refVal))
}

// MarkRecordingIssued transitions to recording_issued after a binding is
// generated. An already-uploaded record is left alone: regenerating a QR
// must not demote a finished proof.
func (r *Repository) MarkRecordingIssued(ctx context.Context, refVal string) error {
	const q = `UPDATE proofs SET state = $1, updated_at = NOW()
		WHERE ref = $2 AND state IN ($3, $4, $5)`
	_, err := r.pool.Exec(ctx, q, models.ProofStateRecordingIssued, refVal,
		models.ProofStatePending, models.ProofStateRecordingIssued, models.ProofStateError)
	return err
}

// SetUploaded records a validated upload.
func (r *Repository) SetUploaded(ctx context.Context, refVal, storagePath string, byteSize int64, durationSeconds int, recordedAt *time.Time, contentType string) error {
	const q = `UPDATE proofs SET state = $1, storage_path = $2, byte_size = $3, duration_seconds = $4,
		recorded_at = $5, content_type = $6, error_detail = '', updated_at = NOW() WHERE ref = $7`
	_, err := r.pool.Exec(ctx, q, models.ProofStateUploaded, storagePath, byteSize, durationSeconds, recordedAt, contentType, refVal)
	return err
}

// SetError records a failed upload; artifact fields are cleared and the
// detail kept for operator visibility.
func (r *Repository) SetError(ctx context.Context, refVal, detail string) error {
	const q = `UPDATE proofs SET state = $1, storage_path = '', byte_size = 0, duration_seconds = 0,
		recorded_at = NULL, content_type = '', error_detail = $2, updated_at = NOW() WHERE ref = $3`
	_, err := r.pool.Exec(ctx, q, models.ProofStateError, detail, refVal)
	return err
}

// SetArchived marks an uploaded proof as moved to the archive. The storage
// path is kept: it names the archived object for presigned retrieval.
func (r *Repository) SetArchived(ctx context.Context, refVal string) error {
	const q = `UPDATE proofs SET state = $1, updated_at = NOW()
		WHERE ref = $2 AND state = $3`
	_, err := r.pool.Exec(ctx, q, models.ProofStateArchived, refVal, models.ProofStateUploaded)
	return err
}

// SetOverride records a staff bypass of the proof requirement.
func (r *Repository) SetOverride(ctx context.Context, refVal, actor, reason string, at time.Time) error {
	const q = `UPDATE proofs SET override_actor = $1, override_reason = $2, override_at = $3, updated_at = NOW()
		WHERE ref = $4`
	_, err := r.pool.Exec(ctx, q, actor, reason, at, refVal)
	return err
}

// ClearArtifact resets a proof to pending with all artifact fields cleared.
// The submission itself persists.
func (r *Repository) ClearArtifact(ctx context.Context, refVal string) error {
	const q = `UPDATE proofs SET state = $1, storage_path = '', byte_size = 0, duration_seconds = 0,
		recorded_at = NULL, content_type = '', error_detail = '', updated_at = NOW() WHERE ref = $2`
	_, err := r.pool.Exec(ctx, q, models.ProofStatePending, refVal)
	return err
}

// ListArchivable returns uploaded proofs last touched before the cutoff.
func (r *Repository) ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]models.Proof, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + proofColumns + ` FROM proofs
		WHERE state = $1 AND updated_at < $2 ORDER BY updated_at ASC LIMIT $3`
	rows, err := r.pool.Query(ctx, q, models.ProofStateUploaded, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Proof
	for rows.Next() {
		p, err := scanProof(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}
