// Package submissions is the narrow seam to the intake workflow. The full
// intake CRUD lives in another service; this service only needs to register
// a submission, check it exists and read its registered email.
package submissions

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/models"
)

// Directory is what the verifier and binding generator need from intake.
type Directory interface {
	Exists(ctx context.Context, ref string) (bool, error)
	EmailFor(ctx context.Context, ref string) (string, error)
}

// Repository handles submission persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a submissions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Register inserts a submission and its initial pending proof row.
func (r *Repository) Register(ctx context.Context, sub *models.Submission) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const insertSub = `INSERT INTO submissions (ref, email, customer_name)
		VALUES ($1, $2, $3) RETURNING created_at`
	if err := tx.QueryRow(ctx, insertSub, sub.Ref, sub.Email, sub.CustomerName).Scan(&sub.CreatedAt); err != nil {
		return err
	}
	const insertProof = `INSERT INTO proofs (ref) VALUES ($1)`
	if _, err := tx.Exec(ctx, insertProof, sub.Ref); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetByRef returns a submission or nil if absent.
func (r *Repository) GetByRef(ctx context.Context, refVal string) (*models.Submission, error) {
	const q = `SELECT ref, email, COALESCE(customer_name,''), created_at FROM submissions WHERE ref = $1`
	var sub models.Submission
	err := r.pool.QueryRow(ctx, q, refVal).Scan(&sub.Ref, &sub.Email, &sub.CustomerName, &sub.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// Exists reports whether a submission is registered.
func (r *Repository) Exists(ctx context.Context, refVal string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM submissions WHERE ref = $1)`
	var ok bool
	err := r.pool.QueryRow(ctx, q, refVal).Scan(&ok)
	return ok, err
}

// EmailFor returns the registered email for a submission, or "" if absent.
func (r *Repository) EmailFor(ctx context.Context, refVal string) (string, error) {
	const q = `SELECT email FROM submissions WHERE ref = $1`
	var email string
	err := r.pool.QueryRow(ctx, q, refVal).Scan(&email)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return email, nil
}
