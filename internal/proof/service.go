// Package proof owns the lifecycle of a submission's video proof: the
// validated upload path, staff override/replace/delete, and the state
// machine consumed by shipment gating.
package proof

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/audit"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/models"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/sniff"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/storage"
)

var (
	ErrNotFound = errors.New("proof record not found")
	// ErrConflict: a non-staff caller tried to overwrite an existing proof.
	ErrConflict = errors.New("proof already uploaded")
	// ErrStorage: disk write failed; prior state is unchanged.
	ErrStorage = errors.New("storage failure")
	// ErrReasonTooShort: override justification below the minimum length.
	ErrReasonTooShort = errors.New("override reason too short")
)

// MinOverrideReasonLen guards against rubber-stamp justifications.
const MinOverrideReasonLen = 10

// UploadParams carries the caller-declared metadata for an upload.
type UploadParams struct {
	Filename        string
	DeclaredSize    int64
	DurationSeconds int
	RecordedAt      *time.Time
	Staff           bool
	StaffActor      string
	Source          string
}

// Service implements upload, override and delete against the Store and the
// local file store.
type Service struct {
	store   Store
	files   *storage.Local
	sink    audit.Sink
	maxSize int64
	logger  *zap.Logger
}

// NewService creates a proof service.
func NewService(store Store, files *storage.Local, sink audit.Sink, maxSize int64, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, files: files, sink: sink, maxSize: maxSize, logger: logger}
}

// MaxSize returns the upload byte ceiling.
func (s *Service) MaxSize() int64 { return s.maxSize }

// Upload validates and persists proof bytes. Non-staff callers cannot
// replace an existing uploaded proof; staff replacement removes the
// superseded file together with the state write. A storage or database
// failure rolls the new file back and leaves the prior record untouched.
func (s *Service) Upload(ctx context.Context, refVal string, data io.Reader, p UploadParams) (*models.Proof, error) {
	current, err := s.store.Get(ctx, refVal)
	if err != nil {
		return nil, fmt.Errorf("load proof record: %w", err)
	}
	if current == nil {
		return nil, ErrNotFound
	}
	if current.State == models.ProofStateUploaded && !p.Staff {
		s.auditUpload(ctx, refVal, p.Source, models.AuditOutcomeDenied, "conflict")
		return nil, ErrConflict
	}
	// Archived records are terminal for upload purposes; the archive copy
	// has its own staff lifecycle.
	if !models.ValidProofTransition(current.State, models.ProofStateUploaded) {
		s.auditUpload(ctx, refVal, p.Source, models.AuditOutcomeDenied, "conflict")
		return nil, ErrConflict
	}

	if err := sniff.CheckDeclared(p.Filename, p.DeclaredSize, s.maxSize); err != nil {
		s.auditUpload(ctx, refVal, p.Source, models.AuditOutcomeDenied, err.Error())
		return nil, err
	}

	// Buffer at most ceiling+1 bytes; anything beyond trips the re-check.
	buf, err := io.ReadAll(io.LimitReader(data, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read upload: %v", ErrStorage, err)
	}
	verdict, err := sniff.Detect(buf, s.maxSize)
	if err != nil {
		s.auditUpload(ctx, refVal, p.Source, models.AuditOutcomeDenied, err.Error())
		// Validator rejections are recorded on the proof for operator
		// visibility; the prior artifact, if any, stays untouched on disk.
		if current.State != models.ProofStateUploaded {
			if dbErr := s.store.SetError(ctx, refVal, err.Error()); dbErr != nil {
				s.logger.Error("record validation error failed", zap.Error(dbErr), zap.String("ref", refVal))
			}
		}
		return nil, err
	}

	// The stored extension comes from the sniffed type only.
	name := storage.ProofFilename(refVal, verdict.Extension)
	size, err := s.files.Save(name, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := s.store.SetUploaded(ctx, refVal, name, size, p.DurationSeconds, p.RecordedAt, verdict.MIME); err != nil {
		// Roll back the freshly written file unless it replaced the
		// previous artifact in place.
		if current.StoragePath != name {
			if rmErr := s.files.Remove(name); rmErr != nil {
				s.logger.Error("rollback remove failed", zap.Error(rmErr), zap.String("file", name))
			}
		}
		return nil, fmt.Errorf("%w: persist proof record: %v", ErrStorage, err)
	}
	// Staff replacement: drop the superseded file once the new state is
	// committed (same-name replacements were already renamed over).
	if p.Staff && current.StoragePath != "" && current.StoragePath != name {
		if err := s.files.Remove(current.StoragePath); err != nil {
			s.logger.Error("remove superseded proof failed", zap.Error(err), zap.String("file", current.StoragePath))
		}
	}

	s.auditUpload(ctx, refVal, p.Source, models.AuditOutcomeSuccess, "")
	s.logger.Info("proof uploaded",
		zap.String("ref", refVal),
		zap.String("content_type", verdict.MIME),
		zap.Int64("size", size),
		zap.Bool("staff", p.Staff),
	)
	return s.store.Get(ctx, refVal)
}

// Override sets the staff bypass flag with a mandatory justification.
func (s *Service) Override(ctx context.Context, refVal, actor, reason string, now time.Time) (*models.Proof, error) {
	if len(reason) < MinOverrideReasonLen {
		return nil, ErrReasonTooShort
	}
	current, err := s.store.Get(ctx, refVal)
	if err != nil {
		return nil, fmt.Errorf("load proof record: %w", err)
	}
	if current == nil {
		return nil, ErrNotFound
	}
	if err := s.store.SetOverride(ctx, refVal, actor, reason, now.UTC()); err != nil {
		return nil, fmt.Errorf("persist override: %w", err)
	}
	s.sink.Record(ctx, models.AuditEntry{
		Ref:     refVal,
		Source:  actor,
		Event:   models.AuditEventOverride,
		Outcome: models.AuditOutcomeSuccess,
		Reason:  reason,
	})
	return s.store.Get(ctx, refVal)
}

// Delete removes the stored file and clears the artifact fields. The
// submission reference persists and a new binding can be issued later.
func (s *Service) Delete(ctx context.Context, refVal, actor string) error {
	current, err := s.store.Get(ctx, refVal)
	if err != nil {
		return fmt.Errorf("load proof record: %w", err)
	}
	if current == nil {
		return ErrNotFound
	}
	if current.StoragePath != "" {
		if err := s.files.Remove(current.StoragePath); err != nil {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}
	if err := s.store.ClearArtifact(ctx, refVal); err != nil {
		return fmt.Errorf("clear proof record: %w", err)
	}
	s.logger.Info("proof deleted", zap.String("ref", refVal), zap.String("actor", actor))
	return nil
}

// Status returns the gating view for a submission.
func (s *Service) Status(ctx context.Context, refVal string) (*models.Proof, error) {
	p, err := s.store.Get(ctx, refVal)
	if err != nil {
		return nil, fmt.Errorf("load proof record: %w", err)
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *Service) auditUpload(ctx context.Context, refVal, source, outcome, reason string) {
	s.sink.Record(ctx, models.AuditEntry{
		Ref:     refVal,
		Source:  source,
		Event:   models.AuditEventUpload,
		Outcome: outcome,
		Reason:  reason,
	})
}
