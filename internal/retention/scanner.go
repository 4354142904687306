// Package retention moves proofs past their local retention window to the
// S3 archive: a scanner enqueues candidates and a worker performs the move.
package retention

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/models"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/queue"
)

// ProofLister lists uploaded proofs whose retention window has passed.
type ProofLister interface {
	ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]models.Proof, error)
}

// scanBatchSize bounds one scan pass; leftovers are picked up next tick.
const scanBatchSize = 100

// Scanner periodically enqueues archival jobs for retired proofs.
type Scanner struct {
	lister    ProofLister
	queue     *queue.Queue
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
}

// NewScanner creates a retention scanner.
func NewScanner(lister ProofLister, q *queue.Queue, retention, interval time.Duration, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{lister: lister, queue: q, retention: retention, interval: interval, logger: logger}
}

// Run scans on the configured interval until ctx is done.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention scanner stopping")
			return
		case <-ticker.C:
			if err := s.Scan(ctx); err != nil {
				s.logger.Error("retention scan failed", zap.Error(err))
			}
		}
	}
}

// Scan enqueues one batch of archivable proofs.
func (s *Scanner) Scan(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retention)
	proofs, err := s.lister.ListArchivable(ctx, cutoff, scanBatchSize)
	if err != nil {
		return err
	}
	for _, p := range proofs {
		err := s.queue.EnqueueArchiveProof(ctx, queue.ArchiveProofPayload{
			Ref:         p.Ref,
			StoragePath: p.StoragePath,
			ContentType: p.ContentType,
		})
		if err != nil {
			return err
		}
		s.logger.Info("proof queued for archival", zap.String("ref", p.Ref))
	}
	return nil
}
