package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/models"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/proof"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/queue"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/storage"
)

// Archiver processes archival jobs: upload the local file to S3, mark the
// record archived, then remove the local bytes.
type Archiver struct {
	store  proof.Store
	files  *storage.Local
	s3     *storage.S3
	queue  *queue.Queue
	logger *zap.Logger
}

// NewArchiver creates an archival worker.
func NewArchiver(store proof.Store, files *storage.Local, s3 *storage.S3, q *queue.Queue, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, files: files, s3: s3, queue: q, logger: logger}
}

// Process executes one archival job. Jobs are idempotent: a proof already
// archived, or one re-uploaded since the scan, is skipped without error.
func (a *Archiver) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeArchiveProof {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ArchiveProofPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	p, err := a.store.Get(ctx, payload.Ref)
	if err != nil {
		return fmt.Errorf("load proof record: %w", err)
	}
	if p == nil || p.StoragePath != payload.StoragePath ||
		!models.ValidProofTransition(p.State, models.ProofStateArchived) {
		a.logger.Info("archival job stale, skipping", zap.String("ref", payload.Ref))
		return nil
	}

	f, info, err := a.files.Open(p.StoragePath)
	if err != nil {
		return fmt.Errorf("open proof file: %w", err)
	}
	defer f.Close()

	key := storage.ArchiveKey(p.Ref, p.StoragePath)
	if _, err := a.s3.Upload(ctx, key, p.ContentType, f, info.Size()); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	if err := a.store.SetArchived(ctx, p.Ref); err != nil {
		return fmt.Errorf("mark archived: %w", err)
	}
	// Local bytes go last so a crash before this point leaves a re-runnable
	// job, never a record pointing at nothing.
	if err := a.files.Remove(p.StoragePath); err != nil {
		a.logger.Error("remove archived file failed", zap.Error(err), zap.String("file", p.StoragePath))
	}

	a.logger.Info("proof archived", zap.String("ref", p.Ref), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (a *Archiver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archive worker stopping")
			return
		default:
		}

		job, err := a.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		a.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := a.Process(ctx, job); err != nil {
			a.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := a.queue.Retry(ctx, job); reErr != nil {
				a.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
