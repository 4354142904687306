package retention

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/models"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/proof"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/ref"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/response"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/storage"
)

// Handler serves presigned download URLs for archived proofs (staff).
type Handler struct {
	store  proof.Store
	s3     *storage.S3
	logger *zap.Logger
}

// NewHandler creates an archive retrieval handler.
func NewHandler(store proof.Store, s3 *storage.S3, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, s3: s3, logger: logger}
}

// DownloadURL handles GET /proofs/:ref/archive-url (staff). Archived proofs
// are no longer on local disk; staff retrieve them straight from S3 with a
// short-lived presigned link.
func (h *Handler) DownloadURL(c *gin.Context) {
	refVal, err := ref.Sanitize(c.Param("ref"))
	if err != nil {
		response.BadRequest(c, "invalid submission reference")
		return
	}
	p, err := h.store.Get(c.Request.Context(), refVal)
	if err != nil {
		h.logger.Error("load proof record failed", zap.Error(err), zap.String("ref", refVal))
		response.Internal(c, "archive unavailable")
		return
	}
	if p == nil || p.State != models.ProofStateArchived || p.StoragePath == "" {
		response.NotFound(c, "no archived proof for this submission")
		return
	}
	key := storage.ArchiveKey(p.Ref, p.StoragePath)
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), key, h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign archive download failed", zap.Error(err), zap.String("ref", refVal))
		response.Internal(c, "archive unavailable")
		return
	}
	response.OK(c, gin.H{"url": url, "expires_in_seconds": int(h.s3.PresignExpire().Seconds())})
}

// Delete handles DELETE /proofs/:ref/archive (admin). Removes the archived
// object and resets the record so a new binding can be issued.
func (h *Handler) Delete(c *gin.Context) {
	refVal, err := ref.Sanitize(c.Param("ref"))
	if err != nil {
		response.BadRequest(c, "invalid submission reference")
		return
	}
	p, err := h.store.Get(c.Request.Context(), refVal)
	if err != nil {
		h.logger.Error("load proof record failed", zap.Error(err), zap.String("ref", refVal))
		response.Internal(c, "archive unavailable")
		return
	}
	if p == nil || p.State != models.ProofStateArchived || p.StoragePath == "" {
		response.NotFound(c, "no archived proof for this submission")
		return
	}
	key := storage.ArchiveKey(p.Ref, p.StoragePath)
	if err := h.s3.DeleteObject(c.Request.Context(), key); err != nil {
		h.logger.Error("delete archived object failed", zap.Error(err), zap.String("ref", refVal))
		response.Internal(c, "archive unavailable")
		return
	}
	if err := h.store.ClearArtifact(c.Request.Context(), refVal); err != nil {
		h.logger.Error("clear proof record failed", zap.Error(err), zap.String("ref", refVal))
		response.Internal(c, "archive unavailable")
		return
	}
	response.NoContent(c)
}
