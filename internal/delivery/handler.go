package delivery

import (
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/audit"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/middleware"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/models"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/proof"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/ref"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/token"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/response"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/storage"
)

// Handler streams stored proofs to token holders and staff.
type Handler struct {
	store  proof.Store
	files  *storage.Local
	tokens *token.Service
	sink   audit.Sink
	logger *zap.Logger
}

// NewHandler creates a delivery handler.
func NewHandler(store proof.Store, files *storage.Local, tokens *token.Service, sink audit.Sink, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, files: files, tokens: tokens, sink: sink, logger: logger}
}

// Stream handles GET /proofs/:ref/video. Authorization is an access token in
// the query string or a staff session. The response type is pinned to the
// fingerprint taken at upload time and the browser is told not to second-guess
// it.
func (h *Handler) Stream(c *gin.Context) {
	refVal, err := ref.Sanitize(c.Param("ref"))
	if err != nil {
		response.BadRequest(c, "invalid submission reference")
		return
	}
	tok := c.Query("token")
	if !h.authorize(c, refVal, tok) {
		return
	}

	p, err := h.store.Get(c.Request.Context(), refVal)
	if err != nil {
		h.logger.Error("load proof record failed", zap.Error(err), zap.String("ref", refVal))
		response.Internal(c, "delivery unavailable")
		return
	}
	if p == nil || p.State != models.ProofStateUploaded || p.StoragePath == "" {
		response.NotFound(c, "no proof available for this submission")
		return
	}

	f, info, err := h.files.Open(p.StoragePath)
	if err != nil {
		if os.IsNotExist(err) {
			// The record says uploaded but the bytes are gone. Surface loudly;
			// this is corruption, not a user error.
			h.logger.Error("proof integrity mismatch: record present, file missing",
				zap.String("ref", refVal), zap.String("file", p.StoragePath))
			h.audit(c, refVal, tok, models.AuditOutcomeDenied, "integrity_mismatch")
			response.Internal(c, "proof temporarily unavailable")
			return
		}
		h.logger.Error("open proof file failed", zap.Error(err), zap.String("ref", refVal))
		response.Internal(c, "delivery unavailable")
		return
	}
	defer f.Close()

	size := info.Size()
	c.Header("Cache-Control", "no-store")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Type", p.ContentType)

	rng, err := ParseRange(c.GetHeader("Range"), size)
	if err != nil {
		c.Header("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
		c.Status(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	h.audit(c, refVal, tok, models.AuditOutcomeSuccess, "")

	if rng == nil {
		c.Header("Content-Length", strconv.FormatInt(size, 10))
		c.Status(http.StatusOK)
		if _, err := io.Copy(c.Writer, f); err != nil {
			h.logger.Warn("proof stream interrupted", zap.Error(err), zap.String("ref", refVal))
		}
		return
	}

	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		h.logger.Error("seek proof file failed", zap.Error(err), zap.String("ref", refVal))
		response.Internal(c, "delivery unavailable")
		return
	}
	c.Header("Content-Range", rng.ContentRange(size))
	c.Header("Content-Length", strconv.FormatInt(rng.Length, 10))
	c.Status(http.StatusPartialContent)
	if _, err := io.CopyN(c.Writer, f, rng.Length); err != nil {
		h.logger.Warn("proof stream interrupted", zap.Error(err), zap.String("ref", refVal))
	}
}

// authorize admits staff sessions and valid access tokens. Every refusal is
// written to the audit trail; the trail records each delivery attempt, not
// just the ones that produced bytes.
func (h *Handler) authorize(c *gin.Context, refVal, tok string) bool {
	if middleware.StaffActor(c) != "" {
		return true
	}
	tsRaw := c.Query("ts")
	if tok == "" || tsRaw == "" {
		h.audit(c, refVal, tok, models.AuditOutcomeDenied, "missing_token")
		response.Unauthorized(c, "missing access token")
		return false
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		h.audit(c, refVal, tok, models.AuditOutcomeDenied, "invalid")
		response.Unauthorized(c, "access token not valid")
		return false
	}
	res := h.tokens.Verify(refVal, tok, ts, token.PurposeAccess, time.Now())
	if res != token.Valid {
		h.logger.Info("access token rejected",
			zap.String("ref", refVal),
			zap.String("result", res.String()),
			zap.String("token_fp", token.Fingerprint(tok)),
		)
		h.audit(c, refVal, tok, models.AuditOutcomeDenied, res.String())
		response.Unauthorized(c, "access token not valid")
		return false
	}
	return true
}

func (h *Handler) audit(c *gin.Context, refVal, tok, outcome, reason string) {
	source := middleware.StaffActor(c)
	if source == "" {
		source = c.ClientIP()
	}
	h.sink.Record(c.Request.Context(), models.AuditEntry{
		Ref:              refVal,
		Source:           source,
		Event:            models.AuditEventDelivery,
		Outcome:          outcome,
		Reason:           reason,
		TokenFingerprint: token.Fingerprint(tok),
	})
}
