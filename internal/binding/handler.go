package binding

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/audit"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/models"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/ref"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/submissions"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/response"
)

// StateSetter moves a proof into the recording_issued state after a binding
// is generated.
type StateSetter interface {
	MarkRecordingIssued(ctx context.Context, ref string) error
}

// Handler handles binding HTTP endpoints.
type Handler struct {
	gen    *Generator
	dir    submissions.Directory
	states StateSetter
	sink   audit.Sink
	logger *zap.Logger
}

// NewHandler creates a binding handler.
func NewHandler(gen *Generator, dir submissions.Directory, states StateSetter, sink audit.Sink, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{gen: gen, dir: dir, states: states, sink: sink, logger: logger}
}

// Generate handles POST /proofs/:ref/binding (staff). Regeneration
// supersedes any previous artifact for the submission.
func (h *Handler) Generate(c *gin.Context) {
	refVal, err := ref.Sanitize(c.Param("ref"))
	if err != nil {
		response.BadRequest(c, "invalid submission reference")
		return
	}
	exists, err := h.dir.Exists(c.Request.Context(), refVal)
	if err != nil {
		h.logger.Error("submission lookup failed", zap.Error(err), zap.String("ref", refVal))
		response.Internal(c, "failed to generate binding")
		return
	}
	if !exists {
		response.NotFound(c, "submission not found")
		return
	}
	art, err := h.gen.Generate(refVal, time.Now())
	if err != nil {
		h.logger.Error("binding generation failed", zap.Error(err), zap.String("ref", refVal))
		response.Internal(c, "failed to generate binding")
		return
	}
	if err := h.states.MarkRecordingIssued(c.Request.Context(), refVal); err != nil {
		h.logger.Error("mark recording issued failed", zap.Error(err), zap.String("ref", refVal))
	}
	h.sink.Record(c.Request.Context(), models.AuditEntry{
		Ref:     refVal,
		Source:  c.ClientIP(),
		Event:   models.AuditEventBinding,
		Outcome: models.AuditOutcomeSuccess,
	})
	response.Created(c, art)
}

// Image handles GET /proofs/:ref/binding/image. Always serves the
// most-recently-generated artifact; stale images are never returned.
func (h *Handler) Image(c *gin.Context) {
	refVal, err := ref.Sanitize(c.Param("ref"))
	if err != nil {
		response.BadRequest(c, "invalid submission reference")
		return
	}
	png, err := h.gen.LatestImage(refVal)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "no binding for submission")
			return
		}
		h.logger.Error("read binding image failed", zap.Error(err), zap.String("ref", refVal))
		response.Internal(c, "failed to read binding image")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}
