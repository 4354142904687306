package audit

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/ref"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/response"
)

// Handler exposes the audit trail to staff review.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates an audit handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// ListByRef handles GET /proofs/:ref/audit (staff).
func (h *Handler) ListByRef(c *gin.Context) {
	refVal, err := ref.Sanitize(c.Param("ref"))
	if err != nil {
		response.BadRequest(c, "invalid submission reference")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.repo.ListByRef(c.Request.Context(), refVal, limit)
	if err != nil {
		h.logger.Error("audit list failed", zap.Error(err), zap.String("ref", refVal))
		response.Internal(c, "audit log unavailable")
		return
	}
	response.OK(c, entries)
}
