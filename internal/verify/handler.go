package verify

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/ref"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/response"
)

// AccessRequest is the body for POST /proofs/:ref/access.
type AccessRequest struct {
	EmailFragment string `json:"email_fragment" binding:"required"`
}

// Handler handles the access-grant HTTP endpoint.
type Handler struct {
	verifier *Verifier
	logger   *zap.Logger
}

// NewHandler creates an access-grant handler.
func NewHandler(verifier *Verifier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{verifier: verifier, logger: logger}
}

// Grant handles POST /proofs/:ref/access. Returns a short-lived access
// token or a structured denial (RATE_LIMITED, NOT_FOUND, MISMATCH).
func (h *Handler) Grant(c *gin.Context) {
	refVal, err := ref.Sanitize(c.Param("ref"))
	if err != nil {
		response.BadRequest(c, "invalid submission reference")
		return
	}
	var req AccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	grant, denial, err := h.verifier.Verify(c.Request.Context(), refVal, req.EmailFragment, c.ClientIP())
	if err != nil {
		h.logger.Error("identity verification failed", zap.Error(err), zap.String("ref", refVal))
		response.Internal(c, "verification unavailable")
		return
	}
	if denial != nil {
		switch denial.Code {
		case response.CodeRateLimited:
			response.TooManyRequests(c, "too many failed attempts", int(denial.RetryAfter.Seconds())+1)
		case response.CodeNotFound:
			response.DeniedNotFound(c, "submission not found")
		default:
			response.Denied(c, response.CodeMismatch, "verification failed")
		}
		return
	}
	response.OK(c, grant)
}
