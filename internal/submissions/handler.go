package submissions

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/models"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/ref"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/response"
)

// RegisterRequest is the body for POST /submissions.
type RegisterRequest struct {
	Ref          string `json:"ref" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	CustomerName string `json:"customer_name"`
}

// Handler handles submission HTTP endpoints (staff-gated intake stand-in).
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a submissions handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// Register handles POST /submissions.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	cleanRef, err := ref.Sanitize(req.Ref)
	if err != nil {
		response.BadRequest(c, "invalid submission reference")
		return
	}
	if exists, err := h.repo.Exists(c.Request.Context(), cleanRef); err != nil {
		h.logger.Error("submission lookup failed", zap.Error(err), zap.String("ref", cleanRef))
		response.Internal(c, "failed to register submission")
		return
	} else if exists {
		response.Conflict(c, "submission already registered")
		return
	}
	sub := &models.Submission{
		Ref:          cleanRef,
		Email:        req.Email,
		CustomerName: req.CustomerName,
	}
	if err := h.repo.Register(c.Request.Context(), sub); err != nil {
		h.logger.Error("register submission failed", zap.Error(err), zap.String("ref", cleanRef))
		response.Internal(c, "failed to register submission")
		return
	}
	response.Created(c, sub)
}

// Get handles GET /submissions/:ref (staff).
func (h *Handler) Get(c *gin.Context) {
	cleanRef, err := ref.Sanitize(c.Param("ref"))
	if err != nil {
		response.BadRequest(c, "invalid submission reference")
		return
	}
	sub, err := h.repo.GetByRef(c.Request.Context(), cleanRef)
	if err != nil {
		h.logger.Error("submission lookup failed", zap.Error(err), zap.String("ref", cleanRef))
		response.Internal(c, "submission unavailable")
		return
	}
	if sub == nil {
		response.NotFound(c, "submission not found")
		return
	}
	response.OK(c, sub)
}
