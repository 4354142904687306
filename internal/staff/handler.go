package staff

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Wolfiling/psa-grading-service-sub000/pkg/response"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/utils"
)

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with the session JWT.
type TokenResponse struct {
	Token string      `json:"token"`
	User  interface{} `json:"user"`
}

// Handler handles staff auth HTTP endpoints.
type Handler struct {
	repo   *Repository
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates a staff auth handler.
func NewHandler(repo *Repository, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, jwt: jwt, logger: logger}
}

// CreateRequest is the body for POST /staff.
type CreateRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=12"`
	FullName string `json:"full_name"`
	Role     string `json:"role" binding:"required,oneof=admin operator"`
}

// Create handles POST /staff (admin). Adds an operator or admin account.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	existing, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		h.logger.Error("staff lookup failed", zap.Error(err))
		response.Internal(c, "account creation unavailable")
		return
	}
	if existing != nil {
		response.Conflict(c, "account already exists")
		return
	}
	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("hash password failed", zap.Error(err))
		response.Internal(c, "account creation unavailable")
		return
	}
	user, err := h.repo.Create(c.Request.Context(), req.Email, hash, req.FullName, req.Role)
	if err != nil {
		h.logger.Error("create staff user failed", zap.Error(err))
		response.Internal(c, "account creation unavailable")
		return
	}
	response.Created(c, user.ToPublic())
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	user, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		h.logger.Error("staff lookup failed", zap.Error(err))
		response.Internal(c, "login unavailable")
		return
	}
	if user == nil || !utils.CheckPassword(req.Password, user.PasswordHash) {
		// Same response whether the account exists or the password is wrong.
		response.Unauthorized(c, "invalid credentials")
		return
	}
	token, err := h.jwt.Generate(user.ID, user.Email, user.Role)
	if err != nil {
		h.logger.Error("generate session token failed", zap.Error(err))
		response.Internal(c, "login unavailable")
		return
	}
	response.OK(c, TokenResponse{Token: token, User: user.ToPublic()})
}
