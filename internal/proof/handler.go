package proof

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/middleware"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/ref"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/sniff"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/token"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/response"
)

// uploadFormField is the multipart part carrying the video bytes.
const uploadFormField = "video"

// multipartOverhead is the allowance above the video ceiling for multipart
// boundaries, part headers and the small metadata fields.
const multipartOverhead = 1 << 20

// Handler handles proof HTTP endpoints.
type Handler struct {
	service *Service
	tokens  *token.Service
	logger  *zap.Logger
}

// NewHandler creates a proof handler.
func NewHandler(service *Service, tokens *token.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, tokens: tokens, logger: logger}
}

// StatusResponse is the shipment-gating view of a proof.
type StatusResponse struct {
	Ref             string `json:"ref"`
	State           string `json:"state"`
	OverridePresent bool   `json:"overridePresent"`
	Cleared         bool   `json:"cleared"`
	ClearedBy       string `json:"clearedBy,omitempty"`
}

// Upload handles POST /proofs/:ref/video. Callers authenticate with either
// an upload/recording capability token in the query string or a staff
// session; staff uploads may replace an existing proof.
func (h *Handler) Upload(c *gin.Context) {
	refVal, err := ref.Sanitize(c.Param("ref"))
	if err != nil {
		response.BadRequest(c, "invalid submission reference")
		return
	}

	isStaff := middleware.StaffActor(c) != ""
	if !isStaff && !h.authorizeUploadToken(c, refVal) {
		return
	}

	// Cap the request body before any multipart parsing; without this the
	// whole body would be spooled to disk before the size checks run.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.service.MaxSize()+multipartOverhead)

	file, header, err := c.Request.FormFile(uploadFormField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.BadRequest(c, "file exceeds the upload size limit")
			return
		}
		response.BadRequest(c, "missing video file")
		return
	}
	defer file.Close()

	params := UploadParams{
		Filename:     header.Filename,
		DeclaredSize: header.Size,
		Staff:        isStaff,
		StaffActor:   middleware.StaffActor(c),
		Source:       clientSource(c, isStaff),
	}
	if v := c.PostForm("duration"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d >= 0 {
			params.DurationSeconds = d
		}
	}
	if v := c.PostForm("recorded_at"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.RecordedAt = &t
		}
	}

	p, err := h.service.Upload(c.Request.Context(), refVal, file, params)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			response.NotFound(c, "unknown submission reference")
		case errors.Is(err, ErrConflict):
			response.Conflict(c, "proof already uploaded for this submission")
		case errors.Is(err, sniff.ErrTooLarge):
			response.BadRequest(c, "file exceeds the upload size limit")
		case errors.Is(err, sniff.ErrUnsupported), errors.Is(err, sniff.ErrDangerousExt), errors.Is(err, sniff.ErrEmpty):
			response.BadRequest(c, "file is not a supported video format")
		default:
			h.logger.Error("upload failed", zap.Error(err), zap.String("ref", refVal))
			response.Internal(c, "upload failed")
		}
		return
	}
	response.Created(c, gin.H{
		"ref":         p.Ref,
		"state":       p.State,
		"contentType": p.ContentType,
		"byteSize":    p.ByteSize,
	})
}

// Status handles GET /proofs/:ref/status (staff).
func (h *Handler) Status(c *gin.Context) {
	refVal, err := ref.Sanitize(c.Param("ref"))
	if err != nil {
		response.BadRequest(c, "invalid submission reference")
		return
	}
	p, err := h.service.Status(c.Request.Context(), refVal)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "unknown submission reference")
			return
		}
		h.logger.Error("status lookup failed", zap.Error(err), zap.String("ref", refVal))
		response.Internal(c, "status unavailable")
		return
	}
	cleared, by := p.Cleared()
	response.OK(c, StatusResponse{
		Ref:             p.Ref,
		State:           p.State,
		OverridePresent: p.OverridePresent(),
		Cleared:         cleared,
		ClearedBy:       by,
	})
}

// OverrideRequest is the body for POST /proofs/:ref/override.
type OverrideRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Override handles POST /proofs/:ref/override (staff).
func (h *Handler) Override(c *gin.Context) {
	refVal, err := ref.Sanitize(c.Param("ref"))
	if err != nil {
		response.BadRequest(c, "invalid submission reference")
		return
	}
	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	actor := middleware.StaffActor(c)
	p, err := h.service.Override(c.Request.Context(), refVal, actor, req.Reason, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, ErrReasonTooShort):
			response.BadRequest(c, "override reason must explain the decision")
		case errors.Is(err, ErrNotFound):
			response.NotFound(c, "unknown submission reference")
		default:
			h.logger.Error("override failed", zap.Error(err), zap.String("ref", refVal))
			response.Internal(c, "override failed")
		}
		return
	}
	cleared, by := p.Cleared()
	response.OK(c, StatusResponse{
		Ref:             p.Ref,
		State:           p.State,
		OverridePresent: p.OverridePresent(),
		Cleared:         cleared,
		ClearedBy:       by,
	})
}

// Delete handles DELETE /proofs/:ref (staff). The stored file and artifact
// fields are removed; the submission keeps its reference.
func (h *Handler) Delete(c *gin.Context) {
	refVal, err := ref.Sanitize(c.Param("ref"))
	if err != nil {
		response.BadRequest(c, "invalid submission reference")
		return
	}
	actor := middleware.StaffActor(c)
	if err := h.service.Delete(c.Request.Context(), refVal, actor); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "unknown submission reference")
			return
		}
		h.logger.Error("delete failed", zap.Error(err), zap.String("ref", refVal))
		response.Internal(c, "delete failed")
		return
	}
	response.NoContent(c)
}

// authorizeUploadToken checks the query-string capability token for the
// upload or recording purpose. Expired and invalid tokens get the same
// response; the distinction is logged only.
func (h *Handler) authorizeUploadToken(c *gin.Context, refVal string) bool {
	tok := c.Query("token")
	tsRaw := c.Query("ts")
	if tok == "" || tsRaw == "" {
		response.Unauthorized(c, "missing upload token")
		return false
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		response.Unauthorized(c, "upload token not valid")
		return false
	}
	now := time.Now()
	res := h.tokens.Verify(refVal, tok, ts, token.PurposeUpload, now)
	if res != token.Valid {
		// QR bindings embed recording tokens; they authorize upload too.
		res = h.tokens.Verify(refVal, tok, ts, token.PurposeRecording, now)
	}
	if res != token.Valid {
		h.logger.Info("upload token rejected",
			zap.String("ref", refVal),
			zap.String("result", res.String()),
			zap.String("token_fp", token.Fingerprint(tok)),
		)
		response.Unauthorized(c, "upload token not valid")
		return false
	}
	return true
}

func clientSource(c *gin.Context, isStaff bool) string {
	if isStaff {
		return middleware.StaffActor(c)
	}
	return c.ClientIP()
}
