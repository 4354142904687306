package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Wolfiling/psa-grading-service-sub000/internal/staff"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/response"
)

const (
	// ContextStaffID is the key for staff user ID in gin context.
	ContextStaffID = "staff_id"
	// ContextStaffRole is the key for staff role in gin context.
	ContextStaffRole = "staff_role"
	// ContextStaffEmail is the key for staff email in gin context.
	ContextStaffEmail = "staff_email"
)

// StaffJWT returns a middleware that validates a staff session token and
// sets staff claims in context.
func StaffJWT(jwtService *staff.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := bearerClaims(c, jwtService)
		if !ok {
			response.Unauthorized(c, "invalid or missing session token")
			c.Abort()
			return
		}
		setStaffContext(c, claims)
		c.Next()
	}
}

// OptionalStaffJWT sets staff claims in context when a valid bearer token is
// present and passes through otherwise. Endpoints that accept either a
// capability token or a staff session use this.
func OptionalStaffJWT(jwtService *staff.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := bearerClaims(c, jwtService); ok {
			setStaffContext(c, claims)
		}
		c.Next()
	}
}

// StaffActor returns the authenticated staff email, or "" for anonymous
// callers.
func StaffActor(c *gin.Context) string {
	email, _ := c.Get(ContextStaffEmail)
	s, _ := email.(string)
	return s
}

func bearerClaims(c *gin.Context, jwtService *staff.JWTService) (*staff.Claims, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return nil, false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, false
	}
	claims, err := jwtService.Validate(parts[1])
	if err != nil {
		return nil, false
	}
	return claims, true
}

func setStaffContext(c *gin.Context, claims *staff.Claims) {
	c.Set(ContextStaffID, claims.StaffID)
	c.Set(ContextStaffRole, claims.Role)
	c.Set(ContextStaffEmail, claims.Email)
}
