package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/storefront/integration/internal/infrastructure/auth"
	"github.com/storefront/integration/internal/interfaces/http/dto"
)

// ClaimsKey is the gin context key holding validated admin claims
const ClaimsKey = "admin_claims"

// AdminAuth guards the admin API with bearer tokens. When no signing
// secret is configured the admin surface is closed entirely.
func AdminAuth(tokens *auth.TokenService, revoked auth.RevocationList) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !tokens.Enabled() {
			c.AbortWithStatusJSON(http.StatusForbidden,
				dto.NewErrorResponse(dto.ErrCodeForbidden, "Admin API is not configured"))
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponse(dto.ErrCodeUnauthorized, "Missing bearer token"))
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponse(dto.ErrCodeUnauthorized, "Invalid or expired token"))
			return
		}

		if revoked != nil {
			isRevoked, err := revoked.IsRevoked(c.Request.Context(), claims.ID)
			if err != nil {
				// Revocation store unreachable: fail closed on the admin surface
				c.AbortWithStatusJSON(http.StatusServiceUnavailable,
					dto.NewErrorResponse(dto.ErrCodeInternal, "Authorization check unavailable"))
				return
			}
			if isRevoked {
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					dto.NewErrorResponse(dto.ErrCodeUnauthorized, "Token has been revoked"))
				return
			}
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// GetAdminClaims retrieves validated claims from the gin context
func GetAdminClaims(c *gin.Context) *auth.Claims {
	if v, exists := c.Get(ClaimsKey); exists {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}
