package middleware

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"evently-core/internal/shared/config"
	"evently-core/internal/shared/utils/response"
	"evently-core/internal/tokengate"
	"evently-core/internal/users"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

// creates a JWT authentication middleware
func JWTAuth() gin.HandlerFunc {
	return JWTAuthWithConfig(config.Load())
}

// creates a JWT authentication middleware with config(user payload from token)
func JWTAuthWithConfig(cfg *config.Config) gin.HandlerFunc {
	return JWTAuthWithGate(cfg, nil)
}

// JWTAuthWithGate is JWTAuthWithConfig plus the Token Gate revocation
// check (§4.8): a token that parses and verifies fine is still rejected
// if it has been explicitly blacklisted (logout, password change,
// admin-forced revoke). gate may be nil, in which case the revocation
// check is skipped — useful for routes that run before the gate is
// wired, but every production route should pass one.
func JWTAuthWithGate(cfg *config.Config, gate tokengate.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.RespondJSON(c, "error", http.StatusUnauthorized, "Authorization header is required", nil, nil)
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.RespondJSON(c, "error", http.StatusUnauthorized, "authorization header format must be Bearer {token}", nil, nil)
			c.Abort()
			return
		}

		tokenString := parts[1]

		claims, err := ParseAccessToken(cfg, tokenString)
		if err != nil {
			response.RespondJSON(c, "error", http.StatusUnauthorized, "invalid or expired token", nil, nil)
			c.Abort()
			return
		}

		if gate != nil && gate.IsBlacklisted(c.Request.Context(), tokenString) {
			response.RespondJSON(c, "error", http.StatusUnauthorized, "token has been revoked", nil, nil)
			c.Abort()
			return
		}

		log.Println("JWT claims:", claims)
		c.Set("user_id", claims["user_id"])
		c.Set("user_email", claims["email"])
		c.Set("user_role", claims["role"])

		c.Next()
	}
}

// ParseAccessToken validates signature, expiry, and token type, and
// returns the embedded claims. Shared by the HTTP middleware and the
// Realtime Broadcaster's WebSocket handshake (§4.7), so both boundaries
// apply identical rules.
func ParseAccessToken(cfg *config.Config, tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.JWT.Secret), nil
	})
	if err != nil || !token.Valid {
		if err == nil {
			err = jwt.ErrSignatureInvalid
		}
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenMalformed
	}
	if tokenType, ok := claims["type"]; !ok || tokenType != "access" {
		return nil, jwt.ErrTokenMalformed
	}
	return claims, nil
}

// checks if user has required role
func RequireRole(requiredRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole, exists := c.Get("user_role")
		if !exists {
			response.RespondJSON(c, "error", http.StatusUnauthorized, "user role not found in context", nil, nil)
			c.Abort()
			return
		}

		if userRole.(string) != requiredRole {
			response.RespondJSON(c, "error", http.StatusForbidden, "Insufficient permissions", nil, nil)
			c.Abort()
			return
		}
		fmt.Print("userRole:", userRole)
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return RequireRole(string(users.RoleAdmin))
}

// checks if user has any of the required roles
func RequireRoles(requiredRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole, exists := c.Get("user_role")
		if !exists {
			response.RespondJSON(c, "error", http.StatusUnauthorized, "user role not found in context", nil, nil)
			c.Abort()
			return
		}

		hasRole := false
		for _, role := range requiredRoles {
			if userRole.(string) == role {
				hasRole = true
				break
			}
		}

		if !hasRole {
			response.RespondJSON(c, "error", http.StatusForbidden, "Insufficient permissions", nil, nil)
			c.Abort()
			return
		}

		c.Next()
	}
}
