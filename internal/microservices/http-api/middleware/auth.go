package middleware

import (
	"net/http"
	"strings"

	"beatrelay/internal/microservices/http-api/service"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware requires a valid bearer token on admin requests
func AuthMiddleware(authService service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		// "Bearer <token>"
		scheme, tokenString, found := strings.Cut(authHeader, " ")
		if !found || scheme != "Bearer" || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		claims, err := authService.ValidateToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("claims", claims)
		c.Set("username", claims.Username)
		c.Set("scopes", claims.Scopes)
		c.Next()
	}
}

// RequireScopes rejects tokens missing any of the required scopes
func RequireScopes(requiredScopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenScopes := c.GetStringSlice("scopes")
		if !hasAllScopes(tokenScopes, requiredScopes) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "insufficient scopes",
				"required": requiredScopes,
				"granted":  tokenScopes,
			})
			return
		}
		c.Next()
	}
}

func hasAllScopes(tokenScopes, requiredScopes []string) bool {
	granted := make(map[string]bool, len(tokenScopes))
	for _, scope := range tokenScopes {
		granted[scope] = true
	}
	if granted["*"] {
		return true
	}

	for _, required := range requiredScopes {
		if !granted[required] && !matchesWildcardScope(tokenScopes, required) {
			return false
		}
	}
	return true
}

// matchesWildcardScope lets "journal:*" satisfy "journal:read"
func matchesWildcardScope(tokenScopes []string, required string) bool {
	for _, scope := range tokenScopes {
		if prefix, ok := strings.CutSuffix(scope, "*"); ok && strings.HasPrefix(required, prefix) {
			return true
		}
	}
	return false
}
