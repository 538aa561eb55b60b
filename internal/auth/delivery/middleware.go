package delivery

import (
	"net/http"
	"strings"

	authdomain "mailsync-backend/internal/auth/domain"
	"mailsync-backend/internal/auth/usecase"

	"github.com/gin-gonic/gin"
)

// OperatorKey is the gin context key holding the authenticated *authdomain.Operator.
const OperatorKey = "operator"

// AuthMiddleware requires a valid operator bearer token.
func AuthMiddleware(authUsecase usecase.AuthUsecase) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, token, found := strings.Cut(c.GetHeader("Authorization"), " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}

		operator, err := authUsecase.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(OperatorKey, operator)
		c.Next()
	}
}

// OperatorFrom returns the operator set by AuthMiddleware, or nil on unauthenticated routes.
func OperatorFrom(c *gin.Context) *authdomain.Operator {
	v, ok := c.Get(OperatorKey)
	if !ok {
		return nil
	}
	operator, _ := v.(*authdomain.Operator)
	return operator
}
