package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"freemail/backend/internal/domain"
)

// RequireRole 要求会话角色属于 allowedRoles 之一，必须挂在 RequireAuth 之后
func RequireRole(allowedRoles ...domain.UserRole) gin.HandlerFunc {
	allowed := make(map[domain.UserRole]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		allowed[role] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := UserID(c); !ok {
			abort(c, http.StatusUnauthorized, "需要登录认证")
			return
		}

		role, _ := c.Get(ContextRole)
		roleStr, _ := role.(string)
		if _, ok := allowed[domain.UserRole(roleStr)]; !ok {
			abort(c, http.StatusForbidden, "权限不足")
			return
		}

		c.Next()
	}
}

// RequireAdmin 要求管理员权限
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(domain.RoleAdmin)
}
