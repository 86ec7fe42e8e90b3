package auth

import (
	"errors"
	"log"
	"net/http"
	"strings"
)

var errInvalidTokenType = errors.New("invalid token type")

// 免认证路由白名单（前缀匹配）
var publicPrefixes = []string{
	"/health",
	"/metrics",
	"/ws/", // WebSocket 通过 ?token= 自行校验
}

func isPublicRoute(path string) bool {
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// bearerToken 提取 Authorization: Bearer <token>
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Authenticate 校验令牌字符串并返回用户
func Authenticate(cfg Config, token string) (*AuthUser, error) {
	claims, err := ParseToken(cfg, token)
	if err != nil {
		return nil, err
	}
	if claims.Type != "access" {
		return nil, errInvalidTokenType
	}
	return &AuthUser{ID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

// Middleware 创建 JWT 认证中间件
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "missing_authorization", "missing or invalid authorization header")
				return
			}

			user, err := Authenticate(cfg, token)
			if err != nil {
				log.Printf("[auth] token rejected: %v", err)
				writeAuthError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthUser(r.Context(), user)))
		})
	}
}

// AdminOnly 管理员专属路由中间件
func AdminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !GetAuthUser(r.Context()).IsAdmin() {
			writeAuthError(w, http.StatusForbidden, "forbidden", "admin access required")
			return
		}
		next(w, r)
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + code + `","message":"` + message + `"}`))
}
