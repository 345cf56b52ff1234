package middleware

import (
	"crypto/hmac"
	"net/http"
	"strings"
)

// AuthMiddleware проверяет операторский токен в заголовке Authorization.
// Операторы — фиксированный состав, поэтому достаточно общего токена
// со сравнением за постоянное время.
type AuthMiddleware struct {
	token []byte
}

// NewAuthMiddleware создаёт middleware с указанным операторским токеном.
// Пустой токен отключает проверку (режим разработки).
func NewAuthMiddleware(token string) *AuthMiddleware {
	return &AuthMiddleware{token: []byte(token)}
}

// Middleware отклоняет запросы без корректного токена Bearer.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.token) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || !hmac.Equal([]byte(presented), a.token) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
