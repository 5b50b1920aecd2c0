package http

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyMiddleware закрывает программные эндпоинты ключом API.
// Ключ принимается в заголовке Authorization (Bearer) или в query
// параметре apiKey. Пустой сконфигурированный ключ отключает проверку.
func APIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			presented := bearerToken(r)
			if presented == "" {
				presented = r.URL.Query().Get("apiKey")
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "неверный ключ API")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
