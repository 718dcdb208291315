package auth

import (
	"encoding/json"
	"net/http"

	"github.com/meridian/newsgraph/internal/domain"
)

// Middleware resolves the Authorization header into an AccessContext and
// stores it on the request context. Invalid tokens are rejected here;
// absent tokens degrade to anonymous public access.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := s.Resolve(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAccessContext(r.Context(), ac)))
	})
}

func writeAuthError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	status := http.StatusUnauthorized
	if code == domain.ErrStoreUnavailable {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":            "error",
		"error_code":        code,
		"message":           err.Error(),
		"recovery_strategy": domain.RecoveryStrategy(code),
	})
}
