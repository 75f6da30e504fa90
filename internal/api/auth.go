package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/kalambet/docent/internal/assistant"
)

// Identity headers set by the gateway in front of docent. The gateway has
// already authenticated the user and resolved their department permissions.
const (
	HeaderUser        = "X-Docent-User"
	HeaderTenant      = "X-Docent-Tenant"
	HeaderDepartment  = "X-Docent-Department"
	HeaderRole        = "X-Docent-Role"
	HeaderDepartments = "X-Docent-Departments"
)

func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// viewerFromRequest reads the caller identity from the gateway headers.
func viewerFromRequest(r *http.Request) assistant.Viewer {
	v := assistant.Viewer{
		UserID:       strings.TrimSpace(r.Header.Get(HeaderUser)),
		TenantID:     strings.TrimSpace(r.Header.Get(HeaderTenant)),
		DepartmentID: strings.TrimSpace(r.Header.Get(HeaderDepartment)),
		Role:         strings.TrimSpace(r.Header.Get(HeaderRole)),
	}
	for _, d := range strings.Split(r.Header.Get(HeaderDepartments), ",") {
		if d = strings.TrimSpace(d); d != "" {
			v.Departments = append(v.Departments, d)
		}
	}
	return v
}
