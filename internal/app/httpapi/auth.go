package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

// openPaths are reachable without a bearer token.
var openPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// wrapWithAuth enforces static bearer-token authentication and records
// mutating requests in the audit log. An empty token list disables auth,
// which is only sensible for local development.
func wrapWithAuth(next http.Handler, tokens []string, audit *auditLog) http.Handler {
	allowed := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if trimmed := strings.TrimSpace(t); trimmed != "" {
			allowed = append(allowed, trimmed)
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if openPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		if len(allowed) > 0 && !tokenAuthorized(r, allowed) {
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}

		if audit == nil || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		rec := &auditRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		audit.add(auditEntry{
			Time:       time.Now().UTC(),
			Vault:      vaultFromPath(r.URL.Path),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

func tokenAuthorized(r *http.Request, allowed []string) bool {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	presented := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	for _, token := range allowed {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

func vaultFromPath(path string) string {
	trimmed := strings.Trim(path, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 2 && parts[0] == "vaults" {
		return parts[1]
	}
	return ""
}

type auditRecorder struct {
	http.ResponseWriter
	status int
}

func (r *auditRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type authError string

func (e authError) Error() string { return string(e) }

const errUnauthorized = authError("missing or invalid bearer token")
