package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth returns middleware guarding the admin surface with a static key,
// accepted either as "Authorization: Bearer <key>" or in the X-API-Key
// header. An empty key disables the guard entirely, which is only
// acceptable for local development; Validate warns about it elsewhere.
func Auth(adminKey string) func(http.Handler) http.Handler {
	want := []byte(adminKey)
	return func(next http.Handler) http.Handler {
		if adminKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := adminCredential(r)
			if got == "" {
				deny(w, "missing admin key")
				return
			}
			// Constant-time comparison; the key is a capability, not a name.
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				deny(w, "invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// adminCredential pulls the presented key out of the request. The Bearer
// scheme wins over X-API-Key when both are present.
func adminCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, rest, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
