// Package auth resolves the calling member's identity. Frontend callers
// present their member id plus an HMAC signature minted by the backend;
// trusted backend callers authenticate with an API key and may act for a
// member without a signature.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"commshub/pkg/config"
	"commshub/pkg/logger"
)

// SecConfig mirrors the security-related configuration used to drive
// authentication and rate limiting behavior.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
	BackendKeys    map[string]struct{}
}

type ctxMemberKey struct{}
type ctxBackendKey struct{}

// MemberIDFromContext returns the verified member id, or "".
func MemberIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxMemberKey{}).(string); ok {
		return v
	}
	return ""
}

// IsBackend reports whether the request was made with a backend API key.
func IsBackend(ctx context.Context) bool {
	v, _ := ctx.Value(ctxBackendKey{}).(bool)
	return v
}

// Middleware returns the identity + rate-limit middleware chain.
func Middleware(sec SecConfig) func(http.Handler) http.Handler {
	pool := &limiterPool{cfg: sec}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(sec.IPWhitelist) > 0 && !ipAllowed(r.RemoteAddr, sec.IPWhitelist) {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}

			apiKey := bearerKey(r)
			limKey := apiKey
			if limKey == "" {
				limKey = remoteIP(r.RemoteAddr)
			}
			if !pool.Allow(limKey) {
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}

			userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
			sig := strings.TrimSpace(r.Header.Get("X-User-Signature"))

			// Backend callers: API key grants trust; a member id may be
			// passed unsigned, and a present signature is still verified.
			backend := apiKey != "" && keyKnown(apiKey, sec.BackendKeys)
			if backend && sig == "" {
				ctx := context.WithValue(r.Context(), ctxBackendKey{}, true)
				if userID != "" {
					ctx = context.WithValue(ctx, ctxMemberKey{}, userID)
				}
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if sig == "" || userID == "" {
				logger.Warn("missing_signature_headers", "path", r.URL.Path, "remote", r.RemoteAddr)
				http.Error(w, `{"error":"missing signature headers"}`, http.StatusUnauthorized)
				return
			}

			keys := config.GetSigningKeys()
			if len(keys) == 0 {
				logger.Error("no_signing_keys_configured")
				http.Error(w, `{"error":"server misconfigured: no signing secrets available"}`, http.StatusInternalServerError)
				return
			}
			ok := false
			for k := range keys {
				mac := hmac.New(sha256.New, []byte(k))
				mac.Write([]byte(userID))
				expected := hex.EncodeToString(mac.Sum(nil))
				if hmac.Equal([]byte(expected), []byte(sig)) {
					ok = true
					break
				}
			}
			if !ok {
				logger.Warn("invalid_signature", "user", userID)
				http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ctxMemberKey{}, userID)
			if backend {
				ctx = context.WithValue(ctx, ctxBackendKey{}, true)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SignMemberID returns the hex HMAC-SHA256 of a member id under key.
// Exposed so backends and tests can mint signatures.
func SignMemberID(key, memberID string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(memberID))
	return hex.EncodeToString(mac.Sum(nil))
}

func bearerKey(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func keyKnown(key string, set map[string]struct{}) bool {
	if set != nil {
		if _, ok := set[key]; ok {
			return true
		}
	}
	_, ok := config.GetBackendKeys()[key]
	return ok
}

func remoteIP(remoteAddr string) string {
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return h
	}
	return remoteAddr
}

func ipAllowed(remoteAddr string, whitelist []string) bool {
	ip := remoteIP(remoteAddr)
	for _, w := range whitelist {
		if w == ip {
			return true
		}
	}
	return false
}
