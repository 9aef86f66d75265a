package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"commshub/pkg/config"
)

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Member", MemberIDFromContext(r.Context()))
		if IsBackend(r.Context()) {
			w.Header().Set("X-Backend", "1")
		}
		w.WriteHeader(http.StatusOK)
	})
}

func setupKeys(t *testing.T) {
	t.Helper()
	config.SetRuntime(&config.RuntimeConfig{
		BackendKeys: map[string]struct{}{"bk1": {}},
		SigningKeys: map[string]struct{}{"bk1": {}, "sk1": {}},
	})
	t.Cleanup(func() { config.SetRuntime(nil) })
}

func do(t *testing.T, h http.Handler, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/inbox", nil)
	req.RemoteAddr = "192.0.2.10:51234"
	mutate(req)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSignedMemberIsAccepted(t *testing.T) {
	setupKeys(t)
	h := Middleware(SecConfig{})(echoIdentity())

	rec := do(t, h, func(r *http.Request) {
		r.Header.Set("X-User-ID", "u_1")
		r.Header.Set("X-User-Signature", SignMemberID("sk1", "u_1"))
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Member") != "u_1" {
		t.Fatalf("member id not propagated")
	}
	if rec.Header().Get("X-Backend") != "" {
		t.Fatalf("signed frontend caller marked as backend")
	}
}

func TestBadOrMissingSignatureRejected(t *testing.T) {
	setupKeys(t)
	h := Middleware(SecConfig{})(echoIdentity())

	rec := do(t, h, func(r *http.Request) {
		r.Header.Set("X-User-ID", "u_1")
		r.Header.Set("X-User-Signature", SignMemberID("wrong-key", "u_1"))
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature: expected 401, got %d", rec.Code)
	}

	rec = do(t, h, func(r *http.Request) {
		r.Header.Set("X-User-ID", "u_1")
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing signature: expected 401, got %d", rec.Code)
	}

	// a signature for one member does not authenticate another
	rec = do(t, h, func(r *http.Request) {
		r.Header.Set("X-User-ID", "u_2")
		r.Header.Set("X-User-Signature", SignMemberID("sk1", "u_1"))
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("transplanted signature: expected 401, got %d", rec.Code)
	}
}

func TestBackendKeyActsForMemberUnsigned(t *testing.T) {
	setupKeys(t)
	h := Middleware(SecConfig{BackendKeys: map[string]struct{}{"bk1": {}}})(echoIdentity())

	rec := do(t, h, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer bk1")
		r.Header.Set("X-User-ID", "u_7")
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Member") != "u_7" || rec.Header().Get("X-Backend") != "1" {
		t.Fatalf("backend identity not propagated")
	}

	// unknown API key without a signature falls through to signature checks
	rec = do(t, h, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer nope")
		r.Header.Set("X-User-ID", "u_7")
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown key: expected 401, got %d", rec.Code)
	}
}

func TestIPWhitelistBlocksOthers(t *testing.T) {
	setupKeys(t)
	h := Middleware(SecConfig{IPWhitelist: []string{"10.1.2.3"}})(echoIdentity())

	rec := do(t, h, func(r *http.Request) {
		r.Header.Set("X-User-ID", "u_1")
		r.Header.Set("X-User-Signature", SignMemberID("sk1", "u_1"))
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-whitelisted IP, got %d", rec.Code)
	}
}

func TestRateLimitKicksIn(t *testing.T) {
	setupKeys(t)
	h := Middleware(SecConfig{RPS: 1, Burst: 2})(echoIdentity())

	var last int
	for i := 0; i < 5; i++ {
		rec := do(t, h, func(r *http.Request) {
			r.Header.Set("X-User-ID", "u_1")
			r.Header.Set("X-User-Signature", SignMemberID("sk1", "u_1"))
		})
		last = rec.Code
		if last == http.StatusTooManyRequests {
			break
		}
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("rate limit never triggered, last status %d", last)
	}
}
