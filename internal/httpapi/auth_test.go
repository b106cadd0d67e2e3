package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueToken(t *testing.T) {
	tok, expiresAt, err := IssueToken(testSecret, "user-123", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if time.Until(expiresAt) < 59*time.Minute {
		t.Errorf("expiresAt = %v, want about an hour from now", expiresAt)
	}

	claims, err := parseToken(testSecret, tok)
	if err != nil {
		t.Fatalf("parseToken: %v", err)
	}
	if claims.UserID != "user-123" || claims.Subject != "user-123" {
		t.Errorf("claims = %+v, want user-123", claims)
	}

	if _, _, err := IssueToken("", "user-123", time.Hour); err == nil {
		t.Error("IssueToken without secret should fail")
	}
	if _, _, err := IssueToken(testSecret, "", time.Hour); err == nil {
		t.Error("IssueToken without user should fail")
	}
}

func TestParseTokenRejects(t *testing.T) {
	expired, _, err := IssueToken(testSecret, "user-123", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	otherSecret, _, _ := IssueToken("other-secret", "user-123", time.Hour)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{UserID: "user-123"}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"wrong secret", otherSecret},
		{"no expiry", noExpiry},
		{"no user", noUser},
		{"garbage", "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseToken(testSecret, tt.token); err == nil {
				t.Errorf("parseToken(%s) should fail", tt.name)
			}
		})
	}
}

func TestWithAuth(t *testing.T) {
	r := &Router{cfg: RouterConfig{JWTSecret: testSecret}}
	var seen *AuthUser
	h := r.withAuth(func(w http.ResponseWriter, req *http.Request) {
		seen = getAuthUser(req.Context())
		w.WriteHeader(http.StatusOK)
	})

	valid, _, _ := IssueToken(testSecret, "user-123", time.Hour)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing header", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, "", http.StatusUnauthorized},
		{"no token", "Bearer", "", http.StatusUnauthorized},
		{"bad token", "Bearer nope", "", http.StatusUnauthorized},
		{"valid header", "Bearer " + valid, "", http.StatusOK},
		{"lowercase scheme", "bearer " + valid, "", http.StatusOK},
		{"query token", "", "?access_token=" + valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/syncups"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && (seen == nil || seen.ID != "user-123") {
				t.Errorf("auth user = %+v, want user-123", seen)
			}
		})
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/syncups"},
		{http.MethodPost, "/api/syncups"},
		{http.MethodGet, "/api/sessions/abc"},
		{http.MethodPost, "/api/push/register"},
	}
	for _, p := range paths {
		if code := env.do(p.method, p.path, "", nil, nil); code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want %d", p.method, p.path, code, http.StatusUnauthorized)
		}
	}
}
