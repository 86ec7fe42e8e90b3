package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{JWTSecret: "test-secret", AccessTokenTTL: time.Minute}
}

func TestIsPublicRoute(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{"health", "/health", true},
		{"metrics", "/metrics", true},
		{"ws", "/ws/simulations/run-1", true},

		{"start", "/api/v1/simulations/start", false},
		{"history", "/api/v1/simulations/history", false},
		{"sandbox status", "/api/v1/simulations/sandbox/status", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPublicRoute(tt.path); got != tt.expected {
				t.Errorf("isPublicRoute(%q) = %v, want %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestMiddlewareAndAdminOnly(t *testing.T) {
	cfg := testConfig()
	adminToken, err := GenerateAccessToken(cfg, "admin-1", "admin@school.local", RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	teacherToken, _ := GenerateAccessToken(cfg, "t-1", "t@school.local", RoleTeacher)
	otherToken, _ := GenerateAccessToken(Config{JWTSecret: "other", AccessTokenTTL: time.Minute}, "x", "", RoleAdmin)

	var seen *AuthUser
	h := Middleware(cfg)(AdminOnly(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAuthUser(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"bad scheme", "Basic abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + otherToken, http.StatusUnauthorized},
		{"teacher forbidden", "Bearer " + teacherToken, http.StatusForbidden},
		{"admin ok", "Bearer " + adminToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/simulations/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	if seen == nil || seen.ID != "admin-1" {
		t.Errorf("auth user not injected: %+v", seen)
	}
}

func TestExpiredToken(t *testing.T) {
	cfg := testConfig()
	token, err := GenerateToken(cfg, "u", "", RoleAdmin, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := Authenticate(cfg, token); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestGenerateTokenWithoutSecret(t *testing.T) {
	if _, err := GenerateAccessToken(Config{}, "u", "", RoleAdmin); err == nil {
		t.Error("expected error without secret")
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("placeholder")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword("placeholder", hash) || CheckPassword("wrong", hash) {
		t.Error("CheckPassword mismatch")
	}
}
