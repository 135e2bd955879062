package utils

import (
	"net/http/httptest"
	"testing"
	"time"
)

// TestGetIPAddress verifies proxy header precedence.
func TestGetIPAddress(t *testing.T) {
	testCases := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expected   string
	}{
		{"Remote Addr Only", "10.0.0.5:12345", nil, "10.0.0.5"},
		{"IPv6 Remote Addr", "[::1]:12345", nil, "::1"},
		{"Invalid Remote Addr", "not-an-ip", nil, "not-an-ip"},
		{"X-Real-IP", "8.8.8.8:1", map[string]string{"X-Real-IP": "192.168.1.50"}, "192.168.1.50"},
		{"X-Forwarded-For First Hop", "8.8.8.8:1", map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}, "1.1.1.1"},
		{"Cloudflare Wins", "8.8.8.8:1", map[string]string{"CF-Connecting-IP": "9.9.9.9", "X-Real-IP": "1.2.3.4"}, "9.9.9.9"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := GetIPAddress(req); got != tc.expected {
				t.Errorf("Expected IP %s, got %s", tc.expected, got)
			}
		})
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("Expected password to be hashed")
	}
	if !CheckPassword(hash, "correct horse battery staple") {
		t.Error("Expected matching password to verify")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("Expected wrong password to fail")
	}
}

func TestSessionTokens(t *testing.T) {
	secret := []byte("test-secret")

	token, expiresAt, err := IssueSessionToken(secret, 42, "alice", time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionToken failed: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Error("Expected expiry in the future")
	}

	claims, err := ParseSessionToken(secret, token)
	if err != nil {
		t.Fatalf("ParseSessionToken failed: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "alice" {
		t.Errorf("Unexpected claims: %+v", claims)
	}

	t.Run("Wrong Secret", func(t *testing.T) {
		if _, err := ParseSessionToken([]byte("other"), token); err == nil {
			t.Error("Expected token signed with another secret to be rejected")
		}
	})

	t.Run("Expired", func(t *testing.T) {
		expired, _, err := IssueSessionToken(secret, 42, "alice", -time.Minute)
		if err != nil {
			t.Fatalf("IssueSessionToken failed: %v", err)
		}
		if _, err := ParseSessionToken(secret, expired); err == nil {
			t.Error("Expected expired token to be rejected")
		}
	})

	t.Run("Garbage", func(t *testing.T) {
		if _, err := ParseSessionToken(secret, "not.a.token"); err == nil {
			t.Error("Expected malformed token to be rejected")
		}
	})
}
