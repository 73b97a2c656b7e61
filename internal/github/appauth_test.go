package github

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func generateTestKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return key, string(pemBytes)
}

func generateTestKeyPKCS8(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal PKCS8: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: der,
	})
	return key, string(pemBytes)
}

func TestParsePrivateKey_PKCS1(t *testing.T) {
	_, pemData := generateTestKey(t)
	key, err := parsePrivateKey([]byte(pemData))
	if err != nil {
		t.Fatalf("parse PKCS1: %v", err)
	}
	if key == nil {
		t.Fatal("expected non-nil key")
	}
}

func TestParsePrivateKey_PKCS8(t *testing.T) {
	_, pemData := generateTestKeyPKCS8(t)
	key, err := parsePrivateKey([]byte(pemData))
	if err != nil {
		t.Fatalf("parse PKCS8: %v", err)
	}
	if key == nil {
		t.Fatal("expected non-nil key")
	}
}

func TestParsePrivateKey_Invalid(t *testing.T) {
	_, err := parsePrivateKey([]byte("not a PEM"))
	if err == nil {
		t.Fatal("expected error for invalid PEM")
	}
	if !strings.Contains(err.Error(), "no PEM block") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSignJWT_Claims(t *testing.T) {
	key, pemData := generateTestKey(t)
	tp, err := NewAppTokenProvider(12345, pemData)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	signed, err := tp.signJWT()
	if err != nil {
		t.Fatalf("sign JWT: %v", err)
	}

	// Verify the signature with the public key and check the claims
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(signed, &claims, func(tok *jwt.Token) (interface{}, error) {
		if tok.Method.Alg() != "RS256" {
			t.Errorf("expected alg RS256, got %s", tok.Method.Alg())
		}
		return &key.PublicKey, nil
	})
	if err != nil {
		t.Fatalf("parse JWT: %v", err)
	}
	if !parsed.Valid {
		t.Fatal("expected valid token")
	}

	if claims.Issuer != "12345" {
		t.Errorf("expected iss=12345, got %s", claims.Issuer)
	}

	// iat backdated ~60s, exp ~10min ahead
	now := time.Now()
	if claims.IssuedAt == nil || claims.IssuedAt.After(now) {
		t.Error("iat should be in the past")
	}
	if claims.ExpiresAt == nil || claims.ExpiresAt.Before(now) {
		t.Error("exp should be in the future")
	}
	if claims.ExpiresAt.After(now.Add(11 * time.Minute)) {
		t.Error("exp should be within GitHub's 10 minute cap")
	}
}

func TestTokenCaching(t *testing.T) {
	_, pemData := generateTestKey(t)
	tp, err := NewAppTokenProvider(12345, pemData)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	callCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++

		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			t.Errorf("expected Bearer auth, got: %s", auth)
		}
		if r.URL.Path != "/app/installations/67890/access_tokens" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if ua := r.Header.Get("User-Agent"); ua != "reviewagent" {
			t.Errorf("expected User-Agent 'reviewagent', got %q", ua)
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"token":      "ghs_test_token_123",
			"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	tp.baseURL = srv.URL

	token1, err := tp.TokenForInstallation(67890)
	if err != nil {
		t.Fatalf("first TokenForInstallation(): %v", err)
	}
	if token1 != "ghs_test_token_123" {
		t.Errorf("expected ghs_test_token_123, got %s", token1)
	}
	if callCount != 1 {
		t.Errorf("expected 1 server call, got %d", callCount)
	}

	// Second call should use cache
	token2, err := tp.TokenForInstallation(67890)
	if err != nil {
		t.Fatalf("second TokenForInstallation(): %v", err)
	}
	if token2 != token1 {
		t.Error("expected cached token")
	}
	if callCount != 1 {
		t.Errorf("expected still 1 server call (cached), got %d", callCount)
	}
}

func TestTokenRefreshOnExpiry(t *testing.T) {
	_, pemData := generateTestKey(t)
	tp, err := NewAppTokenProvider(12345, pemData)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	callCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"token":      "ghs_refreshed",
			"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	tp.baseURL = srv.URL

	// Cached token within the 5 minute refresh buffer must be replaced
	tp.mu.Lock()
	tp.tokens[int64(67890)] = &cachedToken{
		token:   "ghs_old",
		expires: time.Now().Add(2 * time.Minute),
	}
	tp.mu.Unlock()

	token, err := tp.TokenForInstallation(67890)
	if err != nil {
		t.Fatalf("TokenForInstallation(): %v", err)
	}
	if token != "ghs_refreshed" {
		t.Errorf("expected refreshed token, got %s", token)
	}
	if callCount != 1 {
		t.Errorf("expected 1 refresh call, got %d", callCount)
	}
}

func TestTokenExchangeError(t *testing.T) {
	_, pemData := generateTestKey(t)
	tp, err := NewAppTokenProvider(12345, pemData)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer srv.Close()

	tp.baseURL = srv.URL

	_, err = tp.TokenForInstallation(67890)
	if err == nil {
		t.Fatal("expected error on 401")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected 401 in error, got: %v", err)
	}
}

func TestTokenCaching_MultipleInstallations(t *testing.T) {
	_, pemData := generateTestKey(t)
	tp, err := NewAppTokenProvider(12345, pemData)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	callCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		var token string
		switch {
		case strings.Contains(r.URL.Path, "/111/"):
			token = "ghs_token_for_111"
		case strings.Contains(r.URL.Path, "/222/"):
			token = "ghs_token_for_222"
		default:
			token = "ghs_unknown"
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"token":      token,
			"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	tp.baseURL = srv.URL

	token1, err := tp.TokenForInstallation(111)
	if err != nil {
		t.Fatalf("TokenForInstallation(111): %v", err)
	}
	if token1 != "ghs_token_for_111" {
		t.Errorf("expected ghs_token_for_111, got %s", token1)
	}

	token2, err := tp.TokenForInstallation(222)
	if err != nil {
		t.Fatalf("TokenForInstallation(222): %v", err)
	}
	if token2 != "ghs_token_for_222" {
		t.Errorf("expected ghs_token_for_222, got %s", token2)
	}
	if callCount != 2 {
		t.Errorf("expected 2 server calls, got %d", callCount)
	}

	// Both installations cached independently
	if tok, _ := tp.TokenForInstallation(111); tok != "ghs_token_for_111" {
		t.Errorf("expected cached token for 111, got %s", tok)
	}
	if tok, _ := tp.TokenForInstallation(222); tok != "ghs_token_for_222" {
		t.Errorf("expected cached token for 222, got %s", tok)
	}
	if callCount != 2 {
		t.Errorf("expected still 2 server calls (cached), got %d", callCount)
	}
}
