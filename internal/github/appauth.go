package github

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// cachedToken holds a cached installation access token with its expiry.
type cachedToken struct {
	token   string
	expires time.Time
}

// AppTokenProvider obtains GitHub installation access tokens using
// GitHub App JWT authentication. It caches tokens per installation
// and refreshes them when within 5 minutes of expiry. Thread-safe.
type AppTokenProvider struct {
	appID int64
	key   *rsa.PrivateKey

	// baseURL overrides the GitHub API base URL for testing.
	// Empty string means https://api.github.com.
	baseURL string

	mu     sync.Mutex
	tokens map[int64]*cachedToken // installation_id → cached token
}

// NewAppTokenProvider creates a token provider from the given PEM data.
// Supports both PKCS1 and PKCS8 private key formats.
func NewAppTokenProvider(appID int64, pemData string) (*AppTokenProvider, error) {
	key, err := parsePrivateKey([]byte(pemData))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &AppTokenProvider{
		appID:  appID,
		key:    key,
		tokens: make(map[int64]*cachedToken),
	}, nil
}

// TokenForInstallation returns a valid access token for the given installation,
// refreshing if needed.
func (p *AppTokenProvider) TokenForInstallation(installationID int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Return cached token if still valid (with 5 minute buffer)
	if ct, ok := p.tokens[installationID]; ok {
		if time.Now().Before(ct.expires.Add(-5 * time.Minute)) {
			return ct.token, nil
		}
	}

	appJWT, err := p.signJWT()
	if err != nil {
		return "", fmt.Errorf("sign JWT: %w", err)
	}

	token, expires, err := p.exchangeToken(appJWT, installationID)
	if err != nil {
		return "", fmt.Errorf("exchange token: %w", err)
	}

	p.tokens[installationID] = &cachedToken{token: token, expires: expires}
	return token, nil
}

// signJWT creates an RS256-signed JWT for GitHub App authentication.
// GitHub requires iat to be backdated to absorb clock drift and caps
// the validity window at 10 minutes.
func (p *AppTokenProvider) signJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    fmt.Sprintf("%d", p.appID),
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(p.key)
}

// installationTokenResponse is the response from POST /app/installations/{id}/access_tokens
type installationTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// exchangeToken exchanges a JWT for an installation access token.
func (p *AppTokenProvider) exchangeToken(appJWT string, installationID int64) (string, time.Time, error) {
	baseURL := p.baseURL
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", baseURL, installationID)
	req, err := http.NewRequest("POST", url, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "reviewagent")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, err
	}

	if resp.StatusCode != http.StatusCreated {
		return "", time.Time{}, fmt.Errorf("GitHub API %d: %s", resp.StatusCode, body)
	}

	var result installationTokenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", time.Time{}, fmt.Errorf("parse response: %w", err)
	}
	return result.Token, result.ExpiresAt, nil
}

// parsePrivateKey parses a PEM-encoded RSA private key (PKCS1 or PKCS8).
func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	// Try PKCS1 first (RSA PRIVATE KEY)
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	// Try PKCS8 (PRIVATE KEY)
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse as PKCS1 or PKCS8: %w", err)
	}

	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("PKCS8 key is not RSA")
	}
	return rsaKey, nil
}
