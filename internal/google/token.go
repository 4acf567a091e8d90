package google

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenEndpoint = "https://oauth2.googleapis.com/token"
	jwtGrantType  = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	scopeAnalytics     = "https://www.googleapis.com/auth/analytics.readonly"
	scopeSearchConsole = "https://www.googleapis.com/auth/webmasters.readonly"
)

// TokenSource mints short-lived access tokens by signing a JWT assertion
// with the service-account key and exchanging it at Google's token endpoint.
// Tokens are cached until shortly before expiry.
type TokenSource struct {
	email      string
	key        *rsa.PrivateKey
	scopes     []string
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func NewTokenSource(email string, key *rsa.PrivateKey, httpClient *http.Client, scopes ...string) *TokenSource {
	return &TokenSource{
		email:      email,
		key:        key,
		scopes:     scopes,
		httpClient: httpClient,
	}
}

// Assertion builds and signs the RS256 JWT used as the OAuth grant. Claims:
// issuer and subject are the service-account email, audience is the token
// endpoint, lifetime one hour.
func (ts *TokenSource) Assertion(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":   ts.email,
		"sub":   ts.email,
		"aud":   tokenEndpoint,
		"scope": strings.Join(ts.scopes, " "),
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(ts.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}
	return signed, nil
}

// Token returns a valid access token, exchanging a fresh assertion when the
// cached one has expired.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now().UTC()
	if ts.accessToken != "" && now.Before(ts.expiresAt.Add(-time.Minute)) {
		return ts.accessToken, nil
	}

	assertion, err := ts.Assertion(now)
	if err != nil {
		return "", err
	}

	form := url.Values{
		"grant_type": {jwtGrantType},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	ts.accessToken = parsed.AccessToken
	ts.expiresAt = now.Add(time.Duration(parsed.ExpiresIn) * time.Second)
	return ts.accessToken, nil
}
