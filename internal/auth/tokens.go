package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UTM scopes this node requests from the auth server. Each outbound call
// names exactly one of them.
const (
	ScopeConstraintProcessing    = "utm.constraint_processing"
	ScopeStrategicCoordination   = "utm.strategic_coordination"
	ScopeConstraintManagement    = "utm.constraint_management"
	ScopeConformanceMonitoring   = "utm.conformance_monitoring_sa"
	ScopeAvailabilityArbitration = "utm.availability_arbitration"
)

// AuthenticationError is a non-2xx answer from the token endpoint. It is
// fatal for the request that needed the token.
type AuthenticationError struct {
	Status int
	Body   string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("auth: token endpoint returned %d: %s", e.Status, e.Body)
}

// Manager caches one bearer token per (audience, scope) pair and refetches
// lazily when a cached token's exp claim has passed. The exp claim is read
// without signature verification; this node is the token's consumer, not its
// verifier.
type Manager struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Now     func() time.Time

	mu     sync.Mutex
	tokens map[string]string
}

func NewManager(baseURL, apiKey string) *Manager {
	return &Manager{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		tokens:  map[string]string{},
	}
}

func (m *Manager) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

// GetToken returns a cached token for the audience/scope pair if it is still
// live, fetching a fresh one otherwise.
func (m *Manager) GetToken(ctx context.Context, audience, scope string) (string, error) {
	m.mu.Lock()
	tok, ok := m.tokens[audience+"|"+scope]
	m.mu.Unlock()
	if ok && m.live(tok) {
		return tok, nil
	}
	return m.fetch(ctx, audience, scope)
}

// RefreshToken discards any cached token for the pair and fetches a new one.
func (m *Manager) RefreshToken(ctx context.Context, audience, scope string) error {
	_, err := m.fetch(ctx, audience, scope)
	return err
}

// live reports whether the token's exp claim is in the future. Tokens that
// cannot be parsed or carry no exp are treated as expired.
func (m *Manager) live(token string) bool {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.Time.Before(m.now())
}

func (m *Manager) fetch(ctx context.Context, audience, scope string) (string, error) {
	q := url.Values{}
	q.Set("intended_audience", audience)
	q.Set("scope", scope)
	q.Set("apikey", m.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.BaseURL+"/token?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	client := m.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: fetch token: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &AuthenticationError{Status: resp.StatusCode, Body: string(body)}
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("auth: decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", &AuthenticationError{Status: resp.StatusCode, Body: "empty access_token"}
	}
	m.mu.Lock()
	if m.tokens == nil {
		m.tokens = map[string]string{}
	}
	m.tokens[audience+"|"+scope] = payload.AccessToken
	m.mu.Unlock()
	return payload.AccessToken, nil
}
