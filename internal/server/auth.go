package server

import (
	"crypto/rsa"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
)

// AuthConfig controls verification of inbound peer tokens on /uss/v1 routes.
// With no public key configured the check is skipped entirely; that mode is
// for development against a local mock ecosystem only.
type AuthConfig struct {
	PublicKey *rsa.PublicKey
	// Audience, when set, must appear in the token's aud claim. Nodes are
	// addressed by their manager identity.
	Audience string
	Logger   *log.Logger
}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// LoadPublicKey reads an RS256 public key from an inline PEM block or a file
// path. Empty input yields nil (auth disabled).
func LoadPublicKey(pemOrPath string) (*rsa.PublicKey, error) {
	pemOrPath = strings.TrimSpace(pemOrPath)
	if pemOrPath == "" {
		return nil, nil
	}
	data := []byte(pemOrPath)
	if !strings.HasPrefix(pemOrPath, "-----BEGIN") {
		var err error
		data, err = os.ReadFile(pemOrPath)
		if err != nil {
			return nil, err
		}
	}
	return jwt.ParseRSAPublicKeyFromPEM(data)
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newPeerAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	var warnOnce sync.Once
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, "/uss/v1/") {
				next.ServeHTTP(w, req)
				return
			}
			if cfg.PublicKey == nil {
				warnOnce.Do(func() {
					cfg.logger().Printf("WARNING: no public key configured; inbound peer requests are not authenticated")
				})
				next.ServeHTTP(w, req)
				return
			}
			token, ok := bearerToken(strings.TrimSpace(req.Header.Get("Authorization")))
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "bearer token required", nil))
				return
			}
			opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}
			parser := jwt.NewParser(opts...)
			parsed, err := parser.Parse(token, func(t *jwt.Token) (any, error) {
				return cfg.PublicKey, nil
			})
			if err != nil || !parsed.Valid {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
