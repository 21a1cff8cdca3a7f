package transport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"skylane/internal/transport"
)

type fakeTokens struct {
	token     string
	refreshed atomic.Int32
	issued    atomic.Int32
}

func (f *fakeTokens) GetToken(ctx context.Context, audience, scope string) (string, error) {
	f.issued.Add(1)
	return f.token, nil
}

func (f *fakeTokens) RefreshToken(ctx context.Context, audience, scope string) error {
	f.refreshed.Add(1)
	f.token = "refreshed-token"
	return nil
}

func TestMissingScopeRejectedBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := transport.New("core-service", &fakeTokens{token: "tok"}, nil)
	_, err := c.Do(context.Background(), http.MethodGet, srv.URL, "", nil)
	if !errors.Is(err, transport.ErrMissingScope) {
		t.Fatalf("expected ErrMissingScope, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("request must not reach the network")
	}
}

func TestBearerAttached(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := transport.New("core-service", &fakeTokens{token: "tok-1"}, nil)
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, "utm.strategic_coordination", nil)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d", resp.Status)
	}
	if got != "Bearer tok-1" {
		t.Fatalf("authorization = %q", got)
	}
}

func TestRefreshRetryOnceOn401(t *testing.T) {
	var hits atomic.Int32
	var tokens []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens = append(tokens, r.Header.Get("Authorization"))
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tok := &fakeTokens{token: "stale-token"}
	c := transport.New("core-service", tok, nil)
	resp, err := c.Do(context.Background(), http.MethodPost, srv.URL, "utm.strategic_coordination", map[string]string{"a": "b"})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d", resp.Status)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", hits.Load())
	}
	if tok.refreshed.Load() != 1 {
		t.Fatalf("expected exactly 1 refresh, got %d", tok.refreshed.Load())
	}
	if tokens[1] != "Bearer refreshed-token" {
		t.Fatalf("retry used %q", tokens[1])
	}
}

func TestSecondAuthFailureReturnedToCaller(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"detail":"missing scope"}`))
	}))
	defer srv.Close()

	c := transport.New("core-service", &fakeTokens{token: "tok"}, nil)
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, "utm.strategic_coordination", nil)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.Status != http.StatusForbidden {
		t.Fatalf("status = %d", resp.Status)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 attempts and no more, got %d", hits.Load())
	}
}

func TestConnectionFailureIsServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := transport.New("core-service", &fakeTokens{token: "tok"}, nil)
	_, err := c.Do(context.Background(), http.MethodGet, url, "utm.strategic_coordination", nil)
	var unavailable *transport.ServiceUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ServiceUnavailableError, got %T: %v", err, err)
	}
}
