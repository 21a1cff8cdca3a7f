package dss_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"skylane/internal/auth"
	"skylane/internal/domain"
	"skylane/internal/dss"
	"skylane/internal/transport"
)

type recordingTokens struct {
	scopes []string
}

func (r *recordingTokens) GetToken(ctx context.Context, audience, scope string) (string, error) {
	r.scopes = append(r.scopes, scope)
	return "tok", nil
}

func (r *recordingTokens) RefreshToken(ctx context.Context, audience, scope string) error {
	return nil
}

func newClient(baseURL string, tokens transport.TokenSource) *dss.Client {
	return dss.New(baseURL, "http://uss1.example", "uss1", transport.New(dss.Audience, tokens, nil))
}

func testArea() domain.AreaOfInterest {
	return domain.AreaOfInterest{
		Volume:    json.RawMessage(`{"outline_polygon":{"vertices":[{"lat":1.0,"lng":2.0}]}}`),
		TimeStart: domain.NewTimePoint(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		TimeEnd:   domain.NewTimePoint(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)),
	}
}

func inlineSubscription() domain.SubscriptionTarget {
	return domain.SubscribeInline(domain.NewSubscription{
		USSBaseURL:           "http://uss1.example",
		NotifyForConstraints: true,
	})
}

func TestCreateWithoutSubscriptionRejectedBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := newClient(srv.URL, &recordingTokens{})
	_, err := c.CreateOperationalIntent(context.Background(), uuid.New(), []domain.AreaOfInterest{testArea()}, nil, domain.FlightVLOS, domain.SubscriptionTarget{})
	if !errors.Is(err, dss.ErrSubscriptionTarget) {
		t.Fatalf("expected ErrSubscriptionTarget, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("request must not reach the registry")
	}
}

func TestCreateOperationalIntent(t *testing.T) {
	id := uuid.New()
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{
			"subscribers": [{"uss_base_url": "http://uss2.example", "subscriptions": [{"subscription_id": "%s", "notification_index": 3}]}],
			"operational_intent_reference": {"id": "%s", "state": "Accepted", "ovn": "ovn-fresh", "version": 1, "manager": "uss1"}
		}`, uuid.New(), id)
	}))
	defer srv.Close()

	c := newClient(srv.URL, &recordingTokens{})
	change, err := c.CreateOperationalIntent(context.Background(), id, []domain.AreaOfInterest{testArea()}, nil, domain.FlightVLOS, inlineSubscription())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if gotPath != "/operational_intent_references/"+id.String() {
		t.Fatalf("path = %s", gotPath)
	}
	if keys, ok := gotBody["key"].([]any); !ok || len(keys) != 0 {
		t.Fatalf("nil keys must be sent as empty array, got %v", gotBody["key"])
	}
	if gotBody["uss_base_url"] != "http://uss1.example" {
		t.Fatalf("uss_base_url = %v", gotBody["uss_base_url"])
	}
	if change.OperationalIntentReference.OVN != "ovn-fresh" {
		t.Fatalf("ovn = %s", change.OperationalIntentReference.OVN)
	}
	if len(change.Subscribers) != 1 || change.Subscribers[0].USSBaseURL != "http://uss2.example" {
		t.Fatalf("subscribers = %+v", change.Subscribers)
	}
}

func TestNonconformingUpdateUsesConformanceScope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"subscribers": [], "operational_intent_reference": {"id": "%s", "state": "Nonconforming", "ovn": "ovn-2"}}`, uuid.New())
	}))
	defer srv.Close()

	tokens := &recordingTokens{}
	c := newClient(srv.URL, tokens)
	_, err := c.UpdateOperationalIntent(context.Background(), uuid.New(), "ovn-1",
		[]domain.AreaOfInterest{testArea()}, nil, domain.StateNonconforming, domain.FlightVLOS, inlineSubscription())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(tokens.scopes) != 1 || tokens.scopes[0] != auth.ScopeConformanceMonitoring {
		t.Fatalf("scopes = %v", tokens.scopes)
	}
}

func TestActivateUpdateUsesStrategicScope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"subscribers": [], "operational_intent_reference": {"id": "%s", "state": "Activated", "ovn": "ovn-2"}}`, uuid.New())
	}))
	defer srv.Close()

	tokens := &recordingTokens{}
	c := newClient(srv.URL, tokens)
	_, err := c.UpdateOperationalIntent(context.Background(), uuid.New(), "ovn-1",
		[]domain.AreaOfInterest{testArea()}, []string{"key-1"}, domain.StateActivated, domain.FlightVLOS, inlineSubscription())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(tokens.scopes) != 1 || tokens.scopes[0] != auth.ScopeStrategicCoordination {
		t.Fatalf("scopes = %v", tokens.scopes)
	}
}

func TestRegistryConflictPreserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message": "missing OVNs", "missing_operational_intents": []}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL, &recordingTokens{})
	_, err := c.CreateOperationalIntent(context.Background(), uuid.New(), []domain.AreaOfInterest{testArea()}, nil, domain.FlightVLOS, inlineSubscription())
	var regErr *dss.RegistryError
	if !errors.As(err, &regErr) {
		t.Fatalf("expected RegistryError, got %T: %v", err, err)
	}
	if regErr.Status != http.StatusConflict {
		t.Fatalf("status = %d", regErr.Status)
	}
	var payload map[string]any
	if err := json.Unmarshal(regErr.Body, &payload); err != nil {
		t.Fatalf("body not preserved verbatim: %v", err)
	}
	if payload["message"] != "missing OVNs" {
		t.Fatalf("body = %s", regErr.Body)
	}
}

func TestQueryOperationalIntentReferences(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/operational_intent_references/query" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		fmt.Fprintf(w, `{"operational_intent_references": [{"id": "%s", "manager": "uss2", "ovn": "ovn-x", "uss_base_url": "http://uss2.example"}]}`, id)
	}))
	defer srv.Close()

	c := newClient(srv.URL, &recordingTokens{})
	refs, err := c.QueryOperationalIntentReferences(context.Background(), testArea())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(refs) != 1 || refs[0].ID != id || refs[0].Manager != "uss2" {
		t.Fatalf("refs = %+v", refs)
	}
}

func TestSetAvailability(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/uss_availability/uss1" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"version": "v2", "status": {"uss": "uss1", "availability": "Down"}}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL, &recordingTokens{})
	resp, err := c.SetAvailability(context.Background(), domain.AvailabilityDown, "v1")
	if err != nil {
		t.Fatalf("set availability: %v", err)
	}
	if gotBody["old_version"] != "v1" || gotBody["availability"] != "Down" {
		t.Fatalf("body = %v", gotBody)
	}
	if resp.Version != "v2" || resp.Status.Availability != domain.AvailabilityDown {
		t.Fatalf("resp = %+v", resp)
	}
}
