package deconflict_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"skylane/internal/deconflict"
	"skylane/internal/domain"
	"skylane/internal/dss"
	"skylane/internal/transport"
	"skylane/internal/uss"
)

type staticTokens struct{}

func (staticTokens) GetToken(ctx context.Context, audience, scope string) (string, error) {
	return "tok", nil
}

func (staticTokens) RefreshToken(ctx context.Context, audience, scope string) error {
	return nil
}

func area(tag string) domain.AreaOfInterest {
	return domain.AreaOfInterest{
		Volume:    json.RawMessage(fmt.Sprintf(`{"tag":%q}`, tag)),
		TimeStart: domain.NewTimePoint(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		TimeEnd:   domain.NewTimePoint(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)),
	}
}

// fakePeer serves canonical entities keyed by id, counting fetches.
type fakePeer struct {
	srv     *httptest.Server
	fetches atomic.Int32
	intents map[string]domain.OperationalIntent
	consts  map[string]domain.Constraint
}

func newFakePeer(t *testing.T) *fakePeer {
	t.Helper()
	p := &fakePeer{
		intents: map[string]domain.OperationalIntent{},
		consts:  map[string]domain.Constraint{},
	}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.fetches.Add(1)
		switch {
		case strings.HasPrefix(r.URL.Path, "/uss/v1/operational_intents/"):
			id := strings.TrimPrefix(r.URL.Path, "/uss/v1/operational_intents/")
			intent, ok := p.intents[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"operational_intent": intent})
		case strings.HasPrefix(r.URL.Path, "/uss/v1/constraints/"):
			id := strings.TrimPrefix(r.URL.Path, "/uss/v1/constraints/")
			c, ok := p.consts[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"constraint": c})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(p.srv.Close)
	return p
}

// fakeRegistry answers reference queries with the same references for every
// area, pointing at the peer.
type fakeRegistry struct {
	srv   *httptest.Server
	crefs []domain.ConstraintReference
	orefs []domain.OperationalIntentReference
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	t.Helper()
	reg := &fakeRegistry{}
	reg.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/constraint_references/query":
			json.NewEncoder(w).Encode(map[string]any{"constraint_references": reg.crefs})
		case "/operational_intent_references/query":
			json.NewEncoder(w).Encode(map[string]any{"operational_intent_references": reg.orefs})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(reg.srv.Close)
	return reg
}

func newResolver(reg *fakeRegistry) *deconflict.Resolver {
	registry := dss.New(reg.srv.URL, "http://uss1.example", "uss1", transport.New(dss.Audience, staticTokens{}, nil))
	return &deconflict.Resolver{
		DSS: registry,
		PeerFor: func(baseURL string) (*uss.Client, error) {
			return uss.New(baseURL, staticTokens{}, nil)
		},
	}
}

func TestResolveKeysUsesOwnerOVN(t *testing.T) {
	peer := newFakePeer(t)
	reg := newFakeRegistry(t)

	oiID := uuid.New()
	cID := uuid.New()
	// The registry's reference summaries carry stale OVNs; only the owner's
	// answer counts.
	reg.orefs = []domain.OperationalIntentReference{{ID: oiID, OVN: "stale-oi", USSBaseURL: peer.srv.URL}}
	reg.crefs = []domain.ConstraintReference{{ID: cID, OVN: "stale-c", USSBaseURL: peer.srv.URL}}
	peer.intents[oiID.String()] = domain.OperationalIntent{
		Reference: domain.OperationalIntentReference{ID: oiID, OVN: "fresh-oi"},
	}
	peer.consts[cID.String()] = domain.Constraint{
		Reference: domain.ConstraintReference{ID: cID, OVN: "fresh-c"},
	}

	keys, err := newResolver(reg).ResolveKeys(context.Background(), []domain.AreaOfInterest{area("a")})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"fresh-c", "fresh-oi"}) {
		t.Fatalf("keys = %v", keys)
	}
}

func TestResolveKeysDeduplicatesAcrossAreas(t *testing.T) {
	peer := newFakePeer(t)
	reg := newFakeRegistry(t)

	oiID := uuid.New()
	reg.orefs = []domain.OperationalIntentReference{{ID: oiID, USSBaseURL: peer.srv.URL}}
	peer.intents[oiID.String()] = domain.OperationalIntent{
		Reference: domain.OperationalIntentReference{ID: oiID, OVN: "ovn-shared"},
	}

	keys, err := newResolver(reg).ResolveKeys(context.Background(), []domain.AreaOfInterest{area("a"), area("b")})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"ovn-shared"}) {
		t.Fatalf("keys = %v", keys)
	}
	if peer.fetches.Load() != 1 {
		t.Fatalf("expected a single owner fetch, got %d", peer.fetches.Load())
	}
}

func TestResolveKeysEmptyWithoutOverlaps(t *testing.T) {
	reg := newFakeRegistry(t)
	keys, err := newResolver(reg).ResolveKeys(context.Background(), []domain.AreaOfInterest{area("a")})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("keys = %v", keys)
	}
}

func TestResolveKeysFailsWhenOwnerUnreachable(t *testing.T) {
	reg := newFakeRegistry(t)
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	reg.orefs = []domain.OperationalIntentReference{{ID: uuid.New(), USSBaseURL: deadURL}}
	if _, err := newResolver(reg).ResolveKeys(context.Background(), []domain.AreaOfInterest{area("a")}); err == nil {
		t.Fatalf("expected resolution to fail with an unreachable owner")
	}
}

func TestConflictingVolumesAggregatesOwners(t *testing.T) {
	peer := newFakePeer(t)
	reg := newFakeRegistry(t)

	oiID := uuid.New()
	cID := uuid.New()
	reg.orefs = []domain.OperationalIntentReference{{ID: oiID, USSBaseURL: peer.srv.URL}}
	reg.crefs = []domain.ConstraintReference{{ID: cID, USSBaseURL: peer.srv.URL}}
	peer.intents[oiID.String()] = domain.OperationalIntent{
		Reference: domain.OperationalIntentReference{ID: oiID, OVN: "o"},
		Details: domain.OperationalIntentDetails{
			Volumes:           []domain.AreaOfInterest{area("nominal")},
			OffNominalVolumes: []domain.AreaOfInterest{area("offnominal")},
		},
	}
	peer.consts[cID.String()] = domain.Constraint{
		Reference: domain.ConstraintReference{ID: cID, OVN: "c"},
		Details:   domain.ConstraintDetails{Volumes: []domain.AreaOfInterest{area("constraint")}},
	}

	volumes, err := newResolver(reg).ConflictingVolumes(context.Background(), area("query"))
	if err != nil {
		t.Fatalf("conflicting volumes: %v", err)
	}
	if len(volumes) != 3 {
		t.Fatalf("expected 3 volumes, got %d", len(volumes))
	}
	tags := map[string]bool{}
	for _, v := range volumes {
		var payload struct {
			Tag string `json:"tag"`
		}
		if err := json.Unmarshal(v.Volume, &payload); err != nil {
			t.Fatal(err)
		}
		tags[payload.Tag] = true
	}
	for _, want := range []string{"nominal", "offnominal", "constraint"} {
		if !tags[want] {
			t.Fatalf("missing volume %q in %v", want, tags)
		}
	}
}
