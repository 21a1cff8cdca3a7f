package uss_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"skylane/internal/domain"
	"skylane/internal/uss"
)

type recordingTokens struct {
	audiences []string
}

func (r *recordingTokens) GetToken(ctx context.Context, audience, scope string) (string, error) {
	r.audiences = append(r.audiences, audience)
	return "tok", nil
}

func (r *recordingTokens) RefreshToken(ctx context.Context, audience, scope string) error {
	return nil
}

func TestNewRejectsHostlessURL(t *testing.T) {
	if _, err := uss.New("not a url at all\x00", &recordingTokens{}, nil); err == nil {
		t.Fatalf("expected error for unparsable url")
	}
	if _, err := uss.New("/just/a/path", &recordingTokens{}, nil); err == nil {
		t.Fatalf("expected error for url without host")
	}
}

func TestAudienceIsPeerHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"operational_intent": {"reference": {"id": "%s"}}}`, uuid.New())
	}))
	defer srv.Close()

	tokens := &recordingTokens{}
	c, err := uss.New(srv.URL, tokens, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.GetOperationalIntent(context.Background(), uuid.New()); err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(tokens.audiences) != 1 || tokens.audiences[0] != "127.0.0.1" {
		t.Fatalf("audiences = %v", tokens.audiences)
	}
}

func TestGetOperationalIntentUnwrapsEnvelope(t *testing.T) {
	id := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/uss/v1/operational_intents/"+id.String() {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprintf(w, `{"operational_intent": {"reference": {"id": "%s", "state": "Activated", "ovn": "ovn-live"}, "details": {"volumes": [], "off_nominal_volumes": [], "priority": 1}}}`, id)
	}))
	defer srv.Close()

	c, err := uss.New(srv.URL, &recordingTokens{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	intent, err := c.GetOperationalIntent(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if intent.Reference.ID != id || intent.Reference.OVN != "ovn-live" || intent.Reference.State != domain.StateActivated {
		t.Fatalf("intent = %+v", intent.Reference)
	}
}

func TestNotifyOperationalIntentDeletion(t *testing.T) {
	id := uuid.New()
	subID := uuid.New()
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/uss/v1/operational_intents" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := uss.New(srv.URL, &recordingTokens{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	subs := []domain.SubscriptionState{{SubscriptionID: subID, NotificationIndex: 4}}
	if err := c.NotifyOperationalIntent(context.Background(), subs, id, nil); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if gotBody["operational_intent_id"] != id.String() {
		t.Fatalf("operational_intent_id = %v", gotBody["operational_intent_id"])
	}
	if _, present := gotBody["operational_intent"]; !present || gotBody["operational_intent"] != nil {
		t.Fatalf("deletion must carry a null operational_intent, got %v", gotBody["operational_intent"])
	}
}

func TestPeerErrorPreservesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message": "unknown entity"}`))
	}))
	defer srv.Close()

	c, err := uss.New(srv.URL, &recordingTokens{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.GetConstraint(context.Background(), uuid.New())
	var peerErr *uss.PeerError
	if !errors.As(err, &peerErr) {
		t.Fatalf("expected PeerError, got %T: %v", err, err)
	}
	if peerErr.Status != http.StatusNotFound || string(peerErr.Body) != `{"message": "unknown entity"}` {
		t.Fatalf("peer error = %+v", peerErr)
	}
}

func TestSubmitReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/uss/v1/reports" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var report domain.Report
		json.NewDecoder(r.Body).Decode(&report)
		report.ReportID = uuid.NewString()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(report)
	}))
	defer srv.Close()

	c, err := uss.New(srv.URL, &recordingTokens{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	exchange := domain.Exchange{
		URL:          "http://uss2.example/uss/v1/operational_intents",
		Method:       http.MethodPost,
		RecorderRole: "Client",
		RequestTime:  domain.NewTimePoint(time.Now()),
		ResponseCode: 500,
		Problem:      "peer returned an internal error",
	}
	report, err := c.SubmitReport(context.Background(), exchange)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if report.ReportID == "" {
		t.Fatalf("expected assigned report id")
	}
	if report.Exchange.Problem != exchange.Problem {
		t.Fatalf("exchange not echoed: %+v", report.Exchange)
	}
}
