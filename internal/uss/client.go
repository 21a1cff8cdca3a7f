package uss

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"skylane/internal/auth"
	"skylane/internal/domain"
	"skylane/internal/msglog"
	"skylane/internal/transport"
)

// PeerError wraps a non-expected status from a peer USS.
type PeerError struct {
	BaseURL string
	Status  int
	Body    []byte
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("uss %s: status=%d body=%s", e.BaseURL, e.Status, e.Body)
}

// Client talks to one peer USS. The token audience is the host of the peer's
// advertised base URL.
type Client struct {
	BaseURL string
	HTTP    *transport.Client
}

func New(baseURL string, tokens transport.TokenSource, logw *msglog.Writer) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("uss: invalid peer base url %q: %w", baseURL, err)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("uss: peer base url %q has no host", baseURL)
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    transport.New(host, tokens, logw),
	}, nil
}

// GetOperationalIntent fetches the canonical entity from its owner. The OVN
// in the answer is authoritative; reference summaries from the registry may
// be stale.
func (c *Client) GetOperationalIntent(ctx context.Context, id uuid.UUID) (domain.OperationalIntent, error) {
	var out struct {
		OperationalIntent domain.OperationalIntent `json:"operational_intent"`
	}
	err := c.do(ctx, http.MethodGet, "/uss/v1/operational_intents/"+id.String(), auth.ScopeStrategicCoordination,
		nil, http.StatusOK, &out)
	return out.OperationalIntent, err
}

func (c *Client) GetConstraint(ctx context.Context, id uuid.UUID) (domain.Constraint, error) {
	var out struct {
		Constraint domain.Constraint `json:"constraint"`
	}
	err := c.do(ctx, http.MethodGet, "/uss/v1/constraints/"+id.String(), auth.ScopeConstraintProcessing,
		nil, http.StatusOK, &out)
	return out.Constraint, err
}

type operationalIntentNotification struct {
	OperationalIntentID uuid.UUID                  `json:"operational_intent_id"`
	OperationalIntent   *domain.OperationalIntent  `json:"operational_intent"`
	Subscriptions       []domain.SubscriptionState `json:"subscriptions"`
}

// NotifyOperationalIntent tells the peer an entity changed. A nil intent
// signals deletion.
func (c *Client) NotifyOperationalIntent(ctx context.Context, subs []domain.SubscriptionState, id uuid.UUID, intent *domain.OperationalIntent) error {
	body := operationalIntentNotification{
		OperationalIntentID: id,
		OperationalIntent:   intent,
		Subscriptions:       subs,
	}
	return c.do(ctx, http.MethodPost, "/uss/v1/operational_intents", auth.ScopeStrategicCoordination,
		body, http.StatusNoContent, nil)
}

type constraintNotification struct {
	ConstraintID  uuid.UUID                  `json:"constraint_id"`
	Constraint    *domain.Constraint         `json:"constraint"`
	Subscriptions []domain.SubscriptionState `json:"subscriptions"`
}

func (c *Client) NotifyConstraint(ctx context.Context, subs []domain.SubscriptionState, id uuid.UUID, constraint *domain.Constraint) error {
	body := constraintNotification{
		ConstraintID:  id,
		Constraint:    constraint,
		Subscriptions: subs,
	}
	return c.do(ctx, http.MethodPost, "/uss/v1/constraints", auth.ScopeConstraintProcessing,
		body, http.StatusNoContent, nil)
}

func (c *Client) SubmitReport(ctx context.Context, exchange domain.Exchange) (domain.Report, error) {
	var out domain.Report
	err := c.do(ctx, http.MethodPost, "/uss/v1/reports", auth.ScopeConformanceMonitoring,
		domain.Report{Exchange: exchange}, http.StatusCreated, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path, scope string, body any, expect int, out any) error {
	resp, err := c.HTTP.Do(ctx, method, c.BaseURL+path, scope, body)
	if err != nil {
		return err
	}
	if resp.Status != expect {
		return &PeerError{BaseURL: c.BaseURL, Status: resp.Status, Body: resp.Body}
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return fmt.Errorf("uss: decode %s %s: %w", method, path, err)
		}
	}
	return nil
}
