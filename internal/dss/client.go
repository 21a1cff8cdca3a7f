package dss

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"skylane/internal/auth"
	"skylane/internal/domain"
	"skylane/internal/transport"
)

// Audience is the fixed token audience for registry calls.
const Audience = "core-service"

// RegistryError wraps a non-expected status from the DSS, body preserved
// verbatim so callers can surface the registry's own conflict details.
type RegistryError struct {
	Status int
	Body   []byte
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("dss: status=%d body=%s", e.Status, e.Body)
}

// ErrSubscriptionTarget is returned before any network call when an entity
// write names neither an existing subscription nor an inline one.
var ErrSubscriptionTarget = errors.New("dss: exactly one of subscription id or new subscription is required")

// Client talks to the DSS registry. One instance per process.
type Client struct {
	BaseURL string
	// Domain is this node's public base URL, advertised as uss_base_url in
	// every reference it creates.
	Domain  string
	Manager string
	HTTP    *transport.Client
}

func New(baseURL, domain, manager string, t *transport.Client) *Client {
	return &Client{BaseURL: baseURL, Domain: domain, Manager: manager, HTTP: t}
}

type queryRequest struct {
	AreaOfInterest domain.AreaOfInterest `json:"area_of_interest"`
}

type constraintQueryResponse struct {
	ConstraintReferences []domain.ConstraintReference `json:"constraint_references"`
}

type operationalIntentQueryResponse struct {
	OperationalIntentReferences []domain.OperationalIntentReference `json:"operational_intent_references"`
}

// OperationalIntentChange is the registry's answer to an operational-intent
// write: the updated reference plus the subscribers that must be notified.
type OperationalIntentChange struct {
	Subscribers                []domain.Subscriber               `json:"subscribers"`
	OperationalIntentReference domain.OperationalIntentReference `json:"operational_intent_reference"`
}

// ConstraintChange mirrors OperationalIntentChange for constraints.
type ConstraintChange struct {
	Subscribers         []domain.Subscriber        `json:"subscribers"`
	ConstraintReference domain.ConstraintReference `json:"constraint_reference"`
}

type subscriptionResponse struct {
	Subscription domain.Subscription `json:"subscription"`
}

// AvailabilityStatus is the registry's view of one USS's availability.
type AvailabilityStatus struct {
	USS          string              `json:"uss"`
	Availability domain.Availability `json:"availability"`
}

type AvailabilityResponse struct {
	Version string             `json:"version"`
	Status  AvailabilityStatus `json:"status"`
}

func (c *Client) QueryConstraintReferences(ctx context.Context, area domain.AreaOfInterest) ([]domain.ConstraintReference, error) {
	var out constraintQueryResponse
	err := c.do(ctx, http.MethodPost, "/constraint_references/query", auth.ScopeConstraintProcessing,
		queryRequest{AreaOfInterest: area}, http.StatusOK, &out)
	return out.ConstraintReferences, err
}

func (c *Client) QueryOperationalIntentReferences(ctx context.Context, area domain.AreaOfInterest) ([]domain.OperationalIntentReference, error) {
	var out operationalIntentQueryResponse
	err := c.do(ctx, http.MethodPost, "/operational_intent_references/query", auth.ScopeStrategicCoordination,
		queryRequest{AreaOfInterest: area}, http.StatusOK, &out)
	return out.OperationalIntentReferences, err
}

func (c *Client) GetOperationalIntentReference(ctx context.Context, id uuid.UUID) (domain.OperationalIntentReference, error) {
	var out struct {
		OperationalIntentReference domain.OperationalIntentReference `json:"operational_intent_reference"`
	}
	err := c.do(ctx, http.MethodGet, "/operational_intent_references/"+id.String(), auth.ScopeStrategicCoordination,
		nil, http.StatusOK, &out)
	return out.OperationalIntentReference, err
}

type operationalIntentPut struct {
	Extents         []domain.AreaOfInterest       `json:"extents"`
	Key             []string                      `json:"key"`
	State           domain.OperationalIntentState `json:"state"`
	USSBaseURL      string                        `json:"uss_base_url"`
	SubscriptionID  *uuid.UUID                    `json:"subscription_id,omitempty"`
	NewSubscription *domain.NewSubscription       `json:"new_subscription,omitempty"`
	FlightType      domain.FlightType             `json:"flight_type"`
}

func (c *Client) operationalIntentBody(extents []domain.AreaOfInterest, keys []string, state domain.OperationalIntentState, flightType domain.FlightType, sub domain.SubscriptionTarget) (operationalIntentPut, error) {
	if sub.IsZero() {
		return operationalIntentPut{}, ErrSubscriptionTarget
	}
	if keys == nil {
		keys = []string{}
	}
	body := operationalIntentPut{
		Extents:    extents,
		Key:        keys,
		State:      state,
		USSBaseURL: c.Domain,
		FlightType: flightType,
	}
	if id, ok := sub.Existing(); ok {
		body.SubscriptionID = &id
	}
	if ns, ok := sub.Inline(); ok {
		body.NewSubscription = &ns
	}
	return body, nil
}

// CreateOperationalIntent registers a new reference in state Accepted. keys
// asserts the current OVN of every known conflicting entity; the registry
// rejects the write with a conflict when they are missing or stale.
func (c *Client) CreateOperationalIntent(ctx context.Context, id uuid.UUID, extents []domain.AreaOfInterest, keys []string, flightType domain.FlightType, sub domain.SubscriptionTarget) (OperationalIntentChange, error) {
	var out OperationalIntentChange
	body, err := c.operationalIntentBody(extents, keys, domain.StateAccepted, flightType, sub)
	if err != nil {
		return out, err
	}
	err = c.do(ctx, http.MethodPut, "/operational_intent_references/"+id.String(), auth.ScopeStrategicCoordination,
		body, http.StatusCreated, &out)
	return out, err
}

// UpdateOperationalIntent replaces the reference's extents and state. ovn
// must be the value returned by the most recent successful registry call; a
// transition to Nonconforming is made under the conformance-monitoring scope.
func (c *Client) UpdateOperationalIntent(ctx context.Context, id uuid.UUID, ovn string, extents []domain.AreaOfInterest, keys []string, state domain.OperationalIntentState, flightType domain.FlightType, sub domain.SubscriptionTarget) (OperationalIntentChange, error) {
	var out OperationalIntentChange
	body, err := c.operationalIntentBody(extents, keys, state, flightType, sub)
	if err != nil {
		return out, err
	}
	scope := auth.ScopeStrategicCoordination
	if state == domain.StateNonconforming {
		scope = auth.ScopeConformanceMonitoring
	}
	err = c.do(ctx, http.MethodPut, "/operational_intent_references/"+id.String()+"/"+ovn, scope,
		body, http.StatusOK, &out)
	return out, err
}

func (c *Client) DeleteOperationalIntent(ctx context.Context, id uuid.UUID, ovn string) (OperationalIntentChange, error) {
	var out OperationalIntentChange
	err := c.do(ctx, http.MethodDelete, "/operational_intent_references/"+id.String()+"/"+ovn, auth.ScopeStrategicCoordination,
		nil, http.StatusOK, &out)
	return out, err
}

type constraintPut struct {
	Extents    []domain.AreaOfInterest `json:"extents"`
	USSBaseURL string                  `json:"uss_base_url"`
}

func (c *Client) CreateConstraint(ctx context.Context, id uuid.UUID, extents []domain.AreaOfInterest) (ConstraintChange, error) {
	var out ConstraintChange
	err := c.do(ctx, http.MethodPut, "/constraint_references/"+id.String(), auth.ScopeConstraintManagement,
		constraintPut{Extents: extents, USSBaseURL: c.Domain}, http.StatusCreated, &out)
	return out, err
}

func (c *Client) UpdateConstraint(ctx context.Context, id uuid.UUID, ovn string, extents []domain.AreaOfInterest) (ConstraintChange, error) {
	var out ConstraintChange
	err := c.do(ctx, http.MethodPut, "/constraint_references/"+id.String()+"/"+ovn, auth.ScopeConstraintManagement,
		constraintPut{Extents: extents, USSBaseURL: c.Domain}, http.StatusOK, &out)
	return out, err
}

func (c *Client) DeleteConstraint(ctx context.Context, id uuid.UUID, ovn string) (ConstraintChange, error) {
	var out ConstraintChange
	err := c.do(ctx, http.MethodDelete, "/constraint_references/"+id.String()+"/"+ovn, auth.ScopeConstraintManagement,
		nil, http.StatusOK, &out)
	return out, err
}

type subscriptionPut struct {
	Extents                     domain.AreaOfInterest `json:"extents"`
	USSBaseURL                  string                `json:"uss_base_url"`
	NotifyForOperationalIntents bool                  `json:"notify_for_operational_intents"`
	NotifyForConstraints        bool                  `json:"notify_for_constraints"`
}

func (c *Client) CreateSubscription(ctx context.Context, id uuid.UUID, area domain.AreaOfInterest) (domain.Subscription, error) {
	var out subscriptionResponse
	err := c.do(ctx, http.MethodPut, "/subscriptions/"+id.String(), auth.ScopeConstraintProcessing,
		subscriptionPut{
			Extents:                     area,
			USSBaseURL:                  c.Domain,
			NotifyForOperationalIntents: true,
			NotifyForConstraints:        true,
		}, http.StatusOK, &out)
	return out.Subscription, err
}

func (c *Client) GetSubscription(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	var out subscriptionResponse
	err := c.do(ctx, http.MethodGet, "/subscriptions/"+id.String(), auth.ScopeConstraintProcessing,
		nil, http.StatusOK, &out)
	return out.Subscription, err
}

func (c *Client) SetAvailability(ctx context.Context, availability domain.Availability, oldVersion string) (AvailabilityResponse, error) {
	var out AvailabilityResponse
	body := map[string]any{
		"old_version":  oldVersion,
		"availability": availability,
	}
	err := c.do(ctx, http.MethodPost, "/uss_availability/"+c.Manager, auth.ScopeAvailabilityArbitration,
		body, http.StatusOK, &out)
	return out, err
}

func (c *Client) GetAvailability(ctx context.Context) (AvailabilityResponse, error) {
	var out AvailabilityResponse
	err := c.do(ctx, http.MethodGet, "/uss_availability/"+c.Manager, auth.ScopeAvailabilityArbitration,
		nil, http.StatusOK, &out)
	return out, err
}

func (c *Client) SubmitReport(ctx context.Context, exchange domain.Exchange) (domain.Report, error) {
	var out domain.Report
	err := c.do(ctx, http.MethodPost, "/reports", auth.ScopeConformanceMonitoring,
		domain.Report{Exchange: exchange}, http.StatusCreated, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path, scope string, body any, expect int, out any) error {
	resp, err := c.HTTP.Do(ctx, method, c.BaseURL+path, scope, body)
	if err != nil {
		return err
	}
	if resp.Status != expect {
		return &RegistryError{Status: resp.Status, Body: resp.Body}
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return fmt.Errorf("dss: decode %s %s: %w", method, path, err)
		}
	}
	return nil
}
