package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TimePoint is a timestamp plus the format tag the DSS wire protocol expects.
type TimePoint struct {
	Value  time.Time `json:"value" format:"date-time"`
	Format string    `json:"format"`
}

// NewTimePoint returns a TimePoint in the standard RFC3339 wire format.
func NewTimePoint(t time.Time) TimePoint {
	return TimePoint{Value: t.UTC(), Format: "RFC3339"}
}

// AreaOfInterest is an opaque 4D volume claim. The volume payload is never
// inspected locally; it is passed through to the DSS as-is.
type AreaOfInterest struct {
	Volume    json.RawMessage `json:"volume"`
	TimeStart TimePoint       `json:"time_start"`
	TimeEnd   TimePoint       `json:"time_end"`
}

type OperationalIntentState string

const (
	StateAccepted      OperationalIntentState = "Accepted"
	StateActivated     OperationalIntentState = "Activated"
	StateNonconforming OperationalIntentState = "Nonconforming"
	StateDeleted       OperationalIntentState = "Deleted"
)

type FlightType string

const (
	FlightVLOS  FlightType = "VLOS"
	FlightBVLOS FlightType = "BVLOS"
)

// OperationalIntentReference is the DSS-owned record for an operational
// intent. The OVN returned by the most recent successful DSS call is the only
// valid token for the next mutating call on the entity.
type OperationalIntentReference struct {
	ID              uuid.UUID              `json:"id"`
	FlightType      FlightType             `json:"flight_type"`
	Manager         string                 `json:"manager"`
	USSAvailability string                 `json:"uss_availability"`
	Version         int                    `json:"version"`
	State           OperationalIntentState `json:"state"`
	OVN             string                 `json:"ovn"`
	TimeStart       TimePoint              `json:"time_start"`
	TimeEnd         TimePoint              `json:"time_end"`
	USSBaseURL      string                 `json:"uss_base_url"`
	SubscriptionID  uuid.UUID              `json:"subscription_id"`
}

// OperationalIntentDetails is the USS-local payload, stored only here and
// served to peers on request.
type OperationalIntentDetails struct {
	Volumes           []AreaOfInterest `json:"volumes"`
	OffNominalVolumes []AreaOfInterest `json:"off_nominal_volumes"`
	Priority          int              `json:"priority"`
}

// OperationalIntent is the aggregate the lifecycle coordinator manipulates:
// the DSS is authoritative for Reference, the local store for Details.
type OperationalIntent struct {
	Reference OperationalIntentReference `json:"reference"`
	Details   OperationalIntentDetails   `json:"details"`
}

type ConstraintReference struct {
	ID              uuid.UUID `json:"id"`
	Manager         string    `json:"manager"`
	USSAvailability string    `json:"uss_availability"`
	Version         int       `json:"version"`
	State           string    `json:"state"`
	OVN             string    `json:"ovn"`
	TimeStart       TimePoint `json:"time_start"`
	TimeEnd         TimePoint `json:"time_end"`
	USSBaseURL      string    `json:"uss_base_url"`
	SubscriptionID  uuid.UUID `json:"subscription_id"`
}

type ConstraintDetails struct {
	Volumes []AreaOfInterest `json:"volumes"`
	Type    string           `json:"type"`
	Geozone json.RawMessage  `json:"geozone,omitempty"`
}

type Constraint struct {
	Reference ConstraintReference `json:"reference"`
	Details   ConstraintDetails   `json:"details"`
}

// SubscriptionState identifies one subscription held by a subscriber together
// with its strictly increasing notification index.
type SubscriptionState struct {
	SubscriptionID    uuid.UUID `json:"subscription_id"`
	NotificationIndex int       `json:"notification_index"`
}

// Subscriber is one peer USS the DSS tells us to notify after a write.
type Subscriber struct {
	USSBaseURL    string              `json:"uss_base_url"`
	Subscriptions []SubscriptionState `json:"subscriptions"`
}

// NewSubscription is an inline subscription creation request attached to an
// entity write.
type NewSubscription struct {
	USSBaseURL           string `json:"uss_base_url"`
	NotifyForConstraints bool   `json:"notify_for_constraints"`
}

// SubscriptionTarget says which subscription an entity write is tied to:
// either an existing subscription id or an inline creation request, never
// both and never neither. The zero value is invalid and is rejected by the
// DSS client before any network call.
type SubscriptionTarget struct {
	existing *uuid.UUID
	inline   *NewSubscription
}

// SubscribeExisting targets an existing subscription by id.
func SubscribeExisting(id uuid.UUID) SubscriptionTarget {
	return SubscriptionTarget{existing: &id}
}

// SubscribeInline requests creation of a new subscription with the write.
func SubscribeInline(sub NewSubscription) SubscriptionTarget {
	return SubscriptionTarget{inline: &sub}
}

func (t SubscriptionTarget) Existing() (uuid.UUID, bool) {
	if t.existing == nil {
		return uuid.UUID{}, false
	}
	return *t.existing, true
}

func (t SubscriptionTarget) Inline() (NewSubscription, bool) {
	if t.inline == nil {
		return NewSubscription{}, false
	}
	return *t.inline, true
}

func (t SubscriptionTarget) IsZero() bool {
	return t.existing == nil && t.inline == nil
}

// Subscription is the DSS-owned subscription record.
type Subscription struct {
	ID                          uuid.UUID   `json:"id"`
	NotificationIndex           int         `json:"notification_index"`
	Version                     string      `json:"version"`
	TimeStart                   TimePoint   `json:"time_start"`
	TimeEnd                     TimePoint   `json:"time_end"`
	USSBaseURL                  string      `json:"uss_base_url"`
	NotifyForOperationalIntents bool        `json:"notify_for_operational_intents"`
	NotifyForConstraints        bool        `json:"notify_for_constraints"`
	ImplicitSubscription        bool        `json:"implicit_subscription"`
	DependentOperationalIntents []uuid.UUID `json:"dependent_operational_intents,omitempty"`
}

type Availability string

const (
	AvailabilityUnknown Availability = "Unknown"
	AvailabilityNormal  Availability = "Normal"
	AvailabilityDown    Availability = "Down"
)

// Exchange captures one request/response pair for a conformance report.
type Exchange struct {
	URL          string    `json:"url"`
	Method       string    `json:"method"`
	Headers      []string  `json:"headers"`
	RecorderRole string    `json:"recorder_role"`
	RequestTime  TimePoint `json:"request_time"`
	RequestBody  string    `json:"request_body"`
	ResponseTime TimePoint `json:"response_time"`
	ResponseBody string    `json:"response_body"`
	ResponseCode int       `json:"response_code"`
	Problem      string    `json:"problem,omitempty"`
}

type Report struct {
	ReportID string   `json:"report_id"`
	Exchange Exchange `json:"exchange"`
}
