package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"skylane/internal/domain"
	"skylane/internal/msglog"
)

// registerPeerAPI exposes the wire protocol other USS nodes consume: entity
// fetch, change notifications and exchange reports, always under /uss/v1.
func registerPeerAPI(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-operational-intent-details",
		Method:      http.MethodGet,
		Path:        "/uss/v1/operational_intents/{entity_id}",
		Summary:     "Operational intent details",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EntityID string `path:"entity_id"`
	}) (*struct {
		Body struct {
			OperationalIntent domain.OperationalIntent `json:"operational_intent"`
		} `json:"body"`
	}, error) {
		id, err := uuid.Parse(input.EntityID)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid entity id", nil)
		}
		intent, err := cfg.Store.GetOperationalIntent(ctx, id)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				OperationalIntent domain.OperationalIntent `json:"operational_intent"`
			} `json:"body"`
		}{}
		resp.Body.OperationalIntent = intent
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-constraint-details",
		Method:      http.MethodGet,
		Path:        "/uss/v1/constraints/{entity_id}",
		Summary:     "Constraint details",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EntityID string `path:"entity_id"`
	}) (*struct {
		Body struct {
			Constraint domain.Constraint `json:"constraint"`
		} `json:"body"`
	}, error) {
		id, err := uuid.Parse(input.EntityID)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid entity id", nil)
		}
		constraint, err := cfg.Store.GetConstraint(ctx, id)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Constraint domain.Constraint `json:"constraint"`
			} `json:"body"`
		}{}
		resp.Body.Constraint = constraint
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "notify-operational-intent",
		Method:        http.MethodPost,
		Path:          "/uss/v1/operational_intents",
		Summary:       "Operational intent change notification",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		Body struct {
			OperationalIntentID uuid.UUID                  `json:"operational_intent_id"`
			OperationalIntent   *domain.OperationalIntent  `json:"operational_intent,omitempty"`
			Subscriptions       []domain.SubscriptionState `json:"subscriptions"`
		} `json:"body"`
	}) (*struct{}, error) {
		recordNotification(ctx, cfg.Log, "operational_intent", input.Body.OperationalIntentID, input.Body.OperationalIntent == nil, input.Body)
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "notify-constraint",
		Method:        http.MethodPost,
		Path:          "/uss/v1/constraints",
		Summary:       "Constraint change notification",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		Body struct {
			ConstraintID  uuid.UUID                  `json:"constraint_id"`
			Constraint    *domain.Constraint         `json:"constraint,omitempty"`
			Subscriptions []domain.SubscriptionState `json:"subscriptions"`
		} `json:"body"`
	}) (*struct{}, error) {
		recordNotification(ctx, cfg.Log, "constraint", input.Body.ConstraintID, input.Body.Constraint == nil, input.Body)
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "receive-report",
		Method:        http.MethodPost,
		Path:          "/uss/v1/reports",
		Summary:       "Receive exchange report",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body domain.Report `json:"body"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		report := input.Body
		report.ReportID = uuid.NewString()
		recordNotification(ctx, cfg.Log, "report", uuid.Nil, false, report)
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: report}, nil
	})
}

// recordNotification appends an inbound peer message to the message log. A
// nil entity payload is a removal.
func recordNotification(ctx context.Context, logw *msglog.Writer, kind string, id uuid.UUID, removed bool, body any) {
	if logw == nil {
		return
	}
	data, _ := json.Marshal(body)
	note := kind
	if id != uuid.Nil {
		note = kind + " " + id.String()
	}
	if removed {
		note += " removed"
	}
	err := logw.Append(ctx, msglog.Entry{
		Direction: msglog.DirIncomingRequest,
		Method:    http.MethodPost,
		URL:       "/uss/v1/" + kind + "s",
		Body:      string(data),
		Note:      note,
	})
	if err != nil {
		log.Printf("msglog: append failed: %v", err)
	}
}
