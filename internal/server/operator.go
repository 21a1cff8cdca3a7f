package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"skylane/internal/coordinator"
	"skylane/internal/domain"
	"skylane/internal/dss"
	"skylane/internal/msglog"
)

// FlightPlanRequest is the operator's ask: one area plus flight metadata.
type FlightPlanRequest struct {
	AreaOfInterest domain.AreaOfInterest `json:"area_of_interest"`
	FlightType     domain.FlightType     `json:"flight_type,omitempty" enum:"VLOS,BVLOS"`
	Priority       int                   `json:"priority,omitempty"`
}

type flightPlanBody struct {
	Body domain.OperationalIntent `json:"body"`
}

func registerFlightPlans(api huma.API, c *coordinator.Coordinator) {
	create := func(tolerate bool) func(ctx context.Context, input *struct {
		Body FlightPlanRequest `json:"body"`
	}) (*flightPlanBody, error) {
		return func(ctx context.Context, input *struct {
			Body FlightPlanRequest `json:"body"`
		}) (*flightPlanBody, error) {
			intent, err := c.CreateOperationalIntent(ctx, input.Body.AreaOfInterest, coordinator.CreateOptions{
				TolerateConflicts: tolerate,
				FlightType:        input.Body.FlightType,
				Priority:          input.Body.Priority,
			})
			if err != nil {
				return nil, handleError(err)
			}
			return &flightPlanBody{Body: intent}, nil
		}
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-flight-plan",
		Method:        http.MethodPut,
		Path:          "/flight_plans",
		Summary:       "Create flight plan",
		Description:   "Registers an operational intent; refused when anything overlaps the area.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusConflict, http.StatusServiceUnavailable},
	}, create(false))

	huma.Register(api, huma.Operation{
		OperationID:   "create-flight-plan-with-conflicts",
		Method:        http.MethodPut,
		Path:          "/flight_plans/with_conflict",
		Summary:       "Create flight plan tolerating conflicts",
		Description:   "Resolves overlapping entities into conflict keys and submits them with the create.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusConflict, http.StatusServiceUnavailable},
	}, create(true))

	huma.Register(api, huma.Operation{
		OperationID: "list-flight-plans",
		Method:      http.MethodGet,
		Path:        "/flight_plans",
		Summary:     "List flight plans",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.OperationalIntent `json:"body"`
	}, error) {
		items, err := c.ListOperationalIntents(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.OperationalIntent{}
		}
		return &struct {
			Body []domain.OperationalIntent `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-flight-plan",
		Method:      http.MethodGet,
		Path:        "/flight_plans/{id}",
		Summary:     "Get flight plan",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*flightPlanBody, error) {
		id, err := uuid.Parse(input.ID)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid flight plan id", nil)
		}
		intent, err := c.GetOperationalIntent(ctx, id)
		if err != nil {
			return nil, handleError(err)
		}
		return &flightPlanBody{Body: intent}, nil
	})

	transition := func(fn func(context.Context, uuid.UUID) (domain.OperationalIntent, error)) func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*flightPlanBody, error) {
		return func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*flightPlanBody, error) {
			id, err := uuid.Parse(input.ID)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "invalid flight plan id", nil)
			}
			intent, err := fn(ctx, id)
			if err != nil {
				return nil, handleError(err)
			}
			return &flightPlanBody{Body: intent}, nil
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "activate-flight-plan",
		Method:      http.MethodPost,
		Path:        "/flight_plans/{id}/activate",
		Summary:     "Activate flight plan",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, transition(c.ActivateOperationalIntent))

	huma.Register(api, huma.Operation{
		OperationID: "flight-plan-nonconforming",
		Method:      http.MethodPost,
		Path:        "/flight_plans/{id}/nonconforming",
		Summary:     "Mark flight plan nonconforming",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, transition(c.MarkNonconforming))

	huma.Register(api, huma.Operation{
		OperationID: "update-flight-plan",
		Method:      http.MethodPatch,
		Path:        "/flight_plans/{id}",
		Summary:     "Update flight plan extents",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Volumes           []domain.AreaOfInterest `json:"volumes"`
			OffNominalVolumes []domain.AreaOfInterest `json:"off_nominal_volumes,omitempty"`
			Priority          int                     `json:"priority,omitempty"`
		} `json:"body"`
	}) (*flightPlanBody, error) {
		id, err := uuid.Parse(input.ID)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid flight plan id", nil)
		}
		intent, err := c.UpdateOperationalIntent(ctx, id, domain.OperationalIntentDetails{
			Volumes:           input.Body.Volumes,
			OffNominalVolumes: input.Body.OffNominalVolumes,
			Priority:          input.Body.Priority,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &flightPlanBody{Body: intent}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-flight-plan",
		Method:        http.MethodDelete,
		Path:          "/flight_plans/{id}",
		Summary:       "Delete flight plan",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		id, err := uuid.Parse(input.ID)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid flight plan id", nil)
		}
		if err := c.DeleteOperationalIntent(ctx, id); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "preview-conflicts",
		Method:      http.MethodPost,
		Path:        "/flight_plans/conflicts",
		Summary:     "Preview conflicting volumes",
		Description: "Read-only: lists the volumes currently claimed over the area.",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body struct {
			AreaOfInterest domain.AreaOfInterest `json:"area_of_interest"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			Volumes []domain.AreaOfInterest `json:"volumes"`
		} `json:"body"`
	}, error) {
		volumes, err := c.ConflictPreview(ctx, input.Body.AreaOfInterest)
		if err != nil {
			return nil, handleError(err)
		}
		if volumes == nil {
			volumes = []domain.AreaOfInterest{}
		}
		resp := &struct {
			Body struct {
				Volumes []domain.AreaOfInterest `json:"volumes"`
			} `json:"body"`
		}{}
		resp.Body.Volumes = volumes
		return resp, nil
	})
}

func registerConstraints(api huma.API, c *coordinator.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-constraint",
		Method:        http.MethodPut,
		Path:          "/constraints",
		Summary:       "Create constraint",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body struct {
			AreasOfInterest []domain.AreaOfInterest `json:"areas_of_interest"`
		} `json:"body"`
	}) (*struct {
		Body domain.Constraint `json:"body"`
	}, error) {
		constraint, err := c.CreateConstraint(ctx, input.Body.AreasOfInterest)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Constraint `json:"body"`
		}{Body: constraint}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-constraints",
		Method:      http.MethodGet,
		Path:        "/constraints",
		Summary:     "List constraints",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Constraint `json:"body"`
	}, error) {
		items, err := c.ListConstraints(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Constraint{}
		}
		return &struct {
			Body []domain.Constraint `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-constraint",
		Method:      http.MethodGet,
		Path:        "/constraints/{id}",
		Summary:     "Get constraint",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Constraint `json:"body"`
	}, error) {
		id, err := uuid.Parse(input.ID)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid constraint id", nil)
		}
		constraint, err := c.GetConstraint(ctx, id)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Constraint `json:"body"`
		}{Body: constraint}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-constraint",
		Method:      http.MethodPatch,
		Path:        "/constraints/{id}",
		Summary:     "Update constraint volumes",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			AreasOfInterest []domain.AreaOfInterest `json:"areas_of_interest"`
		} `json:"body"`
	}) (*struct {
		Body domain.Constraint `json:"body"`
	}, error) {
		id, err := uuid.Parse(input.ID)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid constraint id", nil)
		}
		constraint, err := c.UpdateConstraint(ctx, id, input.Body.AreasOfInterest)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Constraint `json:"body"`
		}{Body: constraint}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-constraint",
		Method:        http.MethodDelete,
		Path:          "/constraints/{id}",
		Summary:       "Delete constraint",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		id, err := uuid.Parse(input.ID)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid constraint id", nil)
		}
		if err := c.DeleteConstraint(ctx, id); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerSubscriptions(api huma.API, c *coordinator.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-subscription",
		Method:        http.MethodPut,
		Path:          "/subscriptions",
		Summary:       "Create area subscription",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body struct {
			AreaOfInterest domain.AreaOfInterest `json:"area_of_interest"`
		} `json:"body"`
	}) (*struct {
		Body domain.Subscription `json:"body"`
	}, error) {
		sub, err := c.CreateSubscription(ctx, input.Body.AreaOfInterest)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Subscription `json:"body"`
		}{Body: sub}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-subscription",
		Method:      http.MethodGet,
		Path:        "/subscriptions/{id}",
		Summary:     "Get subscription",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Subscription `json:"body"`
	}, error) {
		id, err := uuid.Parse(input.ID)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid subscription id", nil)
		}
		sub, err := c.GetSubscription(ctx, id)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Subscription `json:"body"`
		}{Body: sub}, nil
	})
}

func registerAvailability(api huma.API, c *coordinator.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID: "set-availability",
		Method:      http.MethodPost,
		Path:        "/availability",
		Summary:     "Declare USS availability",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Availability domain.Availability `json:"availability" enum:"Unknown,Normal,Down"`
		} `json:"body"`
	}) (*struct {
		Body dss.AvailabilityResponse `json:"body"`
	}, error) {
		res, err := c.SetAvailability(ctx, input.Body.Availability)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body dss.AvailabilityResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerReports(api huma.API, c *coordinator.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-report",
		Method:        http.MethodPost,
		Path:          "/reports",
		Summary:       "Submit exchange report",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Exchange domain.Exchange `json:"exchange"`
		} `json:"body"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		report, err := c.SubmitReport(ctx, input.Body.Exchange)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: report}, nil
	})
}

func registerMessages(api huma.API, logw *msglog.Writer) {
	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/messages",
		Summary:     "Recent message log entries",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []msglog.Entry `json:"body"`
	}, error) {
		items, err := logw.Latest(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []msglog.Entry{}
		}
		return &struct {
			Body []msglog.Entry `json:"body"`
		}{Body: items}, nil
	})
}
