package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"skylane/internal/auth"
	"skylane/internal/coordinator"
	"skylane/internal/dss"
	"skylane/internal/msglog"
	"skylane/internal/store"
	"skylane/internal/transport"
	"skylane/internal/uss"
)

// Config for the HTTP handler: the operator management API plus the peer
// wire protocol under /uss/v1.
type Config struct {
	Coordinator *coordinator.Coordinator
	Store       store.Store
	Log         *msglog.Writer
	BasePath    string
	Auth        AuthConfig
}

// apiError models the {message, data} error envelope.
type apiError struct {
	status  int
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

func newAPIError(status int, message string, data any) huma.StatusError {
	return &apiError{status: status, Message: message, Data: data}
}

// New returns the HTTP handler for one USS node.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var data any
		if len(errs) > 0 {
			data = map[string]any{"errors": errs}
		}
		return newAPIError(status, msg, data)
	}

	router := chi.NewRouter()
	router.Use(newPeerAuthMiddleware(cfg.Auth))
	hcfg := huma.DefaultConfig("Skylane USS API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "/docs"
	api := humachi.New(router, hcfg)

	registerHealth(api)
	registerPeerAPI(api, cfg)
	group := api
	if basePath != "" {
		group = huma.NewGroup(api, basePath)
	}
	registerFlightPlans(group, cfg.Coordinator)
	registerConstraints(group, cfg.Coordinator)
	registerSubscriptions(group, cfg.Coordinator)
	registerAvailability(group, cfg.Coordinator)
	registerReports(group, cfg.Coordinator)
	registerMessages(group, cfg.Log)

	return router, nil
}

// handleError maps coordinator and transport failures onto the envelope.
// Upstream rejections keep their original status and body.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var conflict *coordinator.ConflictError
	if errors.As(err, &conflict) {
		return newAPIError(http.StatusConflict, conflict.Error(), map[string]any{
			"constraints":         conflict.Constraints,
			"operational_intents": conflict.OperationalIntents,
		})
	}
	var precondition *coordinator.PreconditionError
	if errors.As(err, &precondition) {
		return newAPIError(http.StatusConflict, precondition.Error(), nil)
	}
	if errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, err.Error(), nil)
	}
	if errors.Is(err, dss.ErrSubscriptionTarget) {
		return newAPIError(http.StatusBadRequest, err.Error(), nil)
	}
	var registry *dss.RegistryError
	if errors.As(err, &registry) {
		return newAPIError(registry.Status, "registry rejected the request", upstreamData(registry.Body))
	}
	var peer *uss.PeerError
	if errors.As(err, &peer) {
		return newAPIError(peer.Status, "peer rejected the request", upstreamData(peer.Body))
	}
	var authErr *auth.AuthenticationError
	if errors.As(err, &authErr) {
		return newAPIError(http.StatusUnauthorized, "could not obtain an access token", map[string]any{
			"status": authErr.Status,
			"body":   authErr.Body,
		})
	}
	var unavailable *transport.ServiceUnavailableError
	if errors.As(err, &unavailable) {
		return newAPIError(http.StatusServiceUnavailable, unavailable.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, err.Error(), nil)
}

// upstreamData keeps the upstream body verbatim, as parsed JSON when it is
// JSON.
func upstreamData(body []byte) any {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err == nil {
		return parsed
	}
	return string(body)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}
