package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"meritline/internal/allocate"
	"meritline/internal/engine"
	"meritline/internal/lifecycle"
	"meritline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"illegal_transition"`
	Message string         `json:"message" example:"illegal final transition pending -> finalized"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Meritline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// schema-level failures are 400, not policy failures
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Meritline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerItems(group, cfg.Engine)
	registerDecisions(group, cfg.Engine)
	registerContributions(group, cfg.Engine)
	registerTimeline(group, cfg.Engine)
	registerOrgs(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps the engine's rejection taxonomy onto HTTP statuses.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var unauthorized engine.UnauthorizedRoleError
	if errors.As(err, &unauthorized) {
		return newAPIError(http.StatusForbidden, "unauthorized_role", err.Error(), map[string]any{"role": unauthorized.Role})
	}
	var illegal engine.IllegalTransitionError
	if errors.As(err, &illegal) {
		return newAPIError(http.StatusConflict, "illegal_transition", err.Error(), map[string]any{
			"track": illegal.Track, "from": illegal.From, "to": illegal.To,
		})
	}
	var needJust engine.JustificationRequiredError
	if errors.As(err, &needJust) {
		return newAPIError(http.StatusUnprocessableEntity, "justification_required", err.Error(), map[string]any{"role": needJust.Role})
	}
	var stale engine.StaleStateError
	if errors.As(err, &stale) {
		return newAPIError(http.StatusConflict, "stale_state", err.Error(), map[string]any{"work_item_id": stale.WorkItemID})
	}
	var invalidAlloc allocate.InvalidAllocationError
	if errors.As(err, &invalidAlloc) {
		return newAPIError(http.StatusBadRequest, "invalid_allocation", err.Error(), nil)
	}
	var invalid engine.ValidationError
	if errors.As(err, &invalid) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var storage engine.StorageUnavailableError
	if errors.As(err, &storage) {
		return newAPIError(http.StatusServiceUnavailable, "storage_unavailable", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "storage_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Meritline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
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

func registerItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-item",
		Method:        http.MethodPost,
		Path:          "/items",
		Summary:       "Submit a work item",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body SubmitRequest `json:"body"`
	}) (*struct {
		Body WorkItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		orgID := ""
		if e.Config != nil {
			orgID = e.Config.Org.ID
		}
		opts := engine.SubmitOptions{
			Kind:          input.Body.Kind,
			OrgID:         orgID,
			ActorID:       actorID,
			Title:         input.Body.Title,
			Description:   stringOrEmpty(input.Body.Description),
			Domain:        stringOrEmpty(input.Body.Domain),
			RateCents:     input.Body.RateCents,
			Collaborators: input.Body.Collaborators,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		w, err := e.Submit(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemResponse `json:"body"`
		}{Body: workItemResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/items",
		Summary:     "List work items",
	}, func(ctx context.Context, input *struct {
		Kind      string `query:"kind"`
		OwnerID   string `query:"owner_id"`
		Domain    string `query:"domain"`
		FirstLine string `query:"first_line"`
		Final     string `query:"final"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []WorkItemResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		orgID := ""
		if e.Config != nil {
			orgID = e.Config.Org.ID
		}
		items, err := e.Repo.ListWorkItems(ctx, repo.WorkItemFilter{
			OrgID:     orgID,
			Kind:      input.Kind,
			OwnerID:   input.OwnerID,
			Domain:    input.Domain,
			FirstLine: input.FirstLine,
			Final:     input.Final,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []WorkItemResponse `json:"body"`
		}{Body: mapWorkItems(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}",
		Summary:     "Get a work item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct {
		Body WorkItemResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		w, err := e.Repo.GetWorkItem(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemResponse `json:"body"`
		}{Body: workItemResponse(w)}, nil
	})
}

func registerDecisions(api huma.API, e engine.Engine) {
	decisionErrors := []int{
		http.StatusBadRequest,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusUnprocessableEntity,
		http.StatusServiceUnavailable,
	}

	huma.Register(api, huma.Operation{
		OperationID: "review-item",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/review",
		Summary:     "Record a first-line decision",
		Errors:      decisionErrors,
	}, func(ctx context.Context, input *struct {
		ItemID string        `path:"item_id"`
		Body   ReviewRequest `json:"body"`
	}) (*struct {
		Body WorkItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.Apply(ctx, engine.TransitionRequest{
			WorkItemID:    input.ItemID,
			Track:         lifecycle.TrackFirstLine,
			Target:        lifecycle.Status(input.Body.Decision),
			ActorID:       actorID,
			Justification: stringOrEmpty(input.Body.Justification),
			Note:          stringOrEmpty(input.Body.Note),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemResponse `json:"body"`
		}{Body: workItemResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-item",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/decision",
		Summary:     "Record a final decision",
		Errors:      decisionErrors,
	}, func(ctx context.Context, input *struct {
		ItemID string        `path:"item_id"`
		Body   ReviewRequest `json:"body"`
	}) (*struct {
		Body WorkItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.Apply(ctx, engine.TransitionRequest{
			WorkItemID:    input.ItemID,
			Track:         lifecycle.TrackFinal,
			Target:        lifecycle.Status(input.Body.Decision),
			ActorID:       actorID,
			Justification: stringOrEmpty(input.Body.Justification),
			Note:          stringOrEmpty(input.Body.Note),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemResponse `json:"body"`
		}{Body: workItemResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-item",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/finalize",
		Summary:     "Finalize an approved item and settle payouts",
		Errors:      decisionErrors,
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
		Body   struct {
			Justification *string `json:"justification,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body WorkItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.Apply(ctx, engine.TransitionRequest{
			WorkItemID:    input.ItemID,
			Track:         lifecycle.TrackFinal,
			Target:        lifecycle.FinalFinalized,
			ActorID:       actorID,
			Justification: stringOrEmpty(input.Body.Justification),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemResponse `json:"body"`
		}{Body: workItemResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "override-item",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/override",
		Summary:     "Resolve a first-line rejection by override",
		Errors:      decisionErrors,
	}, func(ctx context.Context, input *struct {
		ItemID string       `path:"item_id"`
		Body   OverrideBody `json:"body"`
	}) (*struct {
		Body WorkItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.Override(ctx, engine.OverrideRequest{
			WorkItemID:    input.ItemID,
			ActorID:       actorID,
			Resolution:    lifecycle.Status(input.Body.Resolution),
			Justification: stringOrEmpty(input.Body.Justification),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemResponse `json:"body"`
		}{Body: workItemResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-revision",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/revision",
		Summary:     "Request a revision of a rejected item",
		Errors:      decisionErrors,
	}, func(ctx context.Context, input *struct {
		ItemID string          `path:"item_id"`
		Body   RevisionRequest `json:"body"`
	}) (*struct {
		Body WorkItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.RequestRevision(ctx, input.ItemID, actorID, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemResponse `json:"body"`
		}{Body: workItemResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-item-rate",
		Method:      http.MethodPut,
		Path:        "/items/{item_id}/rate",
		Summary:     "Change the payable rate",
		Errors:      decisionErrors,
	}, func(ctx context.Context, input *struct {
		ItemID string      `path:"item_id"`
		Body   RateRequest `json:"body"`
	}) (*struct {
		Body WorkItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.SetRate(ctx, input.ItemID, actorID, input.Body.RateCents, stringOrEmpty(input.Body.Justification))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemResponse `json:"body"`
		}{Body: workItemResponse(w)}, nil
	})
}

func registerContributions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "assign-contributions",
		Method:      http.MethodPut,
		Path:        "/items/{item_id}/contributions",
		Summary:     "Assign collaborator weights",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ItemID string                     `path:"item_id"`
		Body   AssignContributionsRequest `json:"body"`
	}) (*struct {
		Body []ContributionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		weights := make([]engine.ContributionWeight, 0, len(input.Body.Contributions))
		for _, c := range input.Body.Contributions {
			weights = append(weights, engine.ContributionWeight{
				CollaboratorID: c.CollaboratorID,
				Weight:         c.Weight,
				Note:           stringOrEmpty(c.Note),
			})
		}
		contribs, err := e.AssignContributions(ctx, input.ItemID, actorID, weights)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ContributionResponse `json:"body"`
		}{Body: mapContributions(contribs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contributions",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}/contributions",
		Summary:     "List contributions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct {
		Body []ContributionResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetWorkItem(ctx, input.ItemID); err != nil {
			return nil, handleError(err)
		}
		contribs, err := e.Repo.ListContributions(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ContributionResponse `json:"body"`
		}{Body: mapContributions(contribs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-contribution",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/contributions/{collaborator_id}/verify",
		Summary:     "Verify a contribution",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ItemID         string `path:"item_id"`
		CollaboratorID string `path:"collaborator_id"`
	}) (*struct {
		Body []ContributionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.VerifyContribution(ctx, input.ItemID, input.CollaboratorID, actorID); err != nil {
			return nil, handleError(err)
		}
		contribs, err := e.Repo.ListContributions(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ContributionResponse `json:"body"`
		}{Body: mapContributions(contribs)}, nil
	})
}

func registerTimeline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "item-timeline",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}/timeline",
		Summary:     "Reconstruct the audit timeline of an item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct {
		Body []AuditEventResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		events, err := e.Timeline(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AuditEventResponse `json:"body"`
		}{Body: mapAuditEvents(events)}, nil
	})
}

func registerOrgs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-org",
		Method:        http.MethodPost,
		Path:          "/orgs",
		Summary:       "Create organization",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateOrgRequest `json:"body"`
	}) (*struct {
		Body OrgResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.InitOrg(ctx, input.Body.ID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrgResponse `json:"body"`
		}{Body: orgResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-org",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}",
		Summary:     "Get organization",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body OrgResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		o, err := e.Repo.GetOrg(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrgResponse `json:"body"`
		}{Body: orgResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/grants",
		Summary:     "Grant a role to an actor",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		OrgID string       `path:"org_id"`
		Body  GrantRequest `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetOrg(ctx, input.OrgID); err != nil {
			return nil, handleError(err)
		}
		if err := e.Grant(ctx, input.OrgID, input.Body.ActorID, input.Body.Role, input.Body.Domains); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "granted"}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
	}, func(ctx context.Context, input *struct {
		Action string `query:"action"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []AuditEventResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		orgID := ""
		if e.Config != nil {
			orgID = e.Config.Org.ID
		}
		events, err := e.Repo.ListAuditEvents(ctx, orgID, input.Action, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AuditEventResponse `json:"body"`
		}{Body: mapAuditEvents(events)}, nil
	})
}
