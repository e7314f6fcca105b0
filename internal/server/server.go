package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"shiftline/internal/dispatch"
	"shiftline/internal/domain"
	"shiftline/internal/engine"
	"shiftline/internal/ledger"
	"shiftline/internal/repo"
	"shiftline/internal/summary"
)

// Config for the HTTP API handler.
type Config struct {
	Engine     engine.Engine
	Dispatcher *dispatch.Dispatcher
	Ledger     ledger.Service
	Summary    summary.Job
	BasePath   string
	Auth       AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"permission_denied"`
	Message string         `json:"message" example:"permission denied"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Shiftline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Shiftline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerInbound(group, cfg.Dispatcher)
	registerUsers(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerPending(group, cfg.Engine)
	registerBoard(group, cfg.Engine)
	registerReports(group, cfg.Ledger)
	registerSummary(group, cfg.Summary)

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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, engine.ErrPermissionDenied):
		return newAPIError(http.StatusForbidden, "permission_denied", err.Error(), nil)
	case errors.Is(err, engine.ErrValidation):
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusForbidden:
		return "permission_denied"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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

// registerInbound accepts connector webhooks and feeds them to the
// dispatcher.
func registerInbound(api huma.API, d *dispatch.Dispatcher) {
	huma.Register(api, huma.Operation{
		OperationID:   "inbound-event",
		Method:        http.MethodPost,
		Path:          "/events",
		Summary:       "Inbound chat event",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body dispatch.Event `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := d.Handle(ctx, input.Body); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "accepted"}}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List profiles",
	}, func(ctx context.Context, input *struct {
		IncludeHidden bool `query:"include_hidden"`
	}) (*struct {
		Body []domain.Profile `json:"body"`
	}, error) {
		items, err := e.Repo.ListProfiles(ctx, input.IncludeHidden)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Profile `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-user-role",
		Method:      http.MethodPost,
		Path:        "/users/{id}/role",
		Summary:     "Assign role",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Role string `json:"role" enum:"employee,technologist,manager"`
		} `json:"body"`
	}) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetRole(ctx, actorID, input.ID, input.Body.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-user-manager",
		Method:      http.MethodPost,
		Path:        "/users/{id}/manager",
		Summary:     "Assign manager",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			ManagerID string `json:"manager_id"`
		} `json:"body"`
	}) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.AssignManager(ctx, actorID, input.ID, input.Body.ManagerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-user-hidden",
		Method:      http.MethodPost,
		Path:        "/users/{id}/hidden",
		Summary:     "Hide or unhide profile",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Hidden bool `json:"hidden"`
		} `json:"body"`
	}) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.HideProfile(ctx, actorID, input.ID, input.Body.Hidden)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List task catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []string `json:"body"`
	}, error) {
		items, err := e.Repo.ListTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Add catalog task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Name string `json:"name"`
		} `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AddTask(ctx, actorID, input.Body.Name); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"name": input.Body.Name}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{name}",
		Summary:     "Remove catalog task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveTask(ctx, actorID, input.Name); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerPending(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-pending",
		Method:      http.MethodGet,
		Path:        "/pending",
		Summary:     "List moderation queue",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.PendingProposal `json:"body"`
	}, error) {
		items, err := e.Repo.ListPending(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.PendingProposal `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-pending",
		Method:      http.MethodPost,
		Path:        "/pending/{id}/approve",
		Summary:     "Approve proposal",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.PendingProposal `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ApproveProposal(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PendingProposal `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-pending",
		Method:      http.MethodPost,
		Path:        "/pending/{id}/reject",
		Summary:     "Reject proposal",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.PendingProposal `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.RejectProposal(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PendingProposal `json:"body"`
		}{Body: p}, nil
	})
}

func registerBoard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-board",
		Method:      http.MethodGet,
		Path:        "/board",
		Summary:     "List announcements newest-first",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.BoardPost `json:"body"`
	}, error) {
		items, err := e.Repo.ListPosts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.BoardPost `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "publish-post",
		Method:        http.MethodPost,
		Path:          "/board",
		Summary:       "Publish announcement",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Text     string `json:"text"`
			MediaRef string `json:"media_ref,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.BoardPost `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.PublishPost(ctx, actorID, input.Body.Text, input.Body.MediaRef)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.BoardPost `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-reaction",
		Method:      http.MethodPost,
		Path:        "/board/{id}/reactions",
		Summary:     "Toggle reaction",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body struct {
			Emoji string `json:"emoji"`
		} `json:"body"`
	}) (*struct {
		Body domain.BoardPost `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, _, err := e.ToggleReaction(ctx, actorID, input.ID, input.Body.Emoji)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.BoardPost `json:"body"`
		}{Body: p}, nil
	})
}

func registerReports(api huma.API, led ledger.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List report ledger",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Month string `query:"month" example:"2026-02"`
	}) (*struct {
		Body []domain.ReportEntry `json:"body"`
	}, error) {
		var items []domain.ReportEntry
		var err error
		if input.Month != "" {
			first, perr := time.Parse("2006-01", input.Month)
			if perr != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "month must be YYYY-MM", nil)
			}
			items, err = led.EntriesInMonth(ctx, first.Year(), first.Month(), time.UTC)
		} else {
			items, err = led.AllEntries(ctx)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ReportEntry `json:"body"`
		}{Body: items}, nil
	})
}

func registerSummary(api huma.API, job summary.Job) {
	huma.Register(api, huma.Operation{
		OperationID:   "run-summary",
		Method:        http.MethodPost,
		Path:          "/summary/run",
		Summary:       "Run the monthly summary now",
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := job.Run(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "done"}}, nil
	})
}
