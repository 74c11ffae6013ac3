package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/engine/auth"
	"taskline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"operation task.delete denied"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Taskline API.
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
			// Schema/request validation errors surface as 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Taskline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerComments(group, cfg.Engine)
	registerUsers(group, cfg.Engine)

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
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"operation": string(fe.Op)})
	}
	var te engine.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), map[string]any{
			"from": string(te.From),
			"to":   string(te.To),
		})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{
		"error":      err.Error(),
		"request_id": uuid.NewString(),
	})
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
		return "invalid_transition"
	case http.StatusForbidden:
		return "forbidden"
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

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Task counts by status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if _, authErr := identityFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		counts, err := e.Repo.CountTasksByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"task_counts": counts}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, identity, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Author string `query:"author"`
		From   string `query:"from"`
		To     string `query:"to"`
		Period string `query:"period"`
		Page   int    `query:"page" default:"1"`
	}) (*struct {
		Body TaskPageResponse `json:"body"`
	}, error) {
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, err := e.ListTasks(ctx, identity, engine.TaskQuery{
			Status: input.Status,
			Author: input.Author,
			From:   input.From,
			To:     input.To,
			Period: input.Period,
			Page:   input.Page,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskPageResponse `json:"body"`
		}{Body: pageResponse(page)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task with comments",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body TaskCardResponse `json:"body"`
	}, error) {
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		card, err := e.GetTaskCard(ctx, identity, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskCardResponse `json:"body"`
		}{Body: cardResponse(card)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/status",
		Summary:     "Change task status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnauthorized,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64            `path:"id"`
		Body SetStatusRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ChangeStatus(ctx, identity, input.ID, domain.Status(input.Body.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, identity, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/comments",
		Summary:       "Add comment",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64             `path:"id"`
		Body AddCommentRequest `json:"body"`
	}) (*struct {
		Body CommentResponse `json:"body"`
	}, error) {
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, identity, input.ID, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommentResponse `json:"body"`
		}{Body: commentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/comments",
		Summary:     "List comments",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []CommentResponse `json:"body"`
	}, error) {
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		comments, err := e.ListComments(ctx, identity, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CommentResponse `json:"body"`
		}{Body: mapComments(comments)}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Errors:      []int{http.StatusForbidden, http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		identity, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		users, err := e.ListUsers(ctx, identity)
		if err != nil {
			return nil, handleError(err)
		}
		res := []UserResponse{}
		for _, u := range users {
			res = append(res, userResponse(u, e.Policy.RootAdmin))
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-user-role",
		Method:      http.MethodPatch,
		Path:        "/users/{identity}/role",
		Summary:     "Set user role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Identity string         `path:"identity"`
		Body     SetRoleRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		caller, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetUserRole(ctx, caller, input.Identity, domain.Role(input.Body.Role)); err != nil {
			return nil, handleError(err)
		}
		u, err := e.Repo.GetUser(ctx, input.Identity)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u, e.Policy.RootAdmin)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-user",
		Method:      http.MethodDelete,
		Path:        "/users/{identity}",
		Summary:     "Delete user",
		Errors: []int{
			http.StatusConflict,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Identity string `path:"identity"`
		Reassign bool   `query:"reassign"`
	}) (*struct{}, error) {
		caller, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteUser(ctx, caller, input.Identity, input.Reassign); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
