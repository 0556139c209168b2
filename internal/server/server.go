package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/ferangarita01/rentman-sub000/internal/domain"
	"github.com/ferangarita01/rentman-sub000/internal/engine"
	"github.com/ferangarita01/rentman-sub000/internal/repo"
	"github.com/ferangarita01/rentman-sub000/internal/webhooks"
)

const apiPrefix = "/api"

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Auth     AuthConfig
	Webhooks webhooks.Registry
	Logger   *log.Logger
}

func (c Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope shared by every JSON route.
type apiError struct {
	status  int
	Message string         `json:"error" example:"only the requester can release funds"`
	Code    string         `json:"code" example:"forbidden"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

// New returns an HTTP handler exposing the rentman API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine.DB == nil {
		return nil, errors.New("engine database is required")
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the shared envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Rentman API", "0.3.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)

	registerDocs(router)
	registerHealth(api)
	registerTasks(api, cfg.Engine)
	registerEscrow(api, cfg.Engine)
	registerProofs(api, cfg.Engine)
	registerWebhooks(router, cfg)
	if cfg.Engine.Metrics != nil {
		router.Handle("/metrics", cfg.Engine.Metrics.Handler())
	}
	registerOpenAPI(router, api)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status:  status,
		Message: message,
		Code:    code,
		Details: details,
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		var details map[string]any
		if ve.Field != "" {
			details = map[string]any{"field": ve.Field}
		}
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), details)
	}
	var ae engine.AuthorizationError
	if errors.As(err, &ae) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var se engine.StateConflictError
	if errors.As(err, &se) {
		return newAPIError(http.StatusBadRequest, conflictCode(se.Reason), err.Error(), nil)
	}
	var pe engine.PaymentProcessorError
	if errors.As(err, &pe) {
		details := map[string]any{"operation": pe.Op}
		if pe.Code != "" {
			details["processor_code"] = pe.Code
		}
		if pe.Type != "" {
			details["processor_type"] = pe.Type
		}
		return newAPIError(http.StatusBadGateway, "payment_processor_error", err.Error(), details)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func conflictCode(reason error) string {
	switch {
	case errors.Is(reason, engine.ErrProofsIncomplete):
		return "proofs_incomplete"
	case errors.Is(reason, engine.ErrProofsRejected):
		return "proofs_rejected"
	case errors.Is(reason, engine.ErrPayoutAccountMissing):
		return "payout_account_missing"
	default:
		return "invalid_state"
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML())
	})
}

func registerOpenAPI(r chi.Router, api huma.API) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI) {
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
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if isPublicPath(route) {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML() string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Rentman API Docs</title>
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
</html>`, "/openapi.json")
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

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          apiPrefix + "/tasks",
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
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ID:             input.Body.ID,
			Title:          input.Body.Title,
			Description:    input.Body.Description,
			BudgetAmount:   input.Body.BudgetAmount,
			BudgetCurrency: input.Body.BudgetCurrency,
			TaskType:       input.Body.TaskType,
			RequesterID:    userID,
			AgentID:        input.Body.AgentID,
			Signature:      input.Body.Signature,
			Metadata:       input.Body.Metadata,
		})
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
		Path:        apiPrefix + "/tasks",
		Summary:     "List tasks",
		Description: "Lists tasks the caller requested, or tasks assigned to the caller with role=worker. Matching tasks are listed with role=open.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Role   string `query:"role" enum:"requester,worker,open" default:"requester"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		filters := repo.TaskFilters{Status: input.Status, Limit: normalizeLimit(input.Limit)}
		switch input.Role {
		case "worker":
			filters.HumanID = userID
		case "open":
			filters.Status = domain.TaskMatching
		default:
			filters.RequesterID = userID
		}
		items, err := e.ListTasks(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		resp := TaskListResponse{Items: []TaskResponse{}}
		for _, t := range items {
			resp.Items = append(resp.Items, taskResponse(t))
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        apiPrefix + "/tasks/{taskId}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"taskId"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-task",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/tasks/{taskId}/start",
		Summary:     "Start work on an assigned task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"taskId"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.StartWork(ctx, input.TaskID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-proofs",
		Method:      http.MethodGet,
		Path:        apiPrefix + "/tasks/{taskId}/proofs",
		Summary:     "List proofs for a task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"taskId"`
	}) (*struct {
		Body ProofListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		proofs, err := e.ListProofs(ctx, input.TaskID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ProofListResponse{Items: []ProofResponse{}}
		for _, p := range proofs {
			resp.Items = append(resp.Items, proofResponse(p))
		}
		return &struct {
			Body ProofListResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEscrow(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "escrow-lock",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/escrow/lock",
		Summary:     "Hold the task budget and assign a worker",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		Body LockRequest `json:"body"`
	}) (*struct {
		Body LockResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.LockFunds(ctx, input.Body.TaskID, input.Body.HumanID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LockResponse `json:"body"`
		}{Body: LockResponse{
			Success:      true,
			EscrowID:     res.Escrow.ID,
			ClientSecret: res.ClientSecret,
			Amounts:      amountsResponse(res.Amounts),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escrow-release",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/escrow/release",
		Summary:     "Capture the hold and pay the worker",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		Body ReleaseRequest `json:"body"`
	}) (*struct {
		Body ReleaseResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ReleaseFunds(ctx, input.Body.TaskID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReleaseResponse `json:"body"`
		}{Body: ReleaseResponse{Success: true, TransferID: res.TransferID}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escrow-dispute",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/escrow/dispute",
		Summary:     "Freeze a held escrow for mediation",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body DisputeRequest `json:"body"`
	}) (*struct {
		Body DisputeResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.InitiateDispute(ctx, input.Body.TaskID, userID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DisputeResponse `json:"body"`
		}{Body: DisputeResponse{
			Success:         true,
			EscrowID:        res.Escrow.ID,
			AISummary:       res.Summary,
			AlreadyDisputed: res.AlreadyDisputed,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escrow-status",
		Method:      http.MethodGet,
		Path:        apiPrefix + "/escrow/status/{taskId}",
		Summary:     "Escrow status for a task",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"taskId"`
	}) (*struct {
		Body EscrowStatusResponse `json:"body"`
	}, error) {
		st, err := e.GetEscrowStatus(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EscrowStatusResponse `json:"body"`
		}{Body: escrowStatusResponse(st)}, nil
	})
}

func registerProofs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "proof-upload",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/proofs/upload",
		Summary:     "Submit proof of work",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body ProofUploadRequest `json:"body"`
	}) (*struct {
		Body ProofUploadResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		humanID := strings.TrimSpace(input.Body.HumanID)
		if humanID == "" {
			humanID = userID
		}
		if humanID != userID {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "humanId must match the authenticated user", nil)
		}
		p, err := e.SubmitProof(ctx, engine.ProofSubmitOptions{
			TaskID:       input.Body.TaskID,
			HumanID:      humanID,
			ProofType:    input.Body.ProofType,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			FileURL:      input.Body.FileURL,
			LocationData: input.Body.LocationData,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProofUploadResponse `json:"body"`
		}{Body: ProofUploadResponse{Success: true, ProofID: p.ID, AIValidation: p.AIValidation}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "proof-review",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/proofs/review",
		Summary:     "Approve or reject a proof",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body ProofReviewRequest `json:"body"`
	}) (*struct {
		Body ProofReviewResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.ReviewerID != userID {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "reviewerId must match the authenticated user", nil)
		}
		p, err := e.ReviewProof(ctx, engine.ProofReviewOptions{
			ProofID:         input.Body.ProofID,
			Action:          input.Body.Action,
			ReviewerID:      userID,
			RejectionReason: input.Body.RejectionReason,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProofReviewResponse `json:"body"`
		}{Body: ProofReviewResponse{
			Success: true,
			Message: "Proof " + p.Status,
			ProofID: p.ID,
		}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
