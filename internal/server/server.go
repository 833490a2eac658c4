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

	"loreline/internal/domain"
	"loreline/internal/engine"
	"loreline/internal/graph"
	"loreline/internal/repo"
	"loreline/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"writes_disabled_offline"`
	Message string         `json:"message" example:"primary database unavailable, writes disabled"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Loreline API.
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
	hcfg := huma.DefaultConfig("Loreline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group, cfg.Engine)
	registerStatus(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerDirectives(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerWorkers(group, cfg.Engine)
	registerState(group, cfg.Engine)
	registerActivity(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

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
	if errors.Is(err, store.ErrOfflineWrite) {
		return newAPIError(http.StatusServiceUnavailable, "writes_disabled_offline", err.Error(), nil)
	}
	if errors.Is(err, store.ErrUnavailable) {
		return newAPIError(http.StatusServiceUnavailable, "service_unavailable", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already decomposed"),
		strings.Contains(lowered, "already registered"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") ||
		strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
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
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Loreline API Docs</title>
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
  </body>
</html>`, specURL)
}

// registerHealth reports degraded instead of failing while the primary
// database is down: the service still answers reads from the snapshot
// cache, so the process is alive even if storage is not. The probe also
// doubles as a recovery trigger.
func registerHealth(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		out := HealthResponse{Status: "online", Storage: "primary"}
		if !e.Store.Sup.Probe(ctx) {
			out.Status = "degraded"
			out.Storage = "cache"
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerStatus(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Service status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		body := map[string]any{
			"online":      e.Store.Sup.Online(),
			"cache":       e.Store.Cache.Stats(),
			"workers":     len(e.ListWorkers()),
			"subscribers": e.Bus.Subscribers(),
		}
		if e.Store.Sup.Online() {
			counts, err := e.Store.Repo.Counts(ctx)
			if err == nil {
				body["counts"] = counts
			}
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: body}, nil
	})
}

func registerDocuments(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-document",
		Method:        http.MethodPost,
		Path:          "/docs",
		Summary:       "Create document",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateDocumentRequest `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		d := domain.Document{
			DocID:     input.Body.DocID,
			Title:     input.Body.Title,
			Domain:    input.Body.Domain,
			Content:   input.Body.Content,
			Tags:      input.Body.Tags,
			DependsOn: input.Body.DependsOn,
		}
		if input.Body.Status != nil {
			d.Status = *input.Body.Status
		}
		created, err := e.CreateDocument(ctx, d)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: created}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/docs",
		Summary:     "List documents",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Domain string `query:"domain"`
		Tag    string `query:"tag"`
		Status string `query:"status"`
	}) (*struct {
		Body DocumentListResponse `json:"body"`
	}, error) {
		items, cached, err := e.ListDocuments(ctx, repo.DocFilters{
			Domain: input.Domain,
			Tag:    input.Tag,
			Status: input.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentListResponse `json:"body"`
		}{Body: DocumentListResponse{Items: mapDocumentSummaries(items), Cached: cached}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/docs/{doc_id}",
		Summary:     "Get document",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		DocID string `path:"doc_id"`
	}) (*struct {
		Body DocumentGetResponse `json:"body"`
	}, error) {
		d, cached, err := e.GetDocument(ctx, input.DocID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentGetResponse `json:"body"`
		}{Body: DocumentGetResponse{Document: d, Cached: cached}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-document",
		Method:      http.MethodPatch,
		Path:        "/docs/{doc_id}",
		Summary:     "Update document",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		DocID string                `path:"doc_id"`
		Body  UpdateDocumentRequest `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		updated, err := e.UpdateDocument(ctx, input.DocID, engine.DocumentUpdate{
			Title:     input.Body.Title,
			Domain:    input.Body.Domain,
			Content:   input.Body.Content,
			Tags:      input.Body.Tags,
			DependsOn: input.Body.DependsOn,
			Status:    input.Body.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: updated}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-document",
		Method:      http.MethodDelete,
		Path:        "/docs/{doc_id}",
		Summary:     "Delete document",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		DocID string `path:"doc_id"`
	}) (*struct{}, error) {
		if err := e.DeleteDocument(ctx, input.DocID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-graph",
		Method:      http.MethodGet,
		Path:        "/graph",
		Summary:     "Dependency graph projection",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body GraphResponse `json:"body"`
	}, error) {
		nodes, edges, cached, err := e.Graph(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GraphResponse `json:"body"`
		}{Body: GraphResponse{Nodes: nodes, Edges: edges, Cached: cached}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tags",
		Method:      http.MethodGet,
		Path:        "/tags",
		Summary:     "Tag histogram",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TagsResponse `json:"body"`
	}, error) {
		tags, cached, err := e.Tags(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TagsResponse `json:"body"`
		}{Body: TagsResponse{Tags: tags, Cached: cached}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "repair-dependencies",
		Method:      http.MethodPost,
		Path:        "/repair",
		Summary:     "Repair dependency references",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body graph.Report `json:"body"`
	}, error) {
		report, err := e.RepairDependencies(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body graph.Report `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ingest-documents",
		Method:      http.MethodPost,
		Path:        "/ingest",
		Summary:     "Bulk ingest documents",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body IngestRequest `json:"body"`
	}) (*struct {
		Body IngestResponse `json:"body"`
	}, error) {
		report, err := e.Ingest(ctx, input.Body.Documents)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IngestResponse `json:"body"`
		}{Body: IngestResponse{
			Ingested:          report.Ingested,
			Scanned:           report.Repair.Scanned,
			BrokenRefsRemoved: report.Repair.BrokenRefsRemoved,
			DocsUpdated:       report.Repair.DocsUpdated,
			Details:           report.Repair.Details,
		}}, nil
	})
}

func registerDirectives(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-directive",
		Method:        http.MethodPost,
		Path:          "/directives",
		Summary:       "Create directive",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateDirectiveRequest `json:"body"`
	}) (*struct {
		Body domain.Directive `json:"body"`
	}, error) {
		d, err := e.CreateDirective(ctx, engine.DirectiveCreateOptions{
			Intent:     input.Body.Intent,
			Priority:   input.Body.Priority,
			MaxWorkers: input.Body.MaxWorkers,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Directive `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-directives",
		Method:      http.MethodGet,
		Path:        "/directives",
		Summary:     "List directives",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body DirectiveListResponse `json:"body"`
	}, error) {
		items, cached, err := e.ListDirectives(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DirectiveListResponse `json:"body"`
		}{Body: DirectiveListResponse{Items: items, Cached: cached}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-directive",
		Method:      http.MethodGet,
		Path:        "/directives/{directive_id}",
		Summary:     "Get directive",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		DirectiveID string `path:"directive_id"`
	}) (*struct {
		Body DirectiveGetResponse `json:"body"`
	}, error) {
		d, cached, err := e.GetDirective(ctx, input.DirectiveID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DirectiveGetResponse `json:"body"`
		}{Body: DirectiveGetResponse{Directive: d, Cached: cached}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-directive",
		Method:      http.MethodPatch,
		Path:        "/directives/{directive_id}",
		Summary:     "Update directive",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		DirectiveID string                 `path:"directive_id"`
		Body        UpdateDirectiveRequest `json:"body"`
	}) (*struct {
		Body domain.Directive `json:"body"`
	}, error) {
		d, err := e.UpdateDirective(ctx, input.DirectiveID, engine.DirectiveUpdate{
			Intent:     input.Body.Intent,
			Priority:   input.Body.Priority,
			Status:     input.Body.Status,
			MaxWorkers: input.Body.MaxWorkers,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Directive `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "decompose-directive",
		Method:        http.MethodPost,
		Path:          "/directives/{directive_id}/decompose",
		Summary:       "Decompose directive into tasks",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		DirectiveID string           `path:"directive_id"`
		Body        DecomposeRequest `json:"body"`
	}) (*struct {
		Body DecomposeResponse `json:"body"`
	}, error) {
		specs := make([]engine.TaskSpec, 0, len(input.Body.Tasks))
		for _, t := range input.Body.Tasks {
			specs = append(specs, engine.TaskSpec{
				Description:  t.Description,
				Priority:     t.Priority,
				Dependencies: t.Dependencies,
				MaxAttempts:  t.MaxAttempts,
			})
		}
		d, tasks, err := e.DecomposeDirective(ctx, input.DirectiveID, specs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DecomposeResponse `json:"body"`
		}{Body: DecomposeResponse{Directive: d, Tasks: tasks}}, nil
	})
}

func registerTasks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			Description:  input.Body.Description,
			DirectiveID:  input.Body.DirectiveID,
			Priority:     input.Body.Priority,
			Dependencies: input.Body.Dependencies,
			MaxAttempts:  input.Body.MaxAttempts,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Status      string `query:"status"`
		DirectiveID string `query:"directive_id"`
		Unassigned  bool   `query:"unassigned"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		items, cached, err := e.ListTasks(ctx, repo.TaskFilters{
			Status:      input.Status,
			DirectiveID: input.DirectiveID,
			Unassigned:  input.Unassigned,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{Items: items, Cached: cached}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskGetResponse `json:"body"`
	}, error) {
		t, cached, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskGetResponse `json:"body"`
		}{Body: TaskGetResponse{Task: t, Cached: cached}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.UpdateTask(ctx, input.TaskID, engine.TaskUpdate{
			Description:    input.Body.Description,
			Status:         input.Body.Status,
			Priority:       input.Body.Priority,
			Dependencies:   input.Body.Dependencies,
			AssignedWorker: input.Body.AssignedWorker,
			Attempt:        input.Body.Attempt,
			Output:         input.Body.Output,
			FailureReason:  input.Body.FailureReason,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerWorkers(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-worker",
		Method:        http.MethodPost,
		Path:          "/workers",
		Summary:       "Register worker",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkerRequest `json:"body"`
	}) (*struct {
		Body domain.Worker `json:"body"`
	}, error) {
		w, err := e.CreateWorker(ctx, engine.WorkerCreateOptions{
			ID:   input.Body.ID,
			Role: input.Body.Role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Worker `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workers",
		Method:      http.MethodGet,
		Path:        "/workers",
		Summary:     "List workers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WorkerListResponse `json:"body"`
	}, error) {
		return &struct {
			Body WorkerListResponse `json:"body"`
		}{Body: WorkerListResponse{Items: e.ListWorkers()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-worker",
		Method:      http.MethodGet,
		Path:        "/workers/{worker_id}",
		Summary:     "Get worker",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
	}) (*struct {
		Body domain.Worker `json:"body"`
	}, error) {
		w, err := e.GetWorker(input.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Worker `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-worker",
		Method:      http.MethodPatch,
		Path:        "/workers/{worker_id}",
		Summary:     "Update worker",
		Errors: []int{
			http.StatusNotFound,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		WorkerID string              `path:"worker_id"`
		Body     UpdateWorkerRequest `json:"body"`
	}) (*struct {
		Body domain.Worker `json:"body"`
	}, error) {
		w, err := e.UpdateWorker(ctx, input.WorkerID, engine.WorkerUpdate{
			Status:      input.Body.Status,
			Role:        input.Body.Role,
			CurrentTask: input.Body.CurrentTask,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Worker `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-worker",
		Method:      http.MethodDelete,
		Path:        "/workers/{worker_id}",
		Summary:     "Deregister worker",
		Errors: []int{
			http.StatusNotFound,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
	}) (*struct{}, error) {
		if err := e.DeleteWorker(ctx, input.WorkerID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "append-worker-logs",
		Method:        http.MethodPost,
		Path:          "/workers/{worker_id}/logs",
		Summary:       "Append worker log lines",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusNotFound,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		WorkerID string                  `path:"worker_id"`
		Body     AppendWorkerLogsRequest `json:"body"`
	}) (*struct {
		Body WorkerLogsResponse `json:"body"`
	}, error) {
		lines, err := e.AppendWorkerLogs(ctx, input.WorkerID, input.Body.Lines)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkerLogsResponse `json:"body"`
		}{Body: WorkerLogsResponse{Lines: lines}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-worker-logs",
		Method:      http.MethodGet,
		Path:        "/workers/{worker_id}/logs",
		Summary:     "Read worker log tail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body WorkerLogsResponse `json:"body"`
	}, error) {
		lines, err := e.WorkerLogs(input.WorkerID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkerLogsResponse `json:"body"`
		}{Body: WorkerLogsResponse{Lines: lines}}, nil
	})
}

func registerState(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-state",
		Method:      http.MethodGet,
		Path:        "/state/{state_id}",
		Summary:     "Get run state",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		StateID string `path:"state_id" enum:"agent,orchestrator"`
	}) (*struct {
		Body StateResponse `json:"body"`
	}, error) {
		s, cached, err := e.GetState(ctx, input.StateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StateResponse `json:"body"`
		}{Body: StateResponse{State: s, Cached: cached}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-state",
		Method:      http.MethodPut,
		Path:        "/state/{state_id}",
		Summary:     "Replace run state",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		StateID string          `path:"state_id" enum:"agent,orchestrator"`
		Body    PutStateRequest `json:"body"`
	}) (*struct {
		Body domain.State `json:"body"`
	}, error) {
		s, err := e.UpsertState(ctx, input.StateID, input.Body.Payload)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.State `json:"body"`
		}{Body: s}, nil
	})
}

func registerActivity(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "post-activity",
		Method:        http.MethodPost,
		Path:          "/activity",
		Summary:       "Record activity entry",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body PostActivityRequest `json:"body"`
	}) (*struct {
		Body domain.Activity `json:"body"`
	}, error) {
		meta := input.Body.Meta
		if p, ok := principalFromContext(ctx); ok {
			if meta == nil {
				meta = map[string]any{}
			}
			meta["actor"] = p.Subject
		}
		a, err := e.PostActivity(ctx, input.Body.Type, input.Body.Message, meta)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Activity `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-activity",
		Method:      http.MethodGet,
		Path:        "/activity",
		Summary:     "List recent activity",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit"`
	}) (*struct {
		Body ActivityListResponse `json:"body"`
	}, error) {
		items, cached, err := e.ListActivity(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityListResponse `json:"body"`
		}{Body: ActivityListResponse{Items: items, Cached: cached}}, nil
	})
}
