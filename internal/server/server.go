package server

import (
	"bytes"
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

	"preflight/internal/domain"
	"preflight/internal/engine"
	"preflight/internal/export"
	"preflight/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"unknown dataset kind"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Preflight API.
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
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Preflight API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDatasets(group, cfg.Engine)
	registerDiagnostics(group, cfg.Engine)
	registerRules(group, cfg.Engine)
	registerWeights(group, cfg.Engine)
	registerExport(group, cfg.Engine)
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
	if errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrUnknownKind) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid"),
		strings.Contains(lowered, "unknown"),
		strings.Contains(lowered, "missing"),
		strings.Contains(lowered, "duplicate"),
		strings.Contains(lowered, "required"):
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

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
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
    <title>Preflight API Docs</title>
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

func registerDatasets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "put-dataset-rows",
		Method:      http.MethodPut,
		Path:        "/datasets/{kind}/rows",
		Summary:     "Replace a dataset from raw rows",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Kind string            `path:"kind"`
		Body ImportRowsRequest `json:"body"`
	}) (*struct {
		Body ImportResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		kind, err := engine.ParseKind(input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ImportRows(ctx, kind, input.Body.Rows, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ImportResponse `json:"body"`
		}{Body: importResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-dataset-records",
		Method:      http.MethodGet,
		Path:        "/datasets/{kind}",
		Summary:     "List stored records",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Kind string `path:"kind"`
	}) (*struct {
		Body struct {
			Records []domain.Row `json:"records"`
		} `json:"body"`
	}, error) {
		kind, err := engine.ParseKind(input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		rows, err := e.Records(ctx, kind)
		if err != nil {
			return nil, handleError(err)
		}
		if rows == nil {
			rows = []domain.Row{}
		}
		out := &struct {
			Body struct {
				Records []domain.Row `json:"records"`
			} `json:"body"`
		}{}
		out.Body.Records = rows
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-dataset-record",
		Method:      http.MethodPatch,
		Path:        "/datasets/{kind}/records/{id}",
		Summary:     "Edit one field of a record and re-validate",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Kind string            `path:"kind"`
		ID   string            `path:"id"`
		Body EditRecordRequest `json:"body"`
	}) (*struct {
		Body ImportResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Field == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "field is required", nil)
		}
		kind, err := engine.ParseKind(input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.EditRecord(ctx, kind, input.ID, input.Body.Field, input.Body.Value, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ImportResponse `json:"body"`
		}{Body: importResponse(res)}, nil
	})
}

func registerDiagnostics(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-diagnostics",
		Method:      http.MethodGet,
		Path:        "/diagnostics",
		Summary:     "List validation diagnostics",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Scope string `query:"scope"`
	}) (*struct {
		Body DiagnosticsResponse `json:"body"`
	}, error) {
		diags, err := e.Diagnostics(ctx, input.Scope)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DiagnosticsResponse `json:"body"`
		}{Body: DiagnosticsResponse{Diagnostics: emptyIfNil(diags)}}, nil
	})
}

func registerRules(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "suggest-rules",
		Method:      http.MethodPost,
		Path:        "/rules/suggest",
		Summary:     "Suggest rules from the current data",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RulesResponse `json:"body"`
	}, error) {
		suggested, err := e.SuggestRules(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RulesResponse `json:"body"`
		}{Body: RulesResponse{Rules: emptyRulesIfNil(suggested)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-rules",
		Method:      http.MethodPost,
		Path:        "/rules/validate",
		Summary:     "Validate rules without saving",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body RulesRequest `json:"body"`
	}) (*struct {
		Body DiagnosticsResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		diags, err := e.ValidateRules(ctx, input.Body.Rules)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DiagnosticsResponse `json:"body"`
		}{Body: DiagnosticsResponse{Diagnostics: emptyIfNil(diags)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-rules",
		Method:      http.MethodPut,
		Path:        "/rules",
		Summary:     "Replace the stored rule list",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Body RulesRequest `json:"body"`
	}) (*struct {
		Body RulesSaveResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		diags, err := e.SaveRules(ctx, input.Body.Rules, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RulesSaveResponse `json:"body"`
		}{Body: RulesSaveResponse{Rules: len(input.Body.Rules), Diagnostics: emptyIfNil(diags)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "List stored rules",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RulesResponse `json:"body"`
	}, error) {
		rules, err := e.Repo.ListRules(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RulesResponse `json:"body"`
		}{Body: RulesResponse{Rules: emptyRulesIfNil(rules)}}, nil
	})
}

func registerWeights(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "put-weights",
		Method:      http.MethodPut,
		Path:        "/weights",
		Summary:     "Set prioritization weights",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Body WeightsRequest `json:"body"`
	}) (*struct {
		Body WeightsResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		normalized, err := e.SetWeights(ctx, input.Body.Weights, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WeightsResponse `json:"body"`
		}{Body: WeightsResponse{Weights: normalized}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-weights",
		Method:      http.MethodGet,
		Path:        "/weights",
		Summary:     "Get prioritization weights",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WeightsResponse `json:"body"`
	}, error) {
		w, err := e.Weights(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WeightsResponse `json:"body"`
		}{Body: WeightsResponse{Weights: w}}, nil
	})
}

func registerExport(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "export-rules-document",
		Method:      http.MethodGet,
		Path:        "/export/rules",
		Summary:     "Rules document for the allocator",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte `json:"body"`
	}, error) {
		rules, err := e.Repo.ListRules(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		weights, err := e.Weights(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		doc, err := export.RulesDocument(rules, weights)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte `json:"body"`
		}{ContentType: "application/json", Body: doc}, nil
	})
}
