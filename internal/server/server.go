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

	"truckdash/internal/datefilter"
	"truckdash/internal/domain"
	"truckdash/internal/log"
	"truckdash/internal/metrics"
	"truckdash/internal/notify"
	"truckdash/internal/session"
	truckdashsdk "truckdash/sdk/go"
)

// SessionView is what the local API reads from the session.
type SessionView interface {
	IsAuthenticated() bool
	Role() domain.Role
	User() (truckdashsdk.User, bool)
	Claims() (session.TokenClaims, bool)
	Require(role domain.Role) error
}

// TruckState is what the local API reads from and drives on the truck store.
type TruckState interface {
	Trucks() []truckdashsdk.Truck
	Stats() truckdashsdk.Stats
	Loading() bool
	Err() error
	Connected() bool
	DateFilter() (from, to *datefilter.Date)
	SetDateFilter(from, to *datefilter.Date)
	Refresh(ctx context.Context, filters map[string]string)
}

type NotificationView interface {
	Current() notify.Notification
}

// Config for the local HTTP API handler.
type Config struct {
	Session       SessionView
	Trucks        TruckState
	Notifications NotificationView
	Metrics       *metrics.Metrics
	Logger        log.Logger
	BasePath      string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"role admin required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the dashboard's live state.
func New(cfg Config) (http.Handler, error) {
	if cfg.Trucks == nil {
		return nil, errors.New("server: truck state is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := log.OrNop(cfg.Logger).WithName("server")

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
	router.Use(requestLogger(logger))
	hcfg := huma.DefaultConfig("truckdash local API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group, cfg.Trucks)
	registerSession(group, cfg.Session)
	registerTrucks(group, cfg)
	registerStats(group, cfg)
	registerNotification(group, cfg.Notifications)
	registerDateFilter(group, cfg)
	registerRefresh(group, cfg)
	router.Handle("/metrics", cfg.Metrics.Handler())

	return router, nil
}

func requestLogger(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
		})
	}
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
	if se, ok := authError(err); ok {
		return se
	}
	var ae *truckdashsdk.APIError
	if errors.As(err, &ae) {
		return newAPIError(http.StatusBadGateway, "upstream_error", err.Error(), map[string]any{"status": ae.StatusCode})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
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

func registerHealth(api huma.API, trucks TruckState) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok", Connected: trucks.Connected()}}, nil
	})
}

func registerSession(api huma.API, s SessionView) {
	huma.Register(api, huma.Operation{
		OperationID: "session",
		Method:      http.MethodGet,
		Path:        "/session",
		Summary:     "Current dashboard session",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		out := SessionResponse{}
		if s != nil && s.IsAuthenticated() {
			out.Authenticated = true
			out.Role = string(s.Role())
			if u, ok := s.User(); ok {
				out.User = &u
			}
			if c, ok := s.Claims(); ok && !c.ExpiresAt.IsZero() {
				exp := c.ExpiresAt
				out.ExpiresAt = &exp
			}
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerTrucks(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-trucks",
		Method:      http.MethodGet,
		Path:        "/trucks",
		Summary:     "Trucks in the current view",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TrucksResponse `json:"body"`
	}, error) {
		if err := requireRole(cfg.Session, domain.RoleViewer); err != nil {
			return nil, err
		}
		return &struct {
			Body TrucksResponse `json:"body"`
		}{Body: trucksView(cfg.Trucks)}, nil
	})
}

func registerStats(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Stats snapshot for the current view",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body truckdashsdk.Stats `json:"body"`
	}, error) {
		if err := requireRole(cfg.Session, domain.RoleViewer); err != nil {
			return nil, err
		}
		return &struct {
			Body truckdashsdk.Stats `json:"body"`
		}{Body: cfg.Trucks.Stats()}, nil
	})
}

func registerNotification(api huma.API, n NotificationView) {
	huma.Register(api, huma.Operation{
		OperationID: "notification",
		Method:      http.MethodGet,
		Path:        "/notification",
		Summary:     "Current notification slot",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body NotificationResponse `json:"body"`
	}, error) {
		var current notify.Notification
		if n != nil {
			current = n.Current()
		}
		return &struct {
			Body NotificationResponse `json:"body"`
		}{Body: current}, nil
	})
}

func registerDateFilter(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "set-date-filter",
		Method:      http.MethodPut,
		Path:        "/date-filter",
		Summary:     "Replace the date bounds and reload",
	}, func(ctx context.Context, input *struct {
		Body DateFilterRequest
	}) (*struct {
		Body DateFilterResponse `json:"body"`
	}, error) {
		if err := requireRole(cfg.Session, domain.RoleViewer); err != nil {
			return nil, err
		}
		from, err := datefilter.ParseOptional(input.Body.From)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "from"})
		}
		to, err := datefilter.ParseOptional(input.Body.To)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "to"})
		}
		if from != nil && to != nil && to.Before(*from) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "to is before from", nil)
		}
		cfg.Trucks.SetDateFilter(from, to)
		cfg.Trucks.Refresh(ctx, nil)
		out := DateFilterResponse{}
		out.From, out.To = formatBounds(cfg.Trucks.DateFilter())
		return &struct {
			Body DateFilterResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerRefresh(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "refresh",
		Method:      http.MethodPost,
		Path:        "/refresh",
		Summary:     "Reload trucks and stats",
	}, func(ctx context.Context, input *struct {
		Body RefreshRequest `required:"false"`
	}) (*struct {
		Body TrucksResponse `json:"body"`
	}, error) {
		if err := requireRole(cfg.Session, domain.RoleViewer); err != nil {
			return nil, err
		}
		cfg.Trucks.Refresh(ctx, input.Body.Filters)
		return &struct {
			Body TrucksResponse `json:"body"`
		}{Body: trucksView(cfg.Trucks)}, nil
	})
}

func trucksView(state TruckState) TrucksResponse {
	out := TrucksResponse{
		Trucks:    state.Trucks(),
		Loading:   state.Loading(),
		Connected: state.Connected(),
	}
	if err := state.Err(); err != nil {
		out.Error = err.Error()
	}
	out.From, out.To = formatBounds(state.DateFilter())
	return out
}

func formatBounds(from, to *datefilter.Date) (string, string) {
	var f, t string
	if from != nil {
		f = from.String()
	}
	if to != nil {
		t = to.String()
	}
	return f, t
}
