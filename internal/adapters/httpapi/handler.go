package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/atvirokodosprendimai/tenantgate/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantgate/internal/core/usecase"
)

type ctxKey string

const (
	timeFormat                 = "2006-01-02T15:04:05.999999999Z07:00"
	tenantCtxKey        ctxKey = "tenant"
	hostTenantCtxKey    ctxKey = "host_tenant"
	maxJSONBodySize            = 1 << 20
	apiKeyHeader               = "X-API-Key"
	defaultBrandingName        = "Portail CFA"
)

type Handler struct {
	authService *usecase.AuthService
	resolver    *usecase.TenantResolver
	dispatcher  *usecase.WebhookDispatcher
	eventSchema *usecase.EventSchema
	logger      zerolog.Logger
}

func NewHandler(authService *usecase.AuthService, resolver *usecase.TenantResolver, dispatcher *usecase.WebhookDispatcher, eventSchema *usecase.EventSchema, logger zerolog.Logger) *Handler {
	return &Handler{
		authService: authService,
		resolver:    resolver,
		dispatcher:  dispatcher,
		eventSchema: eventSchema,
		logger:      logger,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(h.logger))
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)

	r.With(h.resolveHostTenant).Get("/v1/branding", h.branding)

	r.Group(func(pr chi.Router) {
		pr.Use(h.requireAPIKey)
		pr.Get("/v1/me", h.me)
		pr.Post("/v1/events", h.emitEvent)
	})

	return r
}

type tenantResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type brandingResponse struct {
	Name    string          `json:"name"`
	Default bool            `json:"default"`
	Tenant  *tenantResponse `json:"tenant,omitempty"`
}

type emitEventResponse struct {
	Event    domain.WebhookEvent `json:"event"`
	Queued   bool                `json:"queued"`
	Webhook  bool                `json:"webhook"`
	Received string              `json:"received_at"`
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	tenant, _ := TenantFromContext(r.Context())
	writeJSON(w, http.StatusOK, tenantResponse{ID: tenant.ID, Name: tenant.Name})
}

// emitEvent is the integration trigger for tenant webhooks. The response
// only says whether the event was queued; the delivery outcome is logged
// by the dispatcher.
func (h *Handler) emitEvent(w http.ResponseWriter, r *http.Request) {
	tenant, _ := TenantFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	req, err := h.eventSchema.Parse(raw)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	queued := h.dispatcher.Enqueue(tenant, req.Event, req.Data)
	writeJSON(w, http.StatusAccepted, emitEventResponse{
		Event:    req.Event,
		Queued:   queued,
		Webhook:  tenant.HasWebhook(),
		Received: time.Now().UTC().Format(timeFormat),
	})
}

func (h *Handler) branding(w http.ResponseWriter, r *http.Request) {
	tenant, ok := r.Context().Value(hostTenantCtxKey).(domain.Tenant)
	if !ok {
		writeJSON(w, http.StatusOK, brandingResponse{Name: defaultBrandingName, Default: true})
		return
	}
	writeJSON(w, http.StatusOK, brandingResponse{
		Name:   tenant.Name,
		Tenant: &tenantResponse{ID: tenant.ID, Name: tenant.Name},
	})
}

// requireAPIKey is the gate in front of every integration route. It never
// tells the caller which check rejected the credential.
func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, err := h.authService.Validate(r.Context(), credentialFromRequest(r))
		if err != nil {
			handleDomainError(w, r, err)
			return
		}

		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("tenant_id", tenant.ID)
		})
		ctx := context.WithValue(r.Context(), tenantCtxKey, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveHostTenant attaches the tenant addressed by the Host header, if
// any. Lookup failures fall back to default branding.
func (h *Handler) resolveHostTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, ok, err := h.resolver.Resolve(r.Context(), r.Host)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("host", r.Host).Msg("resolve tenant from host")
		}
		if ok {
			r = r.WithContext(context.WithValue(r.Context(), hostTenantCtxKey, tenant))
		}
		next.ServeHTTP(w, r)
	})
}

func credentialFromRequest(r *http.Request) string {
	token := strings.TrimSpace(r.Header.Get(apiKeyHeader))
	if token == "" {
		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
			token = strings.TrimSpace(auth[7:])
		}
	}
	return token
}

// TenantFromContext returns the tenant the API key gate resolved.
func TenantFromContext(ctx context.Context) (domain.Tenant, bool) {
	tenant, ok := ctx.Value(tenantCtxKey).(domain.Tenant)
	return tenant, ok
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("request_id", middleware.GetReqID(r.Context())).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("http request")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var violation *domain.ErrPayloadValidation
	switch {
	case errors.Is(err, domain.ErrMissingCredential):
		writeError(w, http.StatusUnauthorized, domain.ErrMissingCredential.Error())
	case errors.Is(err, domain.ErrInvalidCredential):
		writeError(w, http.StatusForbidden, domain.ErrInvalidCredential.Error())
	case errors.As(err, &violation):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": violation.Fields})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
