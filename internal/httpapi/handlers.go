// Package httpapi is the HTTP boundary of the identity platform. It decodes
// requests, resolves the acting principal and maps the core error taxonomy
// onto status codes; all business rules live in the services it fronts.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/rbac"
	"gatehouse.org/internal/session"
)

// ReadyChecker reports backend health for the readiness probe.
type ReadyChecker interface {
	Ping(ctx context.Context) error
}

// Config wires the API's collaborators.
type Config struct {
	Sessions  *session.Service
	Directory *identity.Service
	RBAC      *rbac.Service
	Recorder  *audit.Recorder
	Ready     []ReadyChecker
	Version   string
}

// API is the HTTP layer.
type API struct {
	mux       *http.ServeMux
	sessions  *session.Service
	directory *identity.Service
	rbac      *rbac.Service
	recorder  *audit.Recorder
	ready     []ReadyChecker
	version   string
}

// New builds the API and registers every route.
func New(cfg Config) *API {
	a := &API{
		mux:       http.NewServeMux(),
		sessions:  cfg.Sessions,
		directory: cfg.Directory,
		rbac:      cfg.RBAC,
		recorder:  cfg.Recorder,
		ready:     cfg.Ready,
		version:   cfg.Version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// credential lifecycle
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/otp/request", a.handleOTPRequest)
	a.mux.HandleFunc("/v1/auth/otp/verify", a.handleOTPVerify)
	a.mux.HandleFunc("/v1/auth/totp/verify", a.handleTOTPVerify)

	// directory
	a.mux.HandleFunc("/v1/tenants", a.handleTenants)
	a.mux.HandleFunc("/v1/tenants/", a.handleTenantResource)
	a.mux.HandleFunc("/v1/users", a.handleUsers)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	// rbac
	a.mux.HandleFunc("/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/v1/permissions", a.handlePermissions)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler: metrics, logging, hardening,
// rate limiting and bearer authentication around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RateLimit(h, 20, 10)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- probes ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "gatehouse-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	for _, probe := range a.ready {
		if err := probe.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "gatehouse-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleError maps the core error taxonomy to HTTP statuses. Replay reads as
// 401 like any other dead credential; the containment already happened inside
// the session service.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrTokenExpired),
		errors.Is(err, identity.ErrReplayDetected):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, identity.ErrInactive),
		errors.Is(err, identity.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, identity.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrRateLimited):
		writeError(w, r, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, identity.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) audit(r *http.Request, action, resourceType, resourceID string, payload map[string]any) {
	if a.recorder == nil {
		return
	}
	actor, _ := PrincipalFromContext(r.Context())
	err := a.recorder.Record(r.Context(), audit.Event{
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Payload:      payload,
		Meta:         requestMeta(r),
	})
	if err != nil {
		// The mutation already committed; the failed trail entry must at
		// least leave a trace of its own.
		obs.LogRequest(map[string]any{
			"ts":         time.Now().UTC().Format(time.RFC3339),
			"level":      "error",
			"msg":        "audit write failed",
			"action":     action,
			"request_id": RequestIDFromContext(r.Context()),
			"error":      err.Error(),
		})
	}
}

func requestMeta(r *http.Request) identity.RequestMeta {
	return identity.RequestMeta{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}
