package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gitpan/Authen-Simple-IMAP/internal/authen"
	"github.com/gitpan/Authen-Simple-IMAP/internal/config"
	"github.com/gitpan/Authen-Simple-IMAP/internal/middleware"
	"github.com/gitpan/Authen-Simple-IMAP/internal/rate"
	"github.com/gitpan/Authen-Simple-IMAP/internal/service"
	"github.com/gitpan/Authen-Simple-IMAP/internal/store"
	"github.com/gitpan/Authen-Simple-IMAP/internal/util"
	"github.com/gitpan/Authen-Simple-IMAP/internal/version"
)

type Handlers struct {
	cfg     config.Config
	svc     *service.Service
	limiter *rate.Limiter
	log     authen.Logger
}

const maxAuthBodyBytes = 8 << 10

// NewRouter wires the HTTP surface. gatherer backs /metrics; nil means the
// default Prometheus registry.
func NewRouter(cfg config.Config, svc *service.Service, log authen.Logger, gatherer prometheus.Gatherer) http.Handler {
	h := &Handlers{
		cfg:     cfg,
		svc:     svc,
		limiter: rate.NewLimiter(),
		log:     authen.OrDiscard(log),
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger(h.log, cfg.TrustProxy))
	r.Use(middleware.SecurityHeaders)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Token", "X-Request-ID"},
		}))
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, 200, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", h.Ready)
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, 200, version.Current())
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.BearerToken(cfg.APIToken))
		r.Post("/authenticate", h.Authenticate)
		r.Get("/auth", h.BasicAuth)
		r.With(middleware.RateLimit(h.limiter, "attempts", 60, time.Minute, cfg.TrustProxy)).Get("/attempts", h.ListAttempts)
		r.With(middleware.RateLimit(h.limiter, "attempts", 60, time.Minute, cfg.TrustProxy)).Get("/attempts/{id}", h.GetAttempt)
	})
	return r
}

type authenticateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authenticateResponse struct {
	Authenticated bool   `json:"authenticated"`
	RequestID     string `json:"request_id,omitempty"`
}

func (h *Handlers) Authenticate(w http.ResponseWriter, r *http.Request) {
	rid := middleware.RequestID(r.Context())
	var req authenticateRequest
	if err := util.DecodeJSON(r, &req, maxAuthBodyBytes); err != nil {
		util.WriteError(w, http.StatusBadRequest, "bad_request", "invalid json body", rid)
		return
	}
	ok, err := h.svc.Authenticate(r.Context(), service.AuthRequest{
		Username:  req.Username,
		Password:  req.Password,
		RemoteIP:  middleware.ClientIP(r, h.cfg.TrustProxy),
		RequestID: rid,
	})
	if err != nil {
		h.writeServiceError(w, err, rid)
		return
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusUnauthorized
	}
	util.WriteJSON(w, status, authenticateResponse{Authenticated: ok, RequestID: rid})
}

// BasicAuth answers nginx auth_request style subrequests: credentials come
// from the Authorization header and the verdict is the status code alone.
func (h *Handlers) BasicAuth(w http.ResponseWriter, r *http.Request) {
	rid := middleware.RequestID(r.Context())
	user, pass, found := r.BasicAuth()
	if !found {
		w.Header().Set("WWW-Authenticate", `Basic realm="imap", charset="UTF-8"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	ok, err := h.svc.Authenticate(r.Context(), service.AuthRequest{
		Username:  user,
		Password:  pass,
		RemoteIP:  middleware.ClientIP(r, h.cfg.TrustProxy),
		RequestID: rid,
	})
	if err != nil {
		h.writeServiceError(w, err, rid)
		return
	}
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="imap", charset="UTF-8"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("X-Auth-User", user)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListAttempts(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	items, err := h.svc.RecentAttempts(r.Context(), limit, offset)
	if err != nil {
		h.log.Error("list attempts failed", "error", err)
		util.WriteError(w, http.StatusInternalServerError, "internal_error", "cannot list attempts", middleware.RequestID(r.Context()))
		return
	}
	util.WriteJSON(w, 200, map[string]any{"items": items, "limit": limit, "offset": offset})
}

func (h *Handlers) GetAttempt(w http.ResponseWriter, r *http.Request) {
	rid := middleware.RequestID(r.Context())
	a, err := h.svc.Attempt(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		util.WriteError(w, http.StatusNotFound, "not_found", "attempt not found", rid)
		return
	}
	if err != nil {
		h.log.Error("get attempt failed", "error", err)
		util.WriteError(w, http.StatusInternalServerError, "internal_error", "cannot load attempt", rid)
		return
	}
	util.WriteJSON(w, 200, a)
}

func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ready := map[string]any{
		"checked_at": time.Now().UTC().Format(time.RFC3339),
	}
	comps := map[string]any{}
	ready["components"] = comps

	healthy := true
	if err := h.svc.Ping(r.Context()); err != nil {
		healthy = false
		comps["audit_db"] = map[string]any{"ok": false, "error": err.Error()}
	} else {
		comps["audit_db"] = map[string]any{"ok": true}
	}
	if err := h.svc.Reachable(r.Context()); err != nil {
		healthy = false
		comps["imap"] = map[string]any{"ok": false, "error": err.Error()}
	} else {
		comps["imap"] = map[string]any{"ok": true}
	}

	if healthy {
		ready["status"] = "ready"
		util.WriteJSON(w, 200, ready)
		return
	}
	ready["status"] = "degraded"
	util.WriteJSON(w, 503, ready)
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, err error, rid string) {
	switch {
	case errors.Is(err, service.ErrRateLimited):
		retry := 60
		var rl *service.RateLimitError
		if errors.As(err, &rl) {
			retry = int(math.Ceil(rl.RetryAfter.Seconds()))
		}
		w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
		util.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many authentication attempts", rid)
	case errors.Is(err, service.ErrVerifierDown):
		h.log.Error("imap verifier unavailable", "error", err, "request_id", rid)
		util.WriteError(w, http.StatusServiceUnavailable, "verifier_unavailable", "imap server unavailable", rid)
	default:
		h.log.Error("authentication failed with error", "error", err, "request_id", rid)
		util.WriteError(w, http.StatusInternalServerError, "internal_error", "authentication error", rid)
	}
}

func parsePagination(r *http.Request) (int, int) {
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
