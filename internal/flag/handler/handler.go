// Package handler exposes the flag API over HTTP. It stays thin: decode,
// validate pagination bounds, delegate to the service, encode.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"flaggate/internal/flag"
	"flaggate/internal/flag/cache"
	dErrors "flaggate/pkg/domainerrors"
	"flaggate/pkg/platform/httputil"
	"flaggate/pkg/requestcontext"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Service is what the handler needs from the orchestration layer.
type Service interface {
	Create(ctx context.Context, f *flag.Flag) (*flag.Flag, error)
	Get(ctx context.Context, key string) (*flag.Flag, error)
	List(ctx context.Context, skip, limit int) ([]flag.Flag, error)
	Update(ctx context.Context, key string, upd flag.Update) (*flag.Flag, error)
	Delete(ctx context.Context, key string) error
	Evaluate(ctx context.Context, key, userID string) (*flag.Evaluation, error)
	Audit(ctx context.Context, key string, limit int) ([]flag.AuditEntry, error)
	RecentAudit(ctx context.Context, limit int) ([]flag.AuditEntry, error)
	CacheStats(ctx context.Context) cache.Stats
	ClearCache(ctx context.Context) bool
}

// Handler wires flag endpoints to the flag service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Register mounts the flag API. admin wraps mutating and cache-admin routes;
// read routes stay open because evaluation is the hot path.
func (h *Handler) Register(r chi.Router, admin func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(admin)
		r.Post("/flags", h.HandleCreate)
		r.Put("/flags/{key}", h.HandleUpdate)
		r.Delete("/flags/{key}", h.HandleDelete)
		r.Get("/cache/stats", h.HandleCacheStats)
		r.Delete("/cache", h.HandleClearCache)
	})

	r.Get("/flags", h.HandleList)
	r.Get("/flags/{key}", h.HandleGet)
	r.Get("/flags/{key}/evaluate", h.HandleEvaluate)
	r.Get("/flags/{key}/audit", h.HandleAudit)
	r.Get("/audit", h.HandleRecentAudit)
}

// HandleCreate handles POST /flags.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createFlagRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	created, err := h.service.Create(ctx, req.toFlag())
	if err != nil {
		h.logError(ctx, "flag create failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

// HandleList handles GET /flags.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	skip, err := queryInt(r, "skip", 0, 0, 1<<30)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultLimit, 1, maxLimit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	flags, err := h.service.List(ctx, skip, limit)
	if err != nil {
		h.logError(ctx, "flag list failed", err)
		httputil.WriteError(w, err)
		return
	}
	if flags == nil {
		flags = []flag.Flag{}
	}
	httputil.WriteJSON(w, http.StatusOK, flags)
}

// HandleGet handles GET /flags/{key}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	f, err := h.service.Get(ctx, chi.URLParam(r, "key"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, f)
}

// HandleUpdate handles PUT /flags/{key}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req updateFlagRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	updated, err := h.service.Update(ctx, chi.URLParam(r, "key"), req.toUpdate())
	if err != nil {
		h.logError(ctx, "flag update failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

// HandleDelete handles DELETE /flags/{key}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.service.Delete(ctx, chi.URLParam(r, "key")); err != nil {
		h.logError(ctx, "flag delete failed", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleEvaluate handles GET /flags/{key}/evaluate.
func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eval, err := h.service.Evaluate(ctx, chi.URLParam(r, "key"), r.URL.Query().Get("user_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, eval)
}

// HandleAudit handles GET /flags/{key}/audit.
func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := queryInt(r, "limit", defaultLimit, 1, maxLimit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.service.Audit(ctx, chi.URLParam(r, "key"), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []flag.AuditEntry{}
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

// HandleRecentAudit handles GET /audit.
func (h *Handler) HandleRecentAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := queryInt(r, "limit", defaultLimit, 1, maxLimit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.service.RecentAudit(ctx, limit)
	if err != nil {
		h.logError(ctx, "recent audit list failed", err)
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []flag.AuditEntry{}
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

// HandleCacheStats handles GET /cache/stats.
func (h *Handler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.service.CacheStats(r.Context()))
}

// HandleClearCache handles DELETE /cache.
func (h *Handler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.service.ClearCache(ctx) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "cache unavailable"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	h.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}

// queryInt parses an integer query parameter with a default and bounds.
func queryInt(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		return 0, dErrors.Newf(dErrors.CodeBadRequest, "%s must be an integer between %d and %d", name, min, max)
	}
	return n, nil
}
