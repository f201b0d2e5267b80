// Package httpapi exposes a health check and read-only record endpoints
// over HTTP for operators and tooling.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/motiumsync/internal/common"
	"github.com/dmitrijs2005/motiumsync/internal/logging"
	"github.com/dmitrijs2005/motiumsync/internal/rpc"
	"github.com/dmitrijs2005/motiumsync/internal/server/auth"
	"github.com/dmitrijs2005/motiumsync/internal/server/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Store is the read side of the record service.
type Store interface {
	Fetch(ctx context.Context, userID, kind, id string) (*models.Record, error)
	Changes(ctx context.Context, userID string, since time.Time) ([]*models.Record, error)
	Ping(ctx context.Context) error
}

type ctxKey struct{}

type handler struct {
	store  Store
	secret []byte
	logger logging.Logger
}

// NewRouter wires the routes:
//
//	GET /healthz                  database reachability, no auth
//	GET /v1/records?since=RFC3339 records changed after since
//	GET /v1/records/{kind}/{id}   one record, tombstones included
//
// Record routes take "Authorization: Bearer <jwt>".
func NewRouter(store Store, secretKey string, l logging.Logger) http.Handler {
	h := &handler{store: store, secret: []byte(secretKey), logger: l.With("module", "http_api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Route("/v1/records", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Get("/", h.changes)
		r.Get("/{kind}/{id}", h.fetch)
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn(r.Context(), "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || tok == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, err := auth.GetUserIDFromToken(tok, h.secret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func (h *handler) fetch(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Fetch(r.Context(), userID(r), chi.URLParam(r, "kind"), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Snapshot())
}

func (h *handler) changes(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}

	recs, err := h.store.Changes(r.Context(), userID(r), since)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]rpc.Snapshot, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, common.ErrUnknownKind), errors.Is(err, common.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
