// Package api exposes the fusion engine over HTTP and MCP. The handlers are
// thin: they decode, delegate to fusion and profile, and encode.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/adaptlog"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/event"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/fusion"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/profile"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const maxLogLimit = 1000

// Fuser processes one event.
type Fuser interface {
	Fuse(ctx context.Context, ev event.Event) (fusion.Result, error)
}

// Profiles is the profile surface the handlers need. Implemented by
// profile.Manager.
type Profiles interface {
	Get(ctx context.Context, userID string) (profile.UserProfile, error)
	Upsert(ctx context.Context, d profile.Delta) (profile.UserProfile, bool, error)
	Delete(ctx context.Context, userID string) error
	History(ctx context.Context, userID string) ([]profile.HistoryEntry, error)
	FullHistory(ctx context.Context) ([]profile.UserHistory, error)
}

// LogReader reads the adaptation log. Implemented by adaptlog.StoreRecorder.
type LogReader interface {
	List(f storage.LogFilter) ([]adaptlog.Entry, error)
	Counts() (map[string]int, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping() error
}

// Deps holds the handler dependencies. Log and Store are optional.
type Deps struct {
	Fusion   Fuser
	Profiles Profiles
	Log      LogReader
	Store    Pinger
	// Token protects every route except /health. Profile deletion is only
	// routed when a token is set.
	Token string
}

// NewHandler returns the HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/context", handleContext(deps))
		r.Get("/modalities", handleModalities)

		r.Get("/profile", handleGetProfile(deps))
		r.Get("/profile/{user_id}", handleGetProfile(deps))
		r.Post("/profile", handleUpsertProfile(deps))
		if deps.Token != "" {
			r.Delete("/profile/{user_id}", handleDeleteProfile(deps))
		}

		r.Get("/history/{user_id}", handleHistory(deps))
		r.Get("/full_history", handleFullHistory(deps))

		r.Get("/log", handleListLog(deps))
		r.Get("/log/stats", handleLogStats(deps))
	})
	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store != nil {
			if err := deps.Store.Ping(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
			return
		}
		ev, err := event.Decode(body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		res, err := deps.Fusion.Fuse(r.Context(), ev)
		switch {
		case errors.Is(err, event.ErrMalformed):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusServiceUnavailable, "api_error", "event not processed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleModalities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"modalities": event.Modalities,
		"status":     "Active",
	})
}

func userID(r *http.Request) string {
	if id := chi.URLParam(r, "user_id"); id != "" {
		return id
	}
	return r.URL.Query().Get("user_id")
}

func handleGetProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := userID(r)
		if id == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		p, err := deps.Profiles.Get(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "profile %q not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleUpsertProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var d profile.Delta
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if d.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		p, created, err := deps.Profiles.Upsert(r.Context(), d)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save profile: %v", err)
			return
		}
		status, code := "Profile updated", http.StatusOK
		if created {
			status, code = "Profile created", http.StatusCreated
		}
		writeJSON(w, code, map[string]any{"status": status, "profile": p})
	}
}

func handleDeleteProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "user_id")
		err := deps.Profiles.Delete(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "profile %q not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete profile: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "user_id")
		h, err := deps.Profiles.History(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "profile %q not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, profile.UserHistory{UserID: id, InteractionHistory: h})
	}
}

func handleFullHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := deps.Profiles.FullHistory(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": all})
	}
}

func handleListLog(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Log == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "adaptation log not available")
			return
		}
		q := r.URL.Query()
		f := storage.LogFilter{
			UserID:         q.Get("user_id"),
			Classification: q.Get("classification"),
		}
		if s := q.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			f.Limit = min(n, maxLogLimit)
		}

		entries, err := deps.Log.List(f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read log: %v", err)
			return
		}
		if entries == nil {
			entries = []adaptlog.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleLogStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Log == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "adaptation log not available")
			return
		}
		counts, err := deps.Log.Counts()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count log: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
