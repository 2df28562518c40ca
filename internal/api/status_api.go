// Package api serves the read-only operator view of the relay: backend
// status and the most recent permanently rejected tokens.
package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-push-relay/internal/backend"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

const (
	defaultFeedbackLimit = 50
	maxFeedbackLimit     = 1000
)

// StatsSource is satisfied by *backend.Registry.
type StatsSource interface {
	Stats() []backend.Stats
	Get(id string) (*backend.Backend, bool)
}

type StatusAPI struct {
	Backends StatsSource
	// Feedback may be nil when no ledger is configured.
	Feedback push.FeedbackStore
	Logger   *slog.Logger
}

func NewStatusAPI(backends StatsSource, feedback push.FeedbackStore, logger *slog.Logger) *StatusAPI {
	return &StatusAPI{
		Backends: backends,
		Feedback: feedback,
		Logger:   logger.With("component", "StatusAPI"),
	}
}

// ListBackends handles GET /api/v1/backends.
func (api *StatusAPI) ListBackends(w http.ResponseWriter, _ *http.Request) {
	response.WriteJSON(w, http.StatusOK, api.Backends.Stats())
}

// GetBackend handles GET /api/v1/backends/{host}/{app}.
func (api *StatusAPI) GetBackend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("host") + "/" + r.PathValue("app")
	b, ok := api.Backends.Get(id)
	if !ok {
		response.WriteJSONError(w, http.StatusNotFound, "unknown backend")
		return
	}
	response.WriteJSON(w, http.StatusOK, b.Stats())
}

// RecentFeedback handles GET /api/v1/feedback?limit=N.
func (api *StatusAPI) RecentFeedback(w http.ResponseWriter, r *http.Request) {
	if api.Feedback == nil {
		response.WriteJSONError(w, http.StatusNotFound, "feedback ledger not configured")
		return
	}

	limit := defaultFeedbackLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxFeedbackLimit {
			response.WriteJSONError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	entries, err := api.Feedback.Recent(r.Context(), limit)
	if err != nil {
		api.Logger.Error("failed to read feedback", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	if user, ok := middleware.GetUserHandleFromContext(r.Context()); ok {
		api.Logger.Info("Feedback read", "user", user, "count", len(entries))
	}
	response.WriteJSON(w, http.StatusOK, entries)
}
