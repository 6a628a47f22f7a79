package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/apollo-xwb/paysecure/internal/auth"
	pkghttp "github.com/apollo-xwb/paysecure/pkg/http"
)

const (
	defaultAnomalyLimit = 50
	maxAnomalyLimit     = 200
)

// AnomalyFeed reads the device anomaly monitoring feed
type AnomalyFeed interface {
	Recent(ctx context.Context, limit int64) ([]auth.DeviceAnomaly, error)
}

// AnomalyHandler exposes recorded device changes to employee administrators
type AnomalyHandler struct {
	feed   AnomalyFeed
	logger *slog.Logger
}

func NewAnomalyHandler(feed AnomalyFeed, logger *slog.Logger) *AnomalyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnomalyHandler{feed: feed, logger: logger}
}

// AnomaliesResponse lists the newest device anomalies
type AnomaliesResponse struct {
	Anomalies []auth.DeviceAnomaly `json:"anomalies"`
}

// List handles GET /security/device-anomalies?limit=N
func (h *AnomalyHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := int64(defaultAnomalyLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 || n > maxAnomalyLimit {
			pkghttp.WriteBadRequest(w, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	anomalies, err := h.feed.Recent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to read device anomalies", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, AnomaliesResponse{Anomalies: anomalies})
}
