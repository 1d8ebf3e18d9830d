package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/spotbot/internal/domain"
	"github.com/alanyoungcy/spotbot/internal/service"
)

// PositionReader defines the methods that the position handler requires.
type PositionReader interface {
	ListOpen(ctx context.Context, exchange domain.ExchangeIdentifier) ([]domain.PositionIdentifier, error)
	Describe(ctx context.Context, id domain.PositionIdentifier) (service.PositionView, error)
}

// HistoryReader lists closed positions.
type HistoryReader interface {
	ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ClosedPosition, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionReader
	history   HistoryReader
	exchange  domain.ExchangeIdentifier
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler. history may be nil, in which
// case the history endpoint answers 404.
func NewPositionHandler(positions PositionReader, history HistoryReader, exchange domain.ExchangeIdentifier, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		history:   history,
		exchange:  exchange,
		logger:    logger,
	}
}

type listPositionsResponse struct {
	Positions []service.PositionView `json:"positions"`
}

// ListPositions returns every open position on the configured exchange.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	ids, err := h.positions.ListOpen(r.Context(), h.exchange)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	views := make([]service.PositionView, 0, len(ids))
	for _, id := range ids {
		v, err := h.positions.Describe(r.Context(), id)
		if errors.Is(err, domain.ErrNotFound) {
			// Closed between the scan and the read.
			continue
		}
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: describe position failed",
				slog.String("position", id.String()),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to load position")
			return
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: views})
}

// GetPosition returns one position with its fills.
// GET /api/positions/{edge}/{base}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	edge, err := domain.ParseEdge(r.PathValue("edge"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	base := strings.ToUpper(strings.TrimSpace(r.PathValue("base")))
	if base == "" {
		writeError(w, http.StatusBadRequest, "missing base asset")
		return
	}

	id := domain.PositionIdentifier{ExchangeIdentifier: h.exchange, Edge: edge, BaseAsset: base}
	v, err := h.positions.Describe(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not in position")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.String("position", id.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load position")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type historyResponse struct {
	Closed []domain.ClosedPosition `json:"closed"`
}

// ListHistory returns recently closed positions, newest first.
// GET /api/positions/history?limit=50&offset=0
func (h *PositionHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "position history is not enabled")
		return
	}
	rows, err := h.history.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list history failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list position history")
		return
	}
	if rows == nil {
		rows = []domain.ClosedPosition{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Closed: rows})
}
