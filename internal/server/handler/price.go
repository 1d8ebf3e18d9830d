package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceWriter stores the latest price for a market symbol.
type PriceWriter interface {
	SetPrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error
}

// PriceHandler lets an external feed push prices into the cache the paper
// engine trades against.
type PriceHandler struct {
	prices PriceWriter
	logger *slog.Logger
	now    func() time.Time
}

func NewPriceHandler(prices PriceWriter, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, logger: logger, now: time.Now}
}

type priceUpdate struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	// Milliseconds since epoch; defaults to now.
	TimestampMs int64 `json:"ts,omitempty"`
}

// SetPrices stores a batch of prices.
// POST /api/prices
func (h *PriceHandler) SetPrices(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prices []priceUpdate `json:"prices"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	for _, p := range body.Prices {
		if strings.TrimSpace(p.Symbol) == "" || !p.Price.IsPositive() {
			writeError(w, http.StatusBadRequest, "every price needs a symbol and a positive price")
			return
		}
	}

	for _, p := range body.Prices {
		ts := h.now()
		if p.TimestampMs > 0 {
			ts = time.UnixMilli(p.TimestampMs)
		}
		symbol := strings.ToUpper(strings.TrimSpace(p.Symbol))
		if err := h.prices.SetPrice(r.Context(), symbol, p.Price, ts); err != nil {
			h.logger.ErrorContext(r.Context(), "handler: set price failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to store price")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"stored": len(body.Prices)})
}
