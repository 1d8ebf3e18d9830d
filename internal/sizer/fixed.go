// Package sizer decides how much quote asset to commit to an entry.
package sizer

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// FixedQuote commits a fixed quote amount per edge, falling back to a
// default for edges without an override.
type FixedQuote struct {
	def     decimal.Decimal
	perEdge map[domain.Edge]decimal.Decimal
}

var _ domain.PositionSizer = (*FixedQuote)(nil)

func NewFixedQuote(def decimal.Decimal, perEdge map[domain.Edge]decimal.Decimal) *FixedQuote {
	m := make(map[domain.Edge]decimal.Decimal, len(perEdge))
	for e, v := range perEdge {
		m[e] = v
	}
	return &FixedQuote{def: def, perEdge: m}
}

func (f *FixedQuote) PositionSizeInQuoteAsset(_ context.Context, req domain.SizeRequest) (decimal.Decimal, error) {
	if req.Direction != domain.DirectionLong {
		return decimal.Zero, fmt.Errorf("sizer: %w: %q", domain.ErrInvalidDirection, req.Direction)
	}
	amount, ok := f.perEdge[req.Edge]
	if !ok || !amount.IsPositive() {
		amount = f.def
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("sizer: no positive quote amount configured for %s", req.Edge)
	}
	return amount, nil
}
