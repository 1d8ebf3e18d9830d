package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// PositionHistoryStore keeps one row per closed position. The full fact is
// kept as JSONB; the indexed columns exist for querying and reporting.
type PositionHistoryStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionHistoryStore = (*PositionHistoryStore)(nil)

func NewPositionHistoryStore(pool *pgxpool.Pool) *PositionHistoryStore {
	return &PositionHistoryStore{pool: pool}
}

func msToTime(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

func (s *PositionHistoryStore) Record(ctx context.Context, fact domain.PositionClosed) error {
	factJSON, err := json.Marshal(fact)
	if err != nil {
		return fmt.Errorf("postgres: marshal closed position: %w", err)
	}
	closedAt := time.Now().UTC()
	if t := msToTime(fact.ClosedAtMs); t != nil {
		closedAt = *t
	}

	const query = `
		INSERT INTO position_history (
			position_key, exchange_type, exchange, account, edge, base_asset, quote_asset,
			trade_id, abs_quote_change, percentage_quote_change, opened_at, closed_at, fact
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	x := fact.ID.ExchangeIdentifier
	_, err = s.pool.Exec(ctx, query,
		fact.ID.String(), x.Type, x.Exchange, x.Account, fact.ID.Edge.String(), fact.ID.BaseAsset, fact.QuoteAsset,
		fact.TradeID, fact.AbsQuoteChange.String(), fact.PercentageQuoteChange.String(),
		msToTime(fact.OpenedAtMs), closedAt, factJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: record closed position %s: %w", fact.ID, err)
	}
	return nil
}

// ListRecent returns closed positions newest first.
func (s *PositionHistoryStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ClosedPosition, error) {
	query, args := listQuery(`SELECT id, fact, created_at FROM position_history WHERE 1=1`, "created_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	return scanClosed(rows)
}

// ListBefore returns every row created before the cutoff, oldest first.
func (s *PositionHistoryStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ClosedPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, fact, created_at FROM position_history WHERE created_at < $1 ORDER BY created_at ASC`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions before %s: %w", before.Format(time.RFC3339), err)
	}
	return scanClosed(rows)
}

func (s *PositionHistoryStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM position_history WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune closed positions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanClosed(rows pgx.Rows) ([]domain.ClosedPosition, error) {
	defer rows.Close()
	var out []domain.ClosedPosition
	for rows.Next() {
		var (
			cp       domain.ClosedPosition
			factJSON []byte
		)
		if err := rows.Scan(&cp.ID, &factJSON, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan closed position: %w", err)
		}
		if err := json.Unmarshal(factJSON, &cp.Fact); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal closed position %d: %w", cp.ID, err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: closed position rows: %w", err)
	}
	return out, nil
}
