package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

//go:embed scripts/adjust_size.lua
var adjustSizeLua string

// Key schema, one key per field:
//
//	positions:{type}:{exchange}:{account}:{base}:{edge}:position_size               int, sats
//	positions:{type}:{exchange}:{account}:{base}:{edge}:initial_entry_timestamp     int, unix ms
//	positions:{type}:{exchange}:{account}:{base}:{edge}:initial_entry_price         int, sats
//	positions:{type}:{exchange}:{account}:{base}:{edge}:initial_entry_position_size int, sats
//	positions:{type}:{exchange}:{account}:{base}:{edge}:initial_entry_quote_asset   string
//	positions:{type}:{exchange}:{account}:{base}:{edge}:initial_quote_invested      int, sats
//	positions:{type}:{exchange}:{account}:{base}:{edge}:edge                        string
//	positions:{type}:{exchange}:{account}:{base}:{edge}:orders                      set of canonical fill JSON
//	positions:{type}:{exchange}:{account}:{base}:{edge}:stop_order_id               string, optional
//	positions:{type}:{exchange}:{account}:{base}:{edge}:oco_order_id                string, optional
const (
	fieldPositionSize             = "position_size"
	fieldInitialEntryTimestamp    = "initial_entry_timestamp"
	fieldInitialEntryPrice        = "initial_entry_price"
	fieldInitialEntryPositionSize = "initial_entry_position_size"
	fieldInitialEntryQuoteAsset   = "initial_entry_quote_asset"
	fieldInitialQuoteInvested     = "initial_quote_invested"
	fieldEdge                     = "edge"
	fieldOrders                   = "orders"
	fieldStopOrderID              = "stop_order_id"
	fieldOCOOrderID               = "oco_order_id"
)

const positionsNamespace = "positions"

// PositionStateStore implements domain.PositionStateStore. Size changes go
// through a server-side script so concurrent fills never lose an update.
type PositionStateStore struct {
	rdb        *redis.Client
	adjustSize *redis.Script
}

// NewPositionStateStore creates a PositionStateStore backed by the given Client.
func NewPositionStateStore(c *Client) *PositionStateStore {
	return &PositionStateStore{
		rdb:        c.Underlying(),
		adjustSize: redis.NewScript(adjustSizeLua),
	}
}

func exchangePrefix(x domain.ExchangeIdentifier) string {
	return strings.Join([]string{positionsNamespace, x.Type, x.Exchange, x.Account}, ":")
}

func positionPrefix(id domain.PositionIdentifier) string {
	return exchangePrefix(id.ExchangeIdentifier) + ":" + id.BaseAsset + ":" + id.Edge.String()
}

func positionKey(id domain.PositionIdentifier, field string) string {
	return positionPrefix(id) + ":" + field
}

// Create writes the initial entry fields, the edge and the initial order set.
// position_size is only written when absent, so a size already raised by
// ApplyFill or AdjustSizeBy is never overwritten.
func (s *PositionStateStore) Create(ctx context.Context, id domain.PositionIdentifier, init domain.PositionInit) error {
	members, err := canonicalMembers(init.Orders)
	if err != nil {
		return fmt.Errorf("redis: create position %s: %w", id, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.SetNX(ctx, positionKey(id, fieldPositionSize), init.PositionSize.Raw(), 0)
	pipe.Set(ctx, positionKey(id, fieldInitialEntryTimestamp), strconv.FormatInt(init.InitialEntryTimestampMs, 10), 0)
	pipe.Set(ctx, positionKey(id, fieldInitialEntryPrice), init.InitialEntryPrice.Raw(), 0)
	pipe.Set(ctx, positionKey(id, fieldInitialEntryPositionSize), init.InitialEntryPositionSize.Raw(), 0)
	pipe.Set(ctx, positionKey(id, fieldInitialEntryQuoteAsset), init.InitialEntryQuoteAsset, 0)
	pipe.Set(ctx, positionKey(id, fieldInitialQuoteInvested), init.InitialQuoteInvested.Raw(), 0)
	pipe.Set(ctx, positionKey(id, fieldEdge), init.Edge.String(), 0)
	if len(members) > 0 {
		pipe.SAdd(ctx, positionKey(id, fieldOrders), members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: create position %s: %w", id, err)
	}
	return nil
}

// GetPositionSize returns zero when no size is stored.
func (s *PositionStateStore) GetPositionSize(ctx context.Context, id domain.PositionIdentifier) (domain.Sats, error) {
	v, err := s.rdb.Get(ctx, positionKey(id, fieldPositionSize)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get position size %s: %w", id, err)
	}
	return domain.ParseRawSats(v)
}

func (s *PositionStateStore) GetInitialEntryPrice(ctx context.Context, id domain.PositionIdentifier) (domain.Sats, error) {
	return s.getSats(ctx, id, fieldInitialEntryPrice)
}

func (s *PositionStateStore) GetInitialEntryPositionSize(ctx context.Context, id domain.PositionIdentifier) (domain.Sats, error) {
	return s.getSats(ctx, id, fieldInitialEntryPositionSize)
}

func (s *PositionStateStore) GetInitialQuoteInvested(ctx context.Context, id domain.PositionIdentifier) (domain.Sats, error) {
	return s.getSats(ctx, id, fieldInitialQuoteInvested)
}

func (s *PositionStateStore) GetInitialEntryQuoteAsset(ctx context.Context, id domain.PositionIdentifier) (string, error) {
	return s.getRequired(ctx, id, fieldInitialEntryQuoteAsset)
}

func (s *PositionStateStore) GetInitialEntryTimestampMs(ctx context.Context, id domain.PositionIdentifier) (int64, error) {
	v, err := s.getRequired(ctx, id, fieldInitialEntryTimestamp)
	if err != nil {
		return 0, err
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse %s for %s: %w", fieldInitialEntryTimestamp, id, err)
	}
	return ts, nil
}

func (s *PositionStateStore) GetEdge(ctx context.Context, id domain.PositionIdentifier) (domain.Edge, error) {
	v, err := s.getRequired(ctx, id, fieldEdge)
	if err != nil {
		return domain.Edge{}, err
	}
	return domain.ParseEdge(v)
}

// GetState reads every field in one round trip. Missing required fields fail
// with domain.ErrFieldMissing; the exit order ids are optional.
func (s *PositionStateStore) GetState(ctx context.Context, id domain.PositionIdentifier) (domain.PositionState, error) {
	fields := []string{
		fieldPositionSize,
		fieldInitialEntryTimestamp,
		fieldInitialEntryPrice,
		fieldInitialEntryPositionSize,
		fieldInitialEntryQuoteAsset,
		fieldInitialQuoteInvested,
		fieldEdge,
		fieldStopOrderID,
		fieldOCOOrderID,
	}
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = positionKey(id, f)
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return domain.PositionState{}, fmt.Errorf("redis: get position state %s: %w", id, err)
	}

	got := make(map[string]string, len(fields))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			got[fields[i]] = str
		}
	}
	for _, f := range fields[:7] {
		if _, ok := got[f]; !ok {
			return domain.PositionState{}, fmt.Errorf("redis: %s for %s: %w", f, id, domain.ErrFieldMissing)
		}
	}

	var st domain.PositionState
	parse := func(field string, dst *domain.Sats) {
		if err != nil {
			return
		}
		*dst, err = domain.ParseRawSats(got[field])
	}
	parse(fieldPositionSize, &st.PositionSize)
	parse(fieldInitialEntryPrice, &st.InitialEntryPrice)
	parse(fieldInitialEntryPositionSize, &st.InitialEntryPositionSize)
	parse(fieldInitialQuoteInvested, &st.InitialQuoteInvested)
	if err != nil {
		return domain.PositionState{}, fmt.Errorf("redis: get position state %s: %w", id, err)
	}
	if st.InitialEntryTimestampMs, err = strconv.ParseInt(got[fieldInitialEntryTimestamp], 10, 64); err != nil {
		return domain.PositionState{}, fmt.Errorf("redis: parse %s for %s: %w", fieldInitialEntryTimestamp, id, err)
	}
	if st.Edge, err = domain.ParseEdge(got[fieldEdge]); err != nil {
		return domain.PositionState{}, fmt.Errorf("redis: get position state %s: %w", id, err)
	}
	st.InitialEntryQuoteAsset = got[fieldInitialEntryQuoteAsset]
	st.StopOrderID = got[fieldStopOrderID]
	st.OCOOrderID = got[fieldOCOOrderID]
	return st, nil
}

// GetOrders returns every fill recorded against the position, in no
// particular order.
func (s *PositionStateStore) GetOrders(ctx context.Context, id domain.PositionIdentifier) ([]domain.GenericOrderFill, error) {
	members, err := s.rdb.SMembers(ctx, positionKey(id, fieldOrders)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get orders %s: %w", id, err)
	}
	fills := make([]domain.GenericOrderFill, 0, len(members))
	for _, m := range members {
		var f domain.GenericOrderFill
		if err := json.Unmarshal([]byte(m), &f); err != nil {
			return nil, fmt.Errorf("redis: decode order for %s: %w", id, err)
		}
		fills = append(fills, f)
	}
	return fills, nil
}

func (s *PositionStateStore) AdjustSizeBy(ctx context.Context, id domain.PositionIdentifier, delta domain.Sats) (domain.Sats, bool, error) {
	res, err := s.runAdjust(ctx, []string{positionKey(id, fieldPositionSize)}, int64(delta))
	if err != nil {
		return 0, false, fmt.Errorf("redis: adjust size %s by %s: %w", id, delta, err)
	}
	return res.Size, res.Floored, nil
}

// ApplyFill records fill and moves the size by delta in one script run, so
// a fill is never marked as seen without its size change.
func (s *PositionStateStore) ApplyFill(ctx context.Context, id domain.PositionIdentifier, fill domain.GenericOrderFill, delta domain.Sats) (domain.FillApplied, error) {
	member, err := domain.CanonicalJSON(fill)
	if err != nil {
		return domain.FillApplied{}, fmt.Errorf("redis: apply fill %s to %s: %w", fill.OrderID, id, err)
	}
	keys := []string{positionKey(id, fieldPositionSize), positionKey(id, fieldOrders)}
	res, err := s.runAdjust(ctx, keys, int64(delta), string(member))
	if err != nil {
		return domain.FillApplied{}, fmt.Errorf("redis: apply fill %s to %s: %w", fill.OrderID, id, err)
	}
	return res, nil
}

func (s *PositionStateStore) runAdjust(ctx context.Context, keys []string, args ...any) (domain.FillApplied, error) {
	res, err := s.adjustSize.Run(ctx, s.rdb, keys, args...).Slice()
	if err != nil {
		return domain.FillApplied{}, err
	}
	if len(res) != 3 {
		return domain.FillApplied{}, fmt.Errorf("unexpected result length %d", len(res))
	}
	raw, ok := res[1].(string)
	if !ok {
		return domain.FillApplied{}, fmt.Errorf("unexpected result type %T", res[1])
	}
	size, err := domain.ParseRawSats(raw)
	if err != nil {
		return domain.FillApplied{}, err
	}
	added, _ := res[0].(int64)
	floored, _ := res[2].(int64)
	return domain.FillApplied{Added: added == 1, Size: size, Floored: floored == 1}, nil
}

func (s *PositionStateStore) AddOrders(ctx context.Context, id domain.PositionIdentifier, fills []domain.GenericOrderFill) (int, error) {
	if len(fills) == 0 {
		return 0, nil
	}
	members, err := canonicalMembers(fills)
	if err != nil {
		return 0, fmt.Errorf("redis: add orders %s: %w", id, err)
	}
	n, err := s.rdb.SAdd(ctx, positionKey(id, fieldOrders), members...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: add orders %s: %w", id, err)
	}
	return int(n), nil
}

func (s *PositionStateStore) SetStopOrderID(ctx context.Context, id domain.PositionIdentifier, orderID string) error {
	if err := s.rdb.Set(ctx, positionKey(id, fieldStopOrderID), orderID, 0).Err(); err != nil {
		return fmt.Errorf("redis: set stop order id %s: %w", id, err)
	}
	return nil
}

// GetStopOrderID returns domain.ErrNotFound when no stop order is recorded.
func (s *PositionStateStore) GetStopOrderID(ctx context.Context, id domain.PositionIdentifier) (string, error) {
	return s.getOptional(ctx, id, fieldStopOrderID)
}

func (s *PositionStateStore) SetOCOOrderID(ctx context.Context, id domain.PositionIdentifier, orderListID string) error {
	if err := s.rdb.Set(ctx, positionKey(id, fieldOCOOrderID), orderListID, 0).Err(); err != nil {
		return fmt.Errorf("redis: set oco order id %s: %w", id, err)
	}
	return nil
}

// GetOCOOrderID returns domain.ErrNotFound when no OCO order is recorded.
func (s *PositionStateStore) GetOCOOrderID(ctx context.Context, id domain.PositionIdentifier) (string, error) {
	return s.getOptional(ctx, id, fieldOCOOrderID)
}

func (s *PositionStateStore) ClearOCOOrderID(ctx context.Context, id domain.PositionIdentifier) error {
	if err := s.rdb.Del(ctx, positionKey(id, fieldOCOOrderID)).Err(); err != nil {
		return fmt.Errorf("redis: clear oco order id %s: %w", id, err)
	}
	return nil
}

// ListOpen enumerates identifiers on the exchange whose stored size is
// above zero. A record left at zero by an unfinished close is not open.
func (s *PositionStateStore) ListOpen(ctx context.Context, exchange domain.ExchangeIdentifier) ([]domain.PositionIdentifier, error) {
	match := exchangePrefix(exchange) + ":*:" + fieldPositionSize

	var (
		keys []string
		ids  []domain.PositionIdentifier
	)
	iter := s.rdb.Scan(ctx, 0, match, 200).Iterator()
	for iter.Next(ctx) {
		id, ok := parsePositionKey(iter.Val())
		if !ok {
			continue
		}
		keys = append(keys, iter.Val())
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: list open positions %s: %w", exchange, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list open positions %s: %w", exchange, err)
	}
	open := ids[:0]
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		size, err := domain.ParseRawSats(str)
		if err != nil || size <= 0 {
			continue
		}
		open = append(open, ids[i])
	}
	return open, nil
}

// Delete removes every key in the identifier's key group.
func (s *PositionStateStore) Delete(ctx context.Context, id domain.PositionIdentifier) error {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, positionPrefix(id)+":*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis: delete position %s: scan: %w", id, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: delete position %s: %w", id, err)
	}
	return nil
}

func (s *PositionStateStore) getRequired(ctx context.Context, id domain.PositionIdentifier, field string) (string, error) {
	v, err := s.rdb.Get(ctx, positionKey(id, field)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("redis: %s for %s: %w", field, id, domain.ErrFieldMissing)
	}
	if err != nil {
		return "", fmt.Errorf("redis: get %s for %s: %w", field, id, err)
	}
	return v, nil
}

func (s *PositionStateStore) getOptional(ctx context.Context, id domain.PositionIdentifier, field string) (string, error) {
	v, err := s.rdb.Get(ctx, positionKey(id, field)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis: get %s for %s: %w", field, id, err)
	}
	return v, nil
}

func (s *PositionStateStore) getSats(ctx context.Context, id domain.PositionIdentifier, field string) (domain.Sats, error) {
	v, err := s.getRequired(ctx, id, field)
	if err != nil {
		return 0, err
	}
	return domain.ParseRawSats(v)
}

// parsePositionKey reverses positionKey for a position_size key.
func parsePositionKey(key string) (domain.PositionIdentifier, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 7 || parts[0] != positionsNamespace || parts[6] != fieldPositionSize {
		return domain.PositionIdentifier{}, false
	}
	edge, err := domain.ParseEdge(parts[5])
	if err != nil {
		return domain.PositionIdentifier{}, false
	}
	return domain.PositionIdentifier{
		ExchangeIdentifier: domain.ExchangeIdentifier{Type: parts[1], Exchange: parts[2], Account: parts[3]},
		Edge:               edge,
		BaseAsset:          parts[4],
	}, true
}

func canonicalMembers(fills []domain.GenericOrderFill) ([]any, error) {
	members := make([]any, 0, len(fills))
	for _, f := range fills {
		b, err := domain.CanonicalJSON(f)
		if err != nil {
			return nil, err
		}
		members = append(members, string(b))
	}
	return members, nil
}

// Compile-time interface check.
var _ domain.PositionStateStore = (*PositionStateStore)(nil)
