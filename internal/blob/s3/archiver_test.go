package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

type memWriter struct {
	objects   map[string][]byte
	multipart []string
	err       error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	w.multipart = append(w.multipart, path)
	return w.Put(ctx, path, data, contentTypeJSONL)
}

func (w *memWriter) Exists(_ context.Context, path string) (bool, error) {
	_, ok := w.objects[path]
	return ok, nil
}

type memHistory struct {
	rows []domain.ClosedPosition
}

func (h *memHistory) ListBefore(_ context.Context, before time.Time) ([]domain.ClosedPosition, error) {
	var out []domain.ClosedPosition
	for _, r := range h.rows {
		if r.CreatedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

type memAudit struct {
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func closedRow(id int64, at time.Time) domain.ClosedPosition {
	return domain.ClosedPosition{
		ID:        id,
		CreatedAt: at,
		Fact: domain.PositionClosed{
			ID: domain.PositionIdentifier{
				ExchangeIdentifier: domain.ExchangeIdentifier{Type: "spot", Exchange: "binance", Account: "default"},
				Edge:               domain.Edge60,
				BaseAsset:          "BTC",
			},
			TradeID: "t-1",
		},
	}
}

func TestArchivePositionHistory(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	w := &memWriter{objects: map[string][]byte{}}
	h := &memHistory{rows: []domain.ClosedPosition{
		closedRow(1, cutoff.Add(-48*time.Hour)),
		closedRow(2, cutoff.Add(-time.Hour)),
		closedRow(3, cutoff.Add(time.Hour)),
	}}
	audit := &memAudit{}

	a := NewArchiver(w, w, h, audit)
	n, err := a.ArchivePositionHistory(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	path := "archive/position_history/2025-01/2025-01-31T000000Z.jsonl"
	require.Contains(t, w.objects, path)
	var ids []int64
	sc := bufio.NewScanner(bytes.NewReader(w.objects[path]))
	for sc.Scan() {
		var row domain.ClosedPosition
		require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
		ids = append(ids, row.ID)
	}
	assert.Equal(t, []int64{1, 2}, ids)
	assert.Equal(t, []string{"archive.position_history"}, audit.events)
	assert.Empty(t, w.multipart)
}

func TestArchivePositionHistoryDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	w := &memWriter{objects: map[string][]byte{
		"archive/position_history/2025-01/2025-01-31T000000Z.jsonl": []byte("old\n"),
	}}
	h := &memHistory{rows: []domain.ClosedPosition{closedRow(1, cutoff.Add(-time.Hour))}}

	a := NewArchiver(w, w, h, nil)
	_, err := a.ArchivePositionHistory(ctx, cutoff)
	require.NoError(t, err)

	assert.Equal(t, []byte("old\n"), w.objects["archive/position_history/2025-01/2025-01-31T000000Z.jsonl"])
	assert.Contains(t, w.objects, "archive/position_history/2025-01/2025-01-31T000000Z.1.jsonl")
}

func TestArchivePositionHistoryNothingToDo(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}}
	a := NewArchiver(w, w, &memHistory{}, nil)

	n, err := a.ArchivePositionHistory(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}

func TestArchivePositionHistoryMultipart(t *testing.T) {
	cutoff := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	w := &memWriter{objects: map[string][]byte{}}
	h := &memHistory{rows: []domain.ClosedPosition{closedRow(1, cutoff.Add(-time.Hour))}}

	a := NewArchiver(w, w, h, nil)
	a.MultipartThreshold = 1
	_, err := a.ArchivePositionHistory(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"archive/position_history/2025-02/2025-02-01T120000Z.jsonl"}, w.multipart)
}

func TestArchivePositionHistoryUploadError(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}, err: errors.New("boom")}
	h := &memHistory{rows: []domain.ClosedPosition{closedRow(1, time.Unix(0, 0))}}
	audit := &memAudit{}

	_, err := NewArchiver(w, w, h, audit).ArchivePositionHistory(context.Background(), time.Now())
	require.Error(t, err)
	assert.Empty(t, audit.events)
}
