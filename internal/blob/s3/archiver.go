package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// HistorySource is the part of the history store the archiver reads.
type HistorySource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ClosedPosition, error)
}

// Archiver implements domain.Archiver. It uploads closed-position history
// as JSONL and leaves the rows in place; pruning is the caller's decision
// once the upload has succeeded.
type Archiver struct {
	writer  domain.BlobWriter
	stat    domain.BlobStat
	history HistorySource
	audit   domain.AuditStore
	// MultipartThreshold switches to multipart upload above this many bytes.
	MultipartThreshold int
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver builds an Archiver. stat and audit may be nil.
func NewArchiver(writer domain.BlobWriter, stat domain.BlobStat, history HistorySource, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer:             writer,
		stat:               stat,
		history:            history,
		audit:              audit,
		MultipartThreshold: 64 * 1024 * 1024,
	}
}

// ArchivePositionHistory uploads every closed position recorded before the
// cutoff and returns how many were archived.
func (a *Archiver) ArchivePositionHistory(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.history.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive position history query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive position history marshal: %w", err)
	}

	path, err := a.freePath(ctx, "position_history", before)
	if err != nil {
		return 0, err
	}
	if len(buf) > a.MultipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive position history upload: %w", err)
	}

	count := int64(len(rows))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.position_history", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive position history audit log: %w", err)
		}
	}
	return count, nil
}

// freePath returns the first archive key for the cutoff that is not taken.
func (a *Archiver) freePath(ctx context.Context, kind string, before time.Time) (string, error) {
	path := archivePath(kind, before, 0)
	if a.stat == nil {
		return path, nil
	}
	for n := 1; n < 100; n++ {
		exists, err := a.stat.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: stat %s: %w", path, err)
		}
		if !exists {
			return path, nil
		}
		path = archivePath(kind, before, n)
	}
	return "", fmt.Errorf("s3blob: no free archive path for %s at %s", kind, before.Format(time.RFC3339))
}

// archivePath partitions by month of the cutoff:
//
//	archive/position_history/2025-01/2025-01-31T000000Z.jsonl
//	archive/position_history/2025-01/2025-01-31T000000Z.1.jsonl
func archivePath(kind string, before time.Time, n int) string {
	before = before.UTC()
	stamp := before.Format("2006-01-02T150405Z")
	if n > 0 {
		stamp = fmt.Sprintf("%s.%d", stamp, n)
	}
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, before.Format("2006-01"), stamp)
}

// marshalJSONL writes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
