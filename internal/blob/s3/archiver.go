package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/domain"
)

// TradeHistory is the slice of domain.TradeStore the archiver reads.
type TradeHistory interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]domain.TradeRecord, error)
}

// AuditLog is the audit store as the archiver uses it: the day's entries
// are snapshotted and the run itself is logged.
type AuditLog interface {
	domain.AuditStore
	ListBetween(ctx context.Context, from, to time.Time) ([]domain.AuditEntry, error)
}

// Archiver implements domain.Archiver: it copies one trading day of trade
// records to archive/trades/YYYY/MM/DD.jsonl and the day's audit entries to
// archive/audit/YYYY/MM/DD.jsonl. Rows stay in the database; re-running a
// day overwrites the objects.
type Archiver struct {
	writer domain.BlobWriter
	trades TradeHistory
	audit  AuditLog
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, trades TradeHistory, audit AuditLog) *Archiver {
	return &Archiver{writer: writer, trades: trades, audit: audit}
}

// ArchiveTrades uploads the trades of the Shanghai trading day containing
// day and returns how many were written. An empty day uploads nothing.
func (a *Archiver) ArchiveTrades(ctx context.Context, day time.Time) (int64, error) {
	from := domain.TradingDay(day)
	to := from.AddDate(0, 0, 1)

	recs, err := a.trades.ListBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}
	path := archivePath("trades", from)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	count := int64(len(recs))
	if a.audit == nil {
		return count, nil
	}
	entries, err := a.archiveAudit(ctx, from, to)
	if err != nil {
		return count, err
	}
	if err := a.audit.Log(ctx, "archive.trades", map[string]any{
		"path":          path,
		"count":         count,
		"audit_entries": entries,
		"day":           from.Format("2006-01-02"),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
	}
	return count, nil
}

func (a *Archiver) archiveAudit(ctx context.Context, from, to time.Time) (int, error) {
	entries, err := a.audit.ListBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}
	if err := a.writer.Put(ctx, archivePath("audit", from), bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}
	return len(entries), nil
}

//	archive/trades/2026/10/19.jsonl
func archivePath(kind string, day time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, day.Format("2006/01/02"))
}

// marshalJSONL writes one compact JSON object per line.
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

var _ domain.Archiver = (*Archiver)(nil)
