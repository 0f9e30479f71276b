package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/propgate/propsim/internal/domain"
)

// HistoryArchiveStore is the narrow read surface the archiver needs from the
// order-history store.
type HistoryArchiveStore interface {
	// ListBefore returns finished entries with a close time strictly before
	// the cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.OrderHistoryEntry, error)
}

// AuditArchiveStore is the narrow read surface the archiver needs from the
// audit log.
type AuditArchiveStore interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// Archiver serializes finished order-history entries and audit records to
// JSONL and uploads them to blob storage. Deleting archived rows from the
// primary store is intentionally a separate, explicit step taken after the
// archive has been verified.
type Archiver struct {
	writer  domain.BlobWriter
	history HistoryArchiveStore
	audit   AuditArchiveStore
	auditor domain.AuditStore
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, history HistoryArchiveStore, audit AuditArchiveStore, auditor domain.AuditStore) *Archiver {
	return &Archiver{
		writer:  writer,
		history: history,
		audit:   audit,
		auditor: auditor,
	}
}

// ArchiveHistory uploads all finished order-history entries closed before the
// cutoff to archive/order_history/YYYY-MM.jsonl and returns the record count.
func (a *Archiver) ArchiveHistory(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.history.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive history query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive history marshal: %w", err)
	}

	path := archivePath("order_history", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive history upload: %w", err)
	}

	count := int64(len(entries))
	if err := a.auditor.Log(ctx, "archive.order_history", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive history audit log: %w", err)
	}
	return count, nil
}

// ArchiveAudit uploads audit records created before the cutoff to
// archive/audit/YYYY-MM.jsonl and returns the record count.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	return int64(len(records)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
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
