package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// archiveBatchSize caps how many rows a single archive upload covers. The
// event tables grow unbounded; paging keeps memory flat.
const archiveBatchSize = 50_000

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only needs the time-ranged list methods, not the full
// domain.EventStore. The Postgres event store satisfies these implicitly.
// ---------------------------------------------------------------------------

// FillArchiveStore provides read access to aged fill events.
type FillArchiveStore interface {
	ListFillsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.FillEvent, error)
}

// TransferArchiveStore provides read access to aged transfer events.
type TransferArchiveStore interface {
	ListTransfersBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TransferEvent, error)
}

// ArchiveImpl implements domain.Archiver by querying the event store for
// rows older than the cutoff, serializing them to JSONL, and uploading the
// result to S3.
//
// Deletion of the archived rows from the primary store is intentionally
// NOT performed here -- that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	fills     FillArchiveStore
	transfers TransferArchiveStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, fills FillArchiveStore, transfers TransferArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		fills:     fills,
		transfers: transfers,
	}
}

// ArchiveFills queries fill events older than the cutoff, serializes them to
// JSONL, and uploads the file to S3 at archive/fills/YYYY-MM.jsonl. It
// returns the number of archived rows.
func (a *ArchiveImpl) ArchiveFills(ctx context.Context, before time.Time) (int64, error) {
	fills, err := a.fills.ListFillsBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills query: %w", err)
	}
	if len(fills) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(fills)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills marshal: %w", err)
	}

	path := archivePath("fills", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive fills upload: %w", err)
	}

	return int64(len(fills)), nil
}

// ArchiveTransfers queries transfer events older than the cutoff, serializes
// them to JSONL, and uploads the file to S3 at
// archive/transfers/YYYY-MM.jsonl. It returns the number of archived rows.
func (a *ArchiveImpl) ArchiveTransfers(ctx context.Context, before time.Time) (int64, error) {
	transfers, err := a.transfers.ListTransfersBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transfers query: %w", err)
	}
	if len(transfers) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(transfers)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transfers marshal: %w", err)
	}

	path := archivePath("transfers", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive transfers upload: %w", err)
	}

	return int64(len(transfers)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/fills/2026-01.jsonl
//	archive/transfers/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
