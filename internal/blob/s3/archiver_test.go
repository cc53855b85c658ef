package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

type fakeWriter struct {
	path        string
	contentType string
	data        []byte
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	w.path = path
	w.contentType = contentType
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.data = b
	return nil
}

type fakeEventLister struct {
	fills     []domain.FillEvent
	transfers []domain.TransferEvent
}

func (f *fakeEventLister) ListFillsBefore(_ context.Context, _ time.Time, _ int) ([]domain.FillEvent, error) {
	return f.fills, nil
}

func (f *fakeEventLister) ListTransfersBefore(_ context.Context, _ time.Time, _ int) ([]domain.TransferEvent, error) {
	return f.transfers, nil
}

func TestArchiveFills(t *testing.T) {
	writer := &fakeWriter{}
	lister := &fakeEventLister{fills: []domain.FillEvent{
		{OrderID: "0xa", Price: big.NewInt(100)},
		{OrderID: "0xb", Price: big.NewInt(200)},
	}}
	a := NewArchiver(writer, lister, lister)

	cutoff := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveFills(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveFills: %v", err)
	}
	if n != 2 {
		t.Fatalf("archived = %d, want 2", n)
	}
	if writer.path != "archive/fills/2026-05.jsonl" {
		t.Fatalf("path = %s", writer.path)
	}
	if writer.contentType != "application/x-ndjson" {
		t.Fatalf("content type = %s", writer.contentType)
	}

	lines := bytes.Split(bytes.TrimRight(writer.data, "\n"), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("jsonl lines = %d, want 2", len(lines))
	}
	var first domain.FillEvent
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if first.OrderID != "0xa" {
		t.Fatalf("first line order id = %s", first.OrderID)
	}
}

func TestArchiveFillsSkipsEmptyUpload(t *testing.T) {
	writer := &fakeWriter{}
	a := NewArchiver(writer, &fakeEventLister{}, &fakeEventLister{})

	n, err := a.ArchiveFills(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchiveFills: %v", err)
	}
	if n != 0 {
		t.Fatalf("archived = %d, want 0", n)
	}
	if writer.path != "" {
		t.Fatalf("empty set must not upload, wrote %s", writer.path)
	}
}

func TestArchiveTransfers(t *testing.T) {
	writer := &fakeWriter{}
	lister := &fakeEventLister{transfers: []domain.TransferEvent{
		{Contract: "0xnft", TokenID: "1", Amount: big.NewInt(1)},
	}}
	a := NewArchiver(writer, lister, lister)

	cutoff := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveTransfers(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveTransfers: %v", err)
	}
	if n != 1 {
		t.Fatalf("archived = %d, want 1", n)
	}
	if writer.path != "archive/transfers/2026-07.jsonl" {
		t.Fatalf("path = %s", writer.path)
	}
}
