package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// archivePageSize is how many journal rows are read per query.
const archivePageSize = 500

// ObjectChecker reports whether an object exists. Reader implements it.
type ObjectChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// ArchiveImpl implements domain.Archiver. It copies closed trades older than
// the cutoff into one JSONL object, confirms the object landed and only then
// prunes them from the journal.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	checker ObjectChecker
	journal domain.TradeJournal
	prefix  string
}

// NewArchiver creates a new ArchiveImpl writing under prefix (default
// "archive/trades"). checker may be nil to skip the post-upload existence
// check.
func NewArchiver(writer domain.BlobWriter, checker ObjectChecker, journal domain.TradeJournal, prefix string) *ArchiveImpl {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "archive/trades"
	}
	return &ArchiveImpl{writer: writer, checker: checker, journal: journal, prefix: prefix}
}

// ArchiveTrades uploads every trade closed before the cutoff to
// <prefix>/YYYY-MM/<cutoff>.jsonl and deletes them from the journal.
// It returns the number of trades removed.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.collect(ctx, before)
	if err != nil {
		return 0, err
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath(a.prefix, before)
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	if a.checker != nil {
		ok, err := a.checker.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive trades verify: %w", err)
		}
		if !ok {
			return 0, fmt.Errorf("s3blob: archive trades verify %s: %w", path, domain.ErrNotFound)
		}
	}

	n, err := a.journal.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades prune: %w", err)
	}
	return n, nil
}

// collect pages through the journal for trades closed strictly before the
// cutoff.
func (a *ArchiveImpl) collect(ctx context.Context, before time.Time) ([]domain.ClosedTrade, error) {
	until := before.Add(-time.Microsecond)
	var out []domain.ClosedTrade
	for offset := 0; ; offset += archivePageSize {
		page, err := a.journal.List(ctx, domain.ListOpts{
			Limit:  archivePageSize,
			Offset: offset,
			Until:  &until,
		})
		if err != nil {
			return nil, fmt.Errorf("s3blob: archive trades query: %w", err)
		}
		out = append(out, page...)
		if len(page) < archivePageSize {
			return out, nil
		}
	}
}

// archivePath builds the object key, partitioned by the month of the cutoff:
//
//	archive/trades/2025-01/20250115T000000Z.jsonl
func archivePath(prefix string, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("%s/%s/%s.jsonl", prefix, before.Format("2006-01"), before.Format("20060102T150405Z"))
}

// marshalJSONL writes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := sonic.ConfigStd.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
